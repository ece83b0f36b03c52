package pcap

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"SpectraIDS/internal/engine/protocol"
	"SpectraIDS/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// ErrDecode is returned when a trace cannot be decoded.
var ErrDecode = errors.New("pcap: cannot decode trace")

// pcapngMagic is the block type of a pcapng section header.
const pcapngMagic = 0x0A0D0D0A

// Reader reads packets from a classic pcap or pcapng stream.
type Reader struct {
	source *gopacket.PacketSource
	closer io.Closer
}

// NewReader opens the pcap file at filePath.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	r, err := FromReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// FromReader decodes a trace from an arbitrary stream. The format is detected
// from the leading magic number.
func FromReader(in io.Reader) (*Reader, error) {
	br := bufio.NewReader(in)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrDecode, err)
	}

	var data gopacket.PacketDataSource
	var linkType gopacket.Decoder
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		data, linkType = ng, ng.LinkType()
	} else {
		classic, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		data, linkType = classic, classic.LinkType()
	}

	source := gopacket.NewPacketSource(data, linkType)
	source.Lazy = true
	source.NoCopy = true
	return &Reader{source: source}, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Next returns the next parsed packet, or io.EOF once the trace is exhausted.
// A truncated final record also ends the trace.
func (r *Reader) Next() (*model.PacketInfo, error) {
	packet, err := r.source.NextPacket()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return protocol.ParsePacket(packet), nil
}

// ReadPackets reads all packets and sends the parsed PacketInfo to out. It
// closes out when done and returns the first decode error, if any.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- *model.PacketInfo) error {
	defer close(out)
	for {
		info, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case out <- info:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
