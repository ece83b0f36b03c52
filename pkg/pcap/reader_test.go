package pcap

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"SpectraIDS/internal/model"
	"SpectraIDS/internal/tracegen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTrace(t *testing.T, frames []tracegen.Frame) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tracegen.WritePcap(&buf, frames))
	path := filepath.Join(t.TempDir(), "trace.pcap")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestReader_ReadPackets(t *testing.T) {
	start := time.Unix(1700000000, 0)
	path := writeTrace(t, []tracegen.Frame{
		{Kind: tracegen.KindTCP, Timestamp: start, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1000, DstPort: 80, Flags: "S", Size: 74},
		{Kind: tracegen.KindARP, Timestamp: start.Add(time.Second), SrcIP: "10.0.0.1", DstIP: "10.0.0.9"},
		{Kind: tracegen.KindUDP, Timestamp: start.Add(2 * time.Second), SrcIP: "10.0.0.3", DstIP: "8.8.8.8", SrcPort: 5353, DstPort: 53, Size: 100},
	})

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	out := make(chan *model.PacketInfo)
	errCh := make(chan error, 1)
	go func() { errCh <- reader.ReadPackets(context.Background(), out) }()

	var packets []*model.PacketInfo
	for p := range out {
		packets = append(packets, p)
	}
	require.NoError(t, <-errCh)

	require.Len(t, packets, 3)
	assert.True(t, packets[0].HasIP)
	assert.Equal(t, 74, packets[0].Length)
	assert.True(t, packets[0].Timestamp.Equal(start))
	assert.False(t, packets[1].HasIP, "arp frame has no ip layer")
	assert.Equal(t, uint16(53), packets[2].Key.DstPort)
}

func TestReader_RejectsGarbage(t *testing.T) {
	_, err := FromReader(bytes.NewReader([]byte("definitely not a capture file")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestReader_RejectsEmptyInput(t *testing.T) {
	_, err := FromReader(bytes.NewReader(nil))
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestReader_MissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "nope.pcap"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestReader_ContextCancel(t *testing.T) {
	frames := tracegen.Random(newRand(), 50, 5, time.Unix(0, 0), time.Millisecond)
	reader, err := NewReader(writeTrace(t, frames))
	require.NoError(t, err)
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan *model.PacketInfo)
	err = reader.ReadPackets(ctx, out)
	assert.ErrorIs(t, err, context.Canceled)
	_, open := <-out
	assert.False(t, open)
}

func newRand() *rand.Rand {
	return rand.New(rand.NewSource(1))
}
