// Package tracegen builds Ethernet frames and pcap files for synthetic
// traces. It backs cmd/pcapgen and the trace fixtures used in tests.
package tracegen

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Kind selects the encapsulation of a generated frame.
type Kind int

const (
	KindTCP Kind = iota
	KindUDP
	KindICMP
	// KindARP produces a frame without an IP layer.
	KindARP
)

const (
	ethHeaderLen  = 14
	ipv4HeaderLen = 20
	tcpHeaderLen  = 20
	udpHeaderLen  = 8
	icmpHeaderLen = 8
	snapLen       = 65536
	// minFrameLen is the Ethernet minimum; shorter frames get padded on
	// serialization.
	minFrameLen = 60
)

// Frame describes one packet to generate.
type Frame struct {
	Kind      Kind
	Timestamp time.Time
	SrcIP     string
	DstIP     string
	SrcPort   uint16
	DstPort   uint16
	// Flags holds TCP flag letters (FSRPAUECN), e.g. "SA".
	Flags string
	// Size is the total frame length. Values below 60 bytes (the Ethernet
	// minimum) are raised to 60.
	Size int
}

// HeaderLen returns the minimum frame length for a kind.
func HeaderLen(k Kind) int {
	switch k {
	case KindTCP:
		return ethHeaderLen + ipv4HeaderLen + tcpHeaderLen
	case KindUDP:
		return ethHeaderLen + ipv4HeaderLen + udpHeaderLen
	case KindICMP:
		return ethHeaderLen + ipv4HeaderLen + icmpHeaderLen
	default:
		return ethHeaderLen + 28
	}
}

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// Build serializes a frame into raw Ethernet bytes.
func Build(f Frame) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}

	size := f.Size
	if size < minFrameLen {
		size = minFrameLen
	}
	payloadLen := size - HeaderLen(f.Kind)
	if payloadLen < 0 {
		payloadLen = 0
	}
	payload := gopacket.Payload(make([]byte, payloadLen))

	if f.Kind == KindARP {
		eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
		arp := &layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   srcMAC,
			SourceProtAddress: parseIPv4(f.SrcIP),
			DstHwAddress:      make([]byte, 6),
			DstProtAddress:    parseIPv4(f.DstIP),
		}
		if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
			return nil, fmt.Errorf("failed to serialize arp frame: %w", err)
		}
		return buf.Bytes(), nil
	}

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4,
		TTL:     64,
		SrcIP:   parseIPv4(f.SrcIP),
		DstIP:   parseIPv4(f.DstIP),
	}

	var err error
	switch f.Kind {
	case KindTCP:
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{SrcPort: layers.TCPPort(f.SrcPort), DstPort: layers.TCPPort(f.DstPort), Window: 14600}
		applyFlags(tcp, f.Flags)
		if err = tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		err = gopacket.SerializeLayers(buf, opts, eth, ip, tcp, payload)
	case KindUDP:
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(f.SrcPort), DstPort: layers.UDPPort(f.DstPort)}
		if err = udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		err = gopacket.SerializeLayers(buf, opts, eth, ip, udp, payload)
	case KindICMP:
		ip.Protocol = layers.IPProtocolICMPv4
		icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
		err = gopacket.SerializeLayers(buf, opts, eth, ip, icmp, payload)
	default:
		return nil, fmt.Errorf("unknown frame kind %d", f.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// WritePcap writes the frames as a classic pcap stream.
func WritePcap(w io.Writer, frames []Frame) error {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("failed to write pcap header: %w", err)
	}
	for i, f := range frames {
		data, err := Build(f)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		ts := f.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
		if err := pw.WritePacket(ci, data); err != nil {
			return fmt.Errorf("failed to write packet %d: %w", i, err)
		}
	}
	return nil
}

// Random generates count TCP/UDP frames spread over the given number of
// distinct flows, starting at start and spaced by step.
func Random(rng *rand.Rand, count, flows int, start time.Time, step time.Duration) []Frame {
	if flows <= 0 {
		flows = 1
	}
	templates := make([]Frame, flows)
	for i := range templates {
		kind := KindTCP
		if rng.Intn(4) == 0 {
			kind = KindUDP
		}
		templates[i] = Frame{
			Kind:    kind,
			SrcIP:   randomIPv4(rng),
			DstIP:   randomIPv4(rng),
			SrcPort: uint16(rng.Intn(65535-1024) + 1024),
			DstPort: []uint16{22, 80, 443, 8080, 53, 3306}[rng.Intn(6)],
		}
	}

	frames := make([]Frame, count)
	for i := range frames {
		f := templates[rng.Intn(flows)]
		f.Timestamp = start.Add(time.Duration(i) * step)
		f.Size = minFrameLen + rng.Intn(1400)
		if f.Kind == KindTCP {
			f.Flags = []string{"S", "SA", "A", "PA", "FA", "R"}[rng.Intn(6)]
		}
		frames[i] = f
	}
	return frames
}

func applyFlags(tcp *layers.TCP, flags string) {
	for _, c := range flags {
		switch c {
		case 'F':
			tcp.FIN = true
		case 'S':
			tcp.SYN = true
		case 'R':
			tcp.RST = true
		case 'P':
			tcp.PSH = true
		case 'A':
			tcp.ACK = true
		case 'U':
			tcp.URG = true
		case 'E':
			tcp.ECE = true
		case 'C':
			tcp.CWR = true
		case 'N':
			tcp.NS = true
		}
	}
}

func parseIPv4(s string) net.IP {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return net.IPv4zero.To4()
	}
	return ip
}

func randomIPv4(rng *rand.Rand) string {
	return fmt.Sprintf("%d.%d.%d.%d", rng.Intn(254)+1, rng.Intn(254)+1, rng.Intn(254)+1, rng.Intn(254)+1)
}
