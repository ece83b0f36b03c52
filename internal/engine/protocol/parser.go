package protocol

import (
	"net"
	"net/netip"
	"strings"
	"time"

	"SpectraIDS/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ParsePacket extracts the flow key and size information from a decoded
// packet. Frames without an IP layer are returned with HasIP unset rather
// than as an error, so callers can skip them without logging.
func ParsePacket(packet gopacket.Packet) *model.PacketInfo {
	info := &model.PacketInfo{
		Timestamp: time.Now(), // Overwritten by capture metadata when present
		Length:    len(packet.Data()),
	}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		info.Timestamp = meta.Timestamp
	}

	var key model.FlowKey
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		key.SrcIP = toAddr(ip.SrcIP)
		key.DstIP = toAddr(ip.DstIP)
		key.Protocol = uint8(ip.Protocol)
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		key.SrcIP = toAddr(ip.SrcIP)
		key.DstIP = toAddr(ip.DstIP)
		key.Protocol = uint8(ip.NextHeader)
	} else {
		return info
	}
	info.HasIP = true

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		key.SrcPort = uint16(tcp.SrcPort)
		key.DstPort = uint16(tcp.DstPort)
		info.HasFlags = true
		info.FlagSignature = FlagSignature(tcp)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		key.SrcPort = uint16(udp.SrcPort)
		key.DstPort = uint16(udp.DstPort)
	}
	// Other transports (ICMP, GRE, ...) keep ports at 0.

	info.Key = key
	return info
}

// FlagSignature renders the set TCP flags as letters in the order
// F S R P A U E C N, e.g. "SA" for a SYN/ACK.
func FlagSignature(tcp *layers.TCP) string {
	var b strings.Builder
	flags := []struct {
		set    bool
		letter byte
	}{
		{tcp.FIN, 'F'},
		{tcp.SYN, 'S'},
		{tcp.RST, 'R'},
		{tcp.PSH, 'P'},
		{tcp.ACK, 'A'},
		{tcp.URG, 'U'},
		{tcp.ECE, 'E'},
		{tcp.CWR, 'C'},
		{tcp.NS, 'N'},
	}
	for _, f := range flags {
		if f.set {
			b.WriteByte(f.letter)
		}
	}
	return b.String()
}

func toAddr(ip net.IP) netip.Addr {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}
