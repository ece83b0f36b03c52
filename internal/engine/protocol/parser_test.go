package protocol

import (
	"net/netip"
	"testing"
	"time"

	"SpectraIDS/internal/model"
	"SpectraIDS/internal/tracegen"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, f tracegen.Frame) gopacket.Packet {
	t.Helper()
	data, err := tracegen.Build(f)
	require.NoError(t, err)
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	packet.Metadata().Timestamp = f.Timestamp
	return packet
}

func TestParsePacket_TCP(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	info := ParsePacket(decode(t, tracegen.Frame{
		Kind: tracegen.KindTCP, Timestamp: ts,
		SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1000, DstPort: 80,
		Flags: "SA", Size: 120,
	}))

	require.True(t, info.HasIP)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), info.Key.SrcIP)
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), info.Key.DstIP)
	assert.Equal(t, uint16(1000), info.Key.SrcPort)
	assert.Equal(t, uint16(80), info.Key.DstPort)
	assert.Equal(t, model.ProtocolTCP, info.Key.Protocol)
	assert.Equal(t, 120, info.Length)
	assert.True(t, info.Timestamp.Equal(ts))
	assert.True(t, info.HasFlags)
	assert.Equal(t, "SA", info.FlagSignature)
}

func TestParsePacket_UDPHasNoFlags(t *testing.T) {
	info := ParsePacket(decode(t, tracegen.Frame{
		Kind: tracegen.KindUDP, SrcIP: "192.168.0.1", DstIP: "8.8.8.8", SrcPort: 12345, DstPort: 53, Size: 90,
	}))

	require.True(t, info.HasIP)
	assert.Equal(t, model.ProtocolUDP, info.Key.Protocol)
	assert.Equal(t, uint16(53), info.Key.DstPort)
	assert.False(t, info.HasFlags)
	assert.Empty(t, info.FlagSignature)
}

func TestParsePacket_ICMPHasZeroPorts(t *testing.T) {
	info := ParsePacket(decode(t, tracegen.Frame{
		Kind: tracegen.KindICMP, SrcIP: "1.1.1.1", DstIP: "2.2.2.2", Size: 80,
	}))

	require.True(t, info.HasIP)
	assert.Equal(t, model.ProtocolICMP, info.Key.Protocol)
	assert.Zero(t, info.Key.SrcPort)
	assert.Zero(t, info.Key.DstPort)
}

func TestParsePacket_NonIPIsFlagged(t *testing.T) {
	info := ParsePacket(decode(t, tracegen.Frame{Kind: tracegen.KindARP, SrcIP: "10.0.0.1", DstIP: "10.0.0.2"}))
	assert.False(t, info.HasIP)
}

func TestFlagSignature_Order(t *testing.T) {
	tcp := &layers.TCP{FIN: true, ACK: true, PSH: true}
	assert.Equal(t, "FPA", FlagSignature(tcp))
	assert.Empty(t, FlagSignature(&layers.TCP{}))
}
