package model

import (
	"fmt"
	"net/netip"
	"time"
)

// Well-known IP protocol numbers used by the pipeline.
const (
	ProtocolICMP uint8 = 1
	ProtocolTCP  uint8 = 6
	ProtocolUDP  uint8 = 17
)

// FlowKey identifies one flow by its 5-tuple. It is a comparable value type
// and can be used directly as a map key.
type FlowKey struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// String renders the key as "src:port->dst:port/proto".
func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%d", k.SrcIP, k.SrcPort, k.DstIP, k.DstPort, k.Protocol)
}

// PacketInfo holds the metadata extracted from a single packet.
type PacketInfo struct {
	// HasIP is false for frames without an IPv4/IPv6 layer. Such packets carry
	// no usable key and are skipped by the flow table.
	HasIP     bool
	Key       FlowKey
	Timestamp time.Time
	Length    int

	// HasFlags is set for flag-bearing protocols (TCP). FlagSignature may be
	// empty when no flag bit is set.
	HasFlags      bool
	FlagSignature string
}

// FlowRecord is the aggregation state for one flow.
type FlowRecord struct {
	Key         FlowKey
	FirstSeen   time.Time
	LastSeen    time.Time
	PacketCount uint64
	ByteCount   uint64
	FlagTally   map[string]uint64
}

// Duration returns LastSeen - FirstSeen.
func (r *FlowRecord) Duration() time.Duration {
	return r.LastSeen.Sub(r.FirstSeen)
}
