package model

import (
	"time"

	"github.com/google/uuid"
)

// Origin tells which producer created a detection event.
type Origin string

const (
	OriginTrace     Origin = "trace"
	OriginSimulator Origin = "simulator"
)

// LabelUnknown is reported when no classifier is available.
const LabelUnknown = "unknown"

// Attack is a synthetic attack produced by the simulator. It already carries
// its label and confidence.
type Attack struct {
	Timestamp  time.Time
	SrcIP      string
	DstIP      string
	SrcPort    uint16
	DstPort    uint16
	AttackType string
	Confidence float64
}

// RawEvent is the unit emitted by an EventSource. Exactly one of Packet and
// Attack is set.
type RawEvent struct {
	Packet *PacketInfo
	Attack *Attack
}

// DetectionEvent is published to subscribers and returned from trace
// analysis. It must not be modified once emitted.
type DetectionEvent struct {
	ID         string         `json:"id"`
	Origin     Origin         `json:"origin"`
	Timestamp  float64        `json:"timestamp"` // unix seconds
	SrcIP      string         `json:"src_ip,omitempty"`
	DstIP      string         `json:"dst_ip,omitempty"`
	SrcPort    uint16         `json:"src_port,omitempty"`
	DstPort    uint16         `json:"dst_port,omitempty"`
	Features   *FeatureVector `json:"features"`
	Label      string         `json:"label"`
	AttackType string         `json:"attack_type,omitempty"`
	Confidence float64        `json:"confidence"`
}

// NewFlowEvent builds a detection event for a scored flow.
func NewFlowEvent(r *FlowRecord, fv FeatureVector, label string, confidence float64) *DetectionEvent {
	return &DetectionEvent{
		ID:         uuid.NewString(),
		Origin:     OriginTrace,
		Timestamp:  unixSeconds(r.LastSeen),
		SrcIP:      r.Key.SrcIP.String(),
		DstIP:      r.Key.DstIP.String(),
		SrcPort:    r.Key.SrcPort,
		DstPort:    r.Key.DstPort,
		Features:   &fv,
		Label:      label,
		Confidence: confidence,
	}
}

// NewAttackEvent builds a detection event for a simulated attack.
func NewAttackEvent(a *Attack) *DetectionEvent {
	return &DetectionEvent{
		ID:         uuid.NewString(),
		Origin:     OriginSimulator,
		Timestamp:  unixSeconds(a.Timestamp),
		SrcIP:      a.SrcIP,
		DstIP:      a.DstIP,
		SrcPort:    a.SrcPort,
		DstPort:    a.DstPort,
		Label:      a.AttackType,
		AttackType: a.AttackType,
		Confidence: a.Confidence,
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
