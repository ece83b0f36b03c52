package model

// FeatureVersion identifies the layout of FeatureVector. Any change to the
// order or meaning of the fields below must bump it.
const FeatureVersion = 1

// Feature indices into a FeatureVector.
const (
	FeaturePacketCount = iota
	FeatureByteCount
	FeatureAvgPacketSize
	FeatureDuration
	FeatureSrcPort
	FeatureDstPort
	FeatureProtocol
	FeatureFlagsCount

	NumFeatures
)

// FeatureVector is the fixed-order numeric summary of a flow consumed by the
// classifier. It encodes to JSON as an array.
type FeatureVector [NumFeatures]float64

// NewFeatureVector derives the vector for a finalized flow record.
func NewFeatureVector(r *FlowRecord) FeatureVector {
	var avg float64
	if r.PacketCount > 0 {
		avg = float64(r.ByteCount) / float64(r.PacketCount)
	}
	var flags uint64
	for _, n := range r.FlagTally {
		flags += n
	}

	var fv FeatureVector
	fv[FeaturePacketCount] = float64(r.PacketCount)
	fv[FeatureByteCount] = float64(r.ByteCount)
	fv[FeatureAvgPacketSize] = avg
	fv[FeatureDuration] = r.Duration().Seconds()
	fv[FeatureSrcPort] = float64(r.Key.SrcPort)
	fv[FeatureDstPort] = float64(r.Key.DstPort)
	fv[FeatureProtocol] = float64(r.Key.Protocol)
	fv[FeatureFlagsCount] = float64(flags)
	return fv
}

// Slice returns the features as a plain slice.
func (fv FeatureVector) Slice() []float64 {
	out := make([]float64, NumFeatures)
	copy(out, fv[:])
	return out
}
