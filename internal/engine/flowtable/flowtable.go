// Package flowtable aggregates packets of one extraction run into per-flow
// records and finalizes them into feature vectors.
//
// A Table is owned by a single run and is not safe for concurrent use.
//
// Capacity policy: once MaxFlows distinct keys are held, packets that would
// open a new flow are rejected and counted. Existing flows keep aggregating,
// so the retained set is always the first MaxFlows keys in arrival order.
package flowtable

import (
	"SpectraIDS/internal/model"
)

// DefaultMaxFlows is the flow cap used when none is configured.
const DefaultMaxFlows = 5000

// Stats summarizes what a table has seen.
type Stats struct {
	Observed uint64 // packets aggregated into a flow
	Skipped  uint64 // packets without an IP layer
	Rejected uint64 // packets refused because the flow cap was reached
	Flows    int
}

// Table is the keyed aggregation state of one run.
type Table struct {
	maxFlows int
	flows    map[model.FlowKey]*model.FlowRecord
	order    []model.FlowKey
	stats    Stats
}

// New creates a table holding at most maxFlows flows. Non-positive values
// fall back to DefaultMaxFlows.
func New(maxFlows int) *Table {
	if maxFlows <= 0 {
		maxFlows = DefaultMaxFlows
	}
	return &Table{
		maxFlows: maxFlows,
		flows:    make(map[model.FlowKey]*model.FlowRecord),
	}
}

// Observe folds one packet into its flow, creating the flow on first sight.
func (t *Table) Observe(p *model.PacketInfo) {
	if p == nil || !p.HasIP {
		t.stats.Skipped++
		return
	}

	rec, ok := t.flows[p.Key]
	if !ok {
		if len(t.order) >= t.maxFlows {
			t.stats.Rejected++
			return
		}
		rec = &model.FlowRecord{
			Key:       p.Key,
			FirstSeen: p.Timestamp,
			LastSeen:  p.Timestamp,
		}
		t.flows[p.Key] = rec
		t.order = append(t.order, p.Key)
	} else if p.Timestamp.After(rec.LastSeen) {
		// Out-of-order packets never move LastSeen backwards.
		rec.LastSeen = p.Timestamp
	}

	rec.PacketCount++
	if p.Length > 0 {
		rec.ByteCount += uint64(p.Length)
	}
	if p.HasFlags {
		if rec.FlagTally == nil {
			rec.FlagTally = make(map[string]uint64)
		}
		rec.FlagTally[p.FlagSignature]++
	}
	t.stats.Observed++
}

// Len returns the number of flows held.
func (t *Table) Len() int {
	return len(t.order)
}

// Stats returns the counters accumulated so far.
func (t *Table) Stats() Stats {
	s := t.stats
	s.Flows = len(t.order)
	return s
}

// Records returns the flow records in creation order.
func (t *Table) Records() []*model.FlowRecord {
	out := make([]*model.FlowRecord, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.flows[k])
	}
	return out
}

// Finalize converts at most MaxFlows records, in creation order, into
// feature vectors.
func (t *Table) Finalize() []model.FeatureVector {
	records := t.Records()
	if len(records) > t.maxFlows {
		records = records[:t.maxFlows]
	}
	out := make([]model.FeatureVector, len(records))
	for i, r := range records {
		out[i] = model.NewFeatureVector(r)
	}
	return out
}
