// Package pipeline wires the event sources, the flow table, the scorer and
// the broadcaster together.
//
// The live path runs the simulator in the background and publishes each
// synthetic attack as is. The trace path is synchronous: a recorded trace is
// read to the end, aggregated, scored and returned to the caller.
package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"SpectraIDS/internal/broadcast"
	"SpectraIDS/internal/config"
	"SpectraIDS/internal/engine/flowtable"
	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/metrics"
	"SpectraIDS/internal/model"
	"SpectraIDS/internal/scorer"
	"SpectraIDS/internal/snapshot"
	"SpectraIDS/internal/source"

	"github.com/rs/zerolog"
)

// State is the live-path state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Status is a point-in-time view of the controller.
type Status struct {
	State       State   `json:"state"`
	Interval    float64 `json:"interval"` // seconds
	Subscribers int     `json:"subscribers"`
	Degraded    bool    `json:"degraded"`
}

// errReporter is implemented by sources that can fail mid-stream.
type errReporter interface {
	Err() error
}

// Controller owns the live and trace paths.
type Controller struct {
	sim         *source.Simulator
	scorer      *scorer.Scorer
	broadcaster *broadcast.Broadcaster
	archive     *snapshot.Writer

	maxFlows     int
	publishTrace bool

	unsubscribe func()
	log         zerolog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithArchive stores every analysed trace with w.
func WithArchive(w *snapshot.Writer) Option {
	return func(c *Controller) { c.archive = w }
}

// New creates a controller. Simulated attacks are published to b from now
// on, whenever the simulator runs.
func New(cfg config.PipelineConfig, sim *source.Simulator, sc *scorer.Scorer, b *broadcast.Broadcaster, opts ...Option) *Controller {
	c := &Controller{
		sim:          sim,
		scorer:       sc,
		broadcaster:  b,
		maxFlows:     cfg.MaxFlows,
		publishTrace: cfg.PublishTraceEvents,
		log:          logging.Component("pipeline"),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Simulated attacks carry their own label and skip the scorer.
	c.unsubscribe = sim.Subscribe(func(a *model.Attack) {
		b.Publish(model.NewAttackEvent(a))
	})
	return c
}

// Start runs the live path, or changes its interval if already running.
func (c *Controller) Start(interval time.Duration) error {
	return c.sim.Start(interval)
}

// Stop halts the live path within one interval.
func (c *Controller) Stop() {
	c.sim.Stop()
}

// Status reports the current state.
func (c *Controller) Status() Status {
	st := StateStopped
	if c.sim.Running() {
		st = StateRunning
	}
	return Status{
		State:       st,
		Interval:    c.sim.Interval().Seconds(),
		Subscribers: c.broadcaster.Count(),
		Degraded:    c.scorer.Degraded(),
	}
}

// Close stops the live path and detaches it from the broadcaster.
func (c *Controller) Close() {
	c.sim.Stop()
	c.unsubscribe()
}

// Analyze reads the trace at path and returns one scored event per flow.
func (c *Controller) Analyze(ctx context.Context, path string) ([]*model.DetectionEvent, error) {
	src, err := source.OpenTrace(path)
	if err != nil {
		metrics.TracesAnalyzed.WithLabelValues("error").Inc()
		return nil, err
	}
	return c.AnalyzeSource(ctx, filepath.Base(path), src)
}

// AnalyzeSource drains src through a fresh flow table and scores the flows.
// If src reports an error after its channel closes, that error is returned.
func (c *Controller) AnalyzeSource(ctx context.Context, name string, src model.EventSource) ([]*model.DetectionEvent, error) {
	started := time.Now()
	table := flowtable.New(c.maxFlows)

	for ev := range src.Events(ctx) {
		if ev.Packet != nil {
			table.Observe(ev.Packet)
		}
	}
	if er, ok := src.(errReporter); ok {
		if err := er.Err(); err != nil {
			metrics.TracesAnalyzed.WithLabelValues("error").Inc()
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		metrics.TracesAnalyzed.WithLabelValues("error").Inc()
		return nil, err
	}

	records := table.Records()
	vectors := table.Finalize()
	events := make([]*model.DetectionEvent, 0, len(vectors))
	for i, fv := range vectors {
		label, confidence := c.scorer.Score(fv)
		events = append(events, model.NewFlowEvent(records[i], fv, label, confidence))
	}

	stats := table.Stats()
	metrics.PacketsObserved.WithLabelValues("observed").Add(float64(stats.Observed))
	metrics.PacketsObserved.WithLabelValues("skipped").Add(float64(stats.Skipped))
	metrics.PacketsObserved.WithLabelValues("rejected").Add(float64(stats.Rejected))
	metrics.FlowsExtracted.Add(float64(len(events)))
	metrics.TracesAnalyzed.WithLabelValues("ok").Inc()
	metrics.TraceDuration.Observe(time.Since(started).Seconds())

	c.log.Info().
		Str("trace", name).
		Int("flows", len(events)).
		Uint64("packets", stats.Observed).
		Uint64("skipped", stats.Skipped).
		Uint64("rejected", stats.Rejected).
		Dur("took", time.Since(started)).
		Msg("trace analysed")

	if c.publishTrace {
		for _, ev := range events {
			c.broadcaster.Publish(ev)
		}
	}
	if c.archive != nil {
		report := snapshot.Report{TraceName: name, Events: events, Stats: stats}
		if dir, err := c.archive.Write(report, started.UTC().Format("20060102T150405.000Z")); err != nil {
			c.log.Error().Err(err).Str("trace", name).Msg("failed to archive report")
		} else {
			c.log.Debug().Str("dir", dir).Msg("report archived")
		}
	}
	return events, nil
}
