// Package alerter collects high-confidence detections from the live stream
// and periodically sends a consolidated digest.
package alerter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"SpectraIDS/internal/config"
	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/model"

	"github.com/goccy/go-json"
	"github.com/gomarkdown/markdown"
	"github.com/rs/zerolog"
)

// maxPending bounds the detections held between two digests. Older ones are
// counted but not listed.
const maxPending = 1000

// Notifier delivers a rendered digest.
type Notifier interface {
	Send(subject, body string) error
}

// LabelCount is one row of a digest.
type LabelCount struct {
	Label string
	Count int
}

// Digest summarizes the detections of one check interval.
type Digest struct {
	Since   time.Time
	Until   time.Time
	Total   int
	Dropped int
	Labels  []LabelCount
	Recent  []*model.DetectionEvent
}

// Alerter is responsible for evaluating detections against the configured
// threshold and sending a digest when any qualified. It is a broadcast
// subscriber.
type Alerter struct {
	notifier      Notifier
	minConfidence float64
	labels        map[string]bool
	checkInterval time.Duration

	mu      sync.Mutex
	pending []*model.DetectionEvent
	dropped int
	since   time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// NewAlerter creates a new Alerter.
func NewAlerter(cfg config.AlerterConfig, notifier Notifier) (*Alerter, error) {
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("invalid check_interval for alerter: %s", cfg.CheckInterval)
	}
	a := &Alerter{
		notifier:      notifier,
		minConfidence: cfg.MinConfidence,
		checkInterval: cfg.CheckInterval,
		since:         time.Now(),
		stopChan:      make(chan struct{}),
		log:           logging.Component("alerter"),
	}
	if len(cfg.Labels) > 0 {
		a.labels = make(map[string]bool, len(cfg.Labels))
		for _, l := range cfg.Labels {
			a.labels[l] = true
		}
	}
	return a, nil
}

// Qualifies reports whether ev should be alerted on.
func (a *Alerter) Qualifies(ev *model.DetectionEvent) bool {
	if ev.Confidence < a.minConfidence {
		return false
	}
	if a.labels != nil {
		return a.labels[ev.Label]
	}
	return ev.Label != "normal" && ev.Label != model.LabelUnknown
}

// Send receives one encoded event from the broadcaster.
func (a *Alerter) Send(payload []byte) error {
	var ev model.DetectionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		a.log.Warn().Err(err).Msg("dropping undecodable event")
		return nil
	}
	if !a.Qualifies(&ev) {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) >= maxPending {
		a.pending = a.pending[1:]
		a.dropped++
	}
	a.pending = append(a.pending, &ev)
	return nil
}

// Start runs the periodic evaluation until Stop is called.
func (a *Alerter) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Evaluate()
			case <-a.stopChan:
				return
			}
		}
	}()
	a.log.Info().Dur("interval", a.checkInterval).Msg("alerter started")
}

// Stop ends the evaluation loop and sends a last digest for what is pending.
func (a *Alerter) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
		a.wg.Wait()
		a.Evaluate()
	})
}

// Evaluate sends a digest of everything collected since the last one.
// Nothing is sent when no detection qualified.
func (a *Alerter) Evaluate() {
	d, ok := a.take()
	if !ok {
		return
	}
	a.log.Info().Int("alerts", d.Total).Msg("alerter evaluation completed")

	if a.notifier == nil {
		return
	}
	body := Render(d)
	subject := fmt.Sprintf("SpectraIDS Alert Summary (%d Triggered)", d.Total)
	if err := a.notifier.Send(subject, body); err != nil {
		a.log.Error().Err(err).Msg("failed to send alert digest")
		return
	}
	a.log.Info().Msg("alert digest sent")
}

func (a *Alerter) take() (Digest, bool) {
	a.mu.Lock()
	pending, dropped, since := a.pending, a.dropped, a.since
	a.pending, a.dropped, a.since = nil, 0, time.Now()
	a.mu.Unlock()

	if len(pending) == 0 {
		return Digest{}, false
	}

	counts := make(map[string]int)
	for _, ev := range pending {
		counts[ev.Label]++
	}
	labels := make([]LabelCount, 0, len(counts))
	for l, n := range counts {
		labels = append(labels, LabelCount{Label: l, Count: n})
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Count != labels[j].Count {
			return labels[i].Count > labels[j].Count
		}
		return labels[i].Label < labels[j].Label
	})

	recent := pending
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	return Digest{
		Since:   since,
		Until:   time.Now(),
		Total:   len(pending) + dropped,
		Dropped: dropped,
		Labels:  labels,
		Recent:  recent,
	}, true
}

// Markdown formats a digest as a markdown document: a count per label
// followed by the most recent detections.
func Markdown(d Digest) string {
	var b strings.Builder
	b.WriteString("# SpectraIDS Alert Summary\n\n")
	fmt.Fprintf(&b, "%d detection(s) between %s and %s.\n\n",
		d.Total, d.Since.Format("2006-01-02 15:04:05"), d.Until.Format("15:04:05"))

	b.WriteString("| Label | Count |\n|---|---|\n")
	for _, l := range d.Labels {
		fmt.Fprintf(&b, "| %s | %d |\n", cell(l.Label), l.Count)
	}
	if d.Dropped > 0 {
		fmt.Fprintf(&b, "\n%d older detection(s) not listed.\n", d.Dropped)
	}

	b.WriteString("\n## Most recent\n\n")
	for _, ev := range d.Recent {
		fmt.Fprintf(&b, "- **%s** %s:%d -> %s:%d (%.3f)\n",
			cell(ev.Label), ev.SrcIP, ev.SrcPort, ev.DstIP, ev.DstPort, ev.Confidence)
	}
	return b.String()
}

// cell escapes the characters that would break a table row or emphasis.
func cell(s string) string {
	return strings.NewReplacer("|", "\\|", "*", "\\*").Replace(s)
}

// Render converts the markdown digest to the HTML mail body.
func Render(d Digest) string {
	return string(markdown.ToHTML([]byte(Markdown(d)), nil, nil))
}
