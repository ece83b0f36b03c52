package alerter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"SpectraIDS/internal/config"
	"SpectraIDS/internal/model"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
	err      error
}

func (m *mockNotifier) Send(subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	m.bodies = append(m.bodies, body)
	return m.err
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subjects)
}

func feed(t *testing.T, a *Alerter, events ...*model.DetectionEvent) {
	t.Helper()
	for _, ev := range events {
		data, err := json.Marshal(ev)
		require.NoError(t, err)
		require.NoError(t, a.Send(data))
	}
}

func TestAlerter_Qualifies(t *testing.T) {
	a, err := NewAlerter(config.AlerterConfig{CheckInterval: time.Minute, MinConfidence: 0.8}, nil)
	require.NoError(t, err)

	assert.True(t, a.Qualifies(&model.DetectionEvent{Label: "dos", Confidence: 0.9}))
	assert.False(t, a.Qualifies(&model.DetectionEvent{Label: "dos", Confidence: 0.5}))
	assert.False(t, a.Qualifies(&model.DetectionEvent{Label: "normal", Confidence: 0.99}))
	assert.False(t, a.Qualifies(&model.DetectionEvent{Label: "unknown", Confidence: 1}))

	filtered, err := NewAlerter(config.AlerterConfig{CheckInterval: time.Minute, Labels: []string{"malware"}}, nil)
	require.NoError(t, err)
	assert.True(t, filtered.Qualifies(&model.DetectionEvent{Label: "malware"}))
	assert.False(t, filtered.Qualifies(&model.DetectionEvent{Label: "dos"}))
}

func TestAlerter_EvaluateSendsDigest(t *testing.T) {
	n := &mockNotifier{}
	a, err := NewAlerter(config.AlerterConfig{CheckInterval: time.Minute, MinConfidence: 0.7}, n)
	require.NoError(t, err)

	a.Evaluate()
	assert.Zero(t, n.count(), "nothing pending, nothing sent")

	feed(t, a,
		&model.DetectionEvent{Label: "ddos", SrcIP: "1.1.1.1", DstIP: "2.2.2.2", DstPort: 80, Confidence: 0.91},
		&model.DetectionEvent{Label: "ddos", Confidence: 0.95},
		&model.DetectionEvent{Label: "probe", Confidence: 0.75},
		&model.DetectionEvent{Label: "probe", Confidence: 0.2},
	)
	a.Evaluate()
	require.Equal(t, 1, n.count())
	assert.Equal(t, "SpectraIDS Alert Summary (3 Triggered)", n.subjects[0])
	assert.Contains(t, n.bodies[0], "<table>")
	assert.Contains(t, n.bodies[0], "<td>ddos</td>")
	assert.Contains(t, n.bodies[0], "<td>2</td>")
	assert.Contains(t, n.bodies[0], "<strong>ddos</strong> 1.1.1.1:0")

	a.Evaluate()
	assert.Equal(t, 1, n.count(), "pending cleared after a digest")
}

func TestAlerter_BoundsPending(t *testing.T) {
	a, err := NewAlerter(config.AlerterConfig{CheckInterval: time.Minute}, nil)
	require.NoError(t, err)
	for i := 0; i < maxPending+5; i++ {
		feed(t, a, &model.DetectionEvent{Label: "dos", Confidence: 1})
	}

	d, ok := a.take()
	require.True(t, ok)
	assert.Equal(t, maxPending+5, d.Total)
	assert.Equal(t, 5, d.Dropped)
	assert.Len(t, d.Recent, 20)
}

func TestAlerter_StopFlushes(t *testing.T) {
	n := &mockNotifier{err: errors.New("smtp down")}
	a, err := NewAlerter(config.AlerterConfig{CheckInterval: time.Hour}, n)
	require.NoError(t, err)
	a.Start()
	feed(t, a, &model.DetectionEvent{Label: "u2r", Confidence: 0.99})

	a.Stop()
	a.Stop()
	assert.Equal(t, 1, n.count())
}

func TestMarkdown(t *testing.T) {
	d := Digest{
		Since:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Until:   time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC),
		Total:   4,
		Dropped: 1,
		Labels:  []LabelCount{{Label: "dos", Count: 3}, {Label: "a|b", Count: 1}},
		Recent:  []*model.DetectionEvent{{Label: "dos", SrcIP: "10.0.0.1", SrcPort: 1234, DstIP: "10.0.0.2", DstPort: 80, Confidence: 0.5}},
	}
	md := Markdown(d)
	assert.Contains(t, md, "4 detection(s) between 2024-05-01 10:00:00 and 10:01:00.")
	assert.Contains(t, md, "| dos | 3 |\n")
	assert.Contains(t, md, "| a\\|b | 1 |\n")
	assert.Contains(t, md, "1 older detection(s) not listed.")
	assert.Contains(t, md, "- **dos** 10.0.0.1:1234 -> 10.0.0.2:80 (0.500)\n")

	html := Render(d)
	assert.Contains(t, html, "<h1>SpectraIDS Alert Summary</h1>")
	assert.Contains(t, html, "10.0.0.1:1234 -&gt; 10.0.0.2:80")
}

func TestNewAlerter_InvalidInterval(t *testing.T) {
	_, err := NewAlerter(config.AlerterConfig{}, nil)
	assert.Error(t, err)
}
