package classifier

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"SpectraIDS/internal/model"
	"SpectraIDS/internal/scorer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoClass separates flows on the destination port feature.
func twoClass() Params {
	return Params{
		FeatureVersion: model.FeatureVersion,
		Classes:        []string{"normal", "port_scan"},
		Weights: [][]float64{
			{0, 0, 0, 0, 0, -1, 0, 0},
			{0, 0, 0, 0, 0, 1, 0, 0},
		},
		Bias: []float64{0, 0},
	}
}

func TestLinear_PredictProba(t *testing.T) {
	m, err := New(twoClass())
	require.NoError(t, err)

	var fv model.FeatureVector
	fv[model.FeatureDstPort] = 2
	dist, err := m.PredictProba(fv)
	require.NoError(t, err)
	require.Len(t, dist, 2)

	var total float64
	for _, p := range dist {
		total += p.Probability
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Greater(t, dist[1].Probability, dist[0].Probability)

	label, err := m.Predict(fv)
	require.NoError(t, err)
	assert.Equal(t, "port_scan", label)
}

func TestLinear_Standardization(t *testing.T) {
	p := twoClass()
	p.Means = []float64{0, 0, 0, 0, 0, 100, 0, 0}
	p.Scales = []float64{1, 1, 1, 1, 1, 10, 1, 1}
	m, err := New(p)
	require.NoError(t, err)

	var fv model.FeatureVector
	fv[model.FeatureDstPort] = 80 // below the mean
	label, err := m.Predict(fv)
	require.NoError(t, err)
	assert.Equal(t, "normal", label)
}

func TestLinear_LargeInputsStayFinite(t *testing.T) {
	m, err := New(twoClass())
	require.NoError(t, err)

	var fv model.FeatureVector
	fv[model.FeatureDstPort] = 1e6
	dist, err := m.PredictProba(fv)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, dist[1].Probability, 1e-9)
}

func TestLinear_OverflowingScoreIsRejected(t *testing.T) {
	p := twoClass()
	p.Weights[1][model.FeatureByteCount] = 1e300
	m, err := New(p)
	require.NoError(t, err)

	var fv model.FeatureVector
	fv[model.FeatureByteCount] = 1e10
	_, err = m.PredictProba(fv)
	assert.Error(t, err)
	_, err = m.Predict(fv)
	assert.Error(t, err)

	label, conf := scorer.New(m).Score(fv)
	assert.Equal(t, model.LabelUnknown, label)
	assert.Zero(t, conf)
}

func TestNew_RejectsInconsistentParams(t *testing.T) {
	tests := map[string]func(*Params){
		"no classes":      func(p *Params) { p.Classes = nil; p.Weights = nil; p.Bias = nil },
		"short row":       func(p *Params) { p.Weights[0] = []float64{1, 2} },
		"missing bias":    func(p *Params) { p.Bias = p.Bias[:1] },
		"bad means":       func(p *Params) { p.Means = []float64{1} },
		"feature version": func(p *Params) { p.FeatureVersion = 99 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := twoClass()
			mutate(&p)
			_, err := New(p)
			assert.True(t, errors.Is(err, ErrInvalidModel), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = Load(bad)
	assert.True(t, errors.Is(err, ErrInvalidModel))

	good := filepath.Join(dir, "model.json")
	body := `{"feature_version":1,"classes":["normal","dos"],
"weights":[[0,0,0,0,0,0,0,0],[1,0,0,0,0,0,0,0]],"bias":[0,0]}`
	require.NoError(t, os.WriteFile(good, []byte(body), 0o644))
	m, err := Load(good)
	require.NoError(t, err)
	assert.Equal(t, []string{"normal", "dos"}, m.Classes())
}

func TestNew_LabelMap(t *testing.T) {
	p := twoClass()
	p.Classes = []string{"0", "4"}
	p.Labels = map[string]string{"4": "port_scan"}
	m, err := New(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "port_scan"}, m.Classes())
}

func TestLinear_WithScorer(t *testing.T) {
	m, err := New(twoClass())
	require.NoError(t, err)

	var fv model.FeatureVector
	fv[model.FeatureDstPort] = 3
	label, conf := scorer.New(m).Score(fv)
	assert.Equal(t, "port_scan", label)
	assert.Greater(t, conf, 0.5)
	assert.LessOrEqual(t, conf, 1.0)
}
