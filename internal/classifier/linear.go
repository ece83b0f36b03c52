// Package classifier provides a linear softmax model over flow feature
// vectors, loaded from a JSON parameter file.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"os"

	"SpectraIDS/internal/model"

	"github.com/goccy/go-json"
)

// ErrInvalidModel is returned when a parameter file is inconsistent.
var ErrInvalidModel = errors.New("classifier: invalid model")

// Params is the on-disk layout of a linear model.
type Params struct {
	FeatureVersion int         `json:"feature_version"`
	Classes        []string    `json:"classes"`
	Weights        [][]float64 `json:"weights"` // one row of NumFeatures weights per class
	Bias           []float64   `json:"bias"`
	// Means and Scales standardize inputs as (x - mean) / scale. Optional.
	Means  []float64 `json:"means,omitempty"`
	Scales []float64 `json:"scales,omitempty"`
	// Labels renames raw class values (e.g. "3") to display labels. Optional.
	Labels map[string]string `json:"labels,omitempty"`
}

// Linear is a multinomial logistic model. It is immutable after loading and
// safe for concurrent use.
type Linear struct {
	p Params
}

// Load reads and validates a parameter file.
func Load(path string) (*Linear, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	return New(p)
}

// New validates params and builds a model.
func New(p Params) (*Linear, error) {
	if p.FeatureVersion != 0 && p.FeatureVersion != model.FeatureVersion {
		return nil, fmt.Errorf("%w: feature version %d, want %d", ErrInvalidModel, p.FeatureVersion, model.FeatureVersion)
	}
	n := len(p.Classes)
	if n == 0 {
		return nil, fmt.Errorf("%w: no classes", ErrInvalidModel)
	}
	if len(p.Weights) != n || len(p.Bias) != n {
		return nil, fmt.Errorf("%w: %d classes but %d weight rows and %d biases", ErrInvalidModel, n, len(p.Weights), len(p.Bias))
	}
	for i, row := range p.Weights {
		if len(row) != model.NumFeatures {
			return nil, fmt.Errorf("%w: weight row %d has %d entries", ErrInvalidModel, i, len(row))
		}
	}
	if p.Means != nil && len(p.Means) != model.NumFeatures {
		return nil, fmt.Errorf("%w: means has %d entries", ErrInvalidModel, len(p.Means))
	}
	if p.Scales != nil && len(p.Scales) != model.NumFeatures {
		return nil, fmt.Errorf("%w: scales has %d entries", ErrInvalidModel, len(p.Scales))
	}
	if len(p.Labels) > 0 {
		classes := make([]string, n)
		for i, c := range p.Classes {
			if name, ok := p.Labels[c]; ok {
				c = name
			}
			classes[i] = c
		}
		p.Classes = classes
	}
	return &Linear{p: p}, nil
}

// Classes returns the class labels in model order.
func (l *Linear) Classes() []string {
	return append([]string(nil), l.p.Classes...)
}

// PredictProba returns the softmax distribution over the classes.
func (l *Linear) PredictProba(fv model.FeatureVector) ([]model.ClassProbability, error) {
	x := l.standardize(fv)
	logits := make([]float64, len(l.p.Classes))
	maxLogit := math.Inf(-1)
	for c, row := range l.p.Weights {
		z := l.p.Bias[c]
		for i, w := range row {
			z += w * x[i]
		}
		if math.IsNaN(z) || math.IsInf(z, 0) {
			return nil, fmt.Errorf("classifier: non-finite score for class %q", l.p.Classes[c])
		}
		logits[c] = z
		if z > maxLogit {
			maxLogit = z
		}
	}

	var sum float64
	for c, z := range logits {
		logits[c] = math.Exp(z - maxLogit)
		sum += logits[c]
	}
	out := make([]model.ClassProbability, len(logits))
	for c, e := range logits {
		out[c] = model.ClassProbability{Class: l.p.Classes[c], Probability: e / sum}
	}
	return out, nil
}

// Predict returns the most likely class.
func (l *Linear) Predict(fv model.FeatureVector) (string, error) {
	dist, err := l.PredictProba(fv)
	if err != nil {
		return "", err
	}
	best := 0
	for i := range dist {
		if dist[i].Probability > dist[best].Probability {
			best = i
		}
	}
	return dist[best].Class, nil
}

func (l *Linear) standardize(fv model.FeatureVector) model.FeatureVector {
	x := fv
	for i := range x {
		if l.p.Means != nil {
			x[i] -= l.p.Means[i]
		}
		if l.p.Scales != nil && l.p.Scales[i] != 0 {
			x[i] /= l.p.Scales[i]
		}
	}
	return x
}
