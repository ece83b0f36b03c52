// Package scorer turns feature vectors into (label, confidence) pairs using
// an optional classifier.
package scorer

import (
	"math"

	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/metrics"
	"SpectraIDS/internal/model"

	"github.com/rs/zerolog"
)

// Scorer wraps a classifier. A Scorer without a classifier runs in degraded
// mode and reports ("unknown", 0) for every input. It is stateless and safe
// for concurrent use as long as the classifier is.
type Scorer struct {
	classifier model.Classifier
	log        zerolog.Logger
}

// New creates a Scorer. classifier may be nil.
func New(classifier model.Classifier) *Scorer {
	return &Scorer{
		classifier: classifier,
		log:        logging.Component("scorer"),
	}
}

// Degraded reports whether no classifier is loaded.
func (s *Scorer) Degraded() bool {
	return s.classifier == nil
}

// Score returns the predicted label and its confidence. It never fails:
// classifier errors are logged and degrade to ("unknown", 0).
func (s *Scorer) Score(fv model.FeatureVector) (string, float64) {
	if s.classifier == nil {
		metrics.Predictions.WithLabelValues("degraded").Inc()
		return model.LabelUnknown, 0.0
	}

	if pc, ok := s.classifier.(model.ProbabilisticClassifier); ok {
		dist, err := pc.PredictProba(fv)
		if err == nil && len(dist) > 0 {
			best := dist[0]
			for _, p := range dist[1:] {
				if p.Probability > best.Probability {
					best = p
				}
			}
			metrics.Predictions.WithLabelValues("probabilistic").Inc()
			return best.Class, clamp(best.Probability)
		}
		if err != nil {
			s.log.Debug().Err(err).Msg("probability prediction failed, falling back to hard label")
		}
	}

	label, err := s.classifier.Predict(fv)
	if err != nil {
		s.log.Warn().Err(err).Msg("classifier prediction failed")
		metrics.Predictions.WithLabelValues("degraded").Inc()
		return model.LabelUnknown, 0.0
	}
	metrics.Predictions.WithLabelValues("hard_label").Inc()
	return label, 0.0
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
