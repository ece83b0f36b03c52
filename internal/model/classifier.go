package model

// Classifier is the minimal contract of a trained model: a hard label for a
// feature vector.
type Classifier interface {
	Predict(fv FeatureVector) (string, error)
}

// ClassProbability is one entry of a predicted probability distribution.
type ClassProbability struct {
	Class       string
	Probability float64
}

// ProbabilisticClassifier is implemented by classifiers that expose a
// probability distribution over their classes.
type ProbabilisticClassifier interface {
	Classifier
	PredictProba(fv FeatureVector) ([]ClassProbability, error)
}
