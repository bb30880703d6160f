// Package model defines the prediction capability served by the registry and
// the on-disk artifact formats that decode into it.
package model

import (
	"fmt"
	"math"
)

// Predictor produces a prediction from a feature vector. Implementations are
// immutable after decode and safe for concurrent use.
type Predictor interface {
	Predict(features []float64) (float64, error)
}

// Supported artifact formats.
const (
	FormatLinear   = "linear"
	FormatCentroid = "centroid"
)

// Linear is a linear regression model: intercept + coefficients dot features.
type Linear struct {
	Intercept    float64
	Coefficients []float64
}

func (m *Linear) Predict(features []float64) (float64, error) {
	if len(features) != len(m.Coefficients) {
		return 0, fmt.Errorf("linear model expects %d features, got %d", len(m.Coefficients), len(features))
	}
	out := m.Intercept
	for i, c := range m.Coefficients {
		out += c * features[i]
	}
	return out, nil
}

// NearestCentroid is a classifier that returns the label of the centroid
// closest to the feature vector (squared euclidean distance).
type NearestCentroid struct {
	Labels    []float64
	Centroids [][]float64
}

func (m *NearestCentroid) Predict(features []float64) (float64, error) {
	if len(m.Centroids) == 0 || len(m.Centroids) != len(m.Labels) {
		return 0, fmt.Errorf("centroid model is empty or inconsistent")
	}
	best := -1
	bestDist := math.Inf(1)
	for i, c := range m.Centroids {
		if len(c) != len(features) {
			return 0, fmt.Errorf("centroid model expects %d features, got %d", len(c), len(features))
		}
		var d float64
		for j := range c {
			diff := c[j] - features[j]
			d += diff * diff
		}
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return m.Labels[best], nil
}
