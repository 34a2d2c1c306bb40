package main

import (
	"sync/atomic"
	"time"
)

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  atomic.Int64 // fraud predicted as fraud
	FalsePositives atomic.Int64 // legit predicted as fraud
	TrueNegatives  atomic.Int64 // legit predicted as legit
	FalseNegatives atomic.Int64 // missed fraud

	TotalProcessed atomic.Int64
	TotalFraud     atomic.Int64
	TotalNonFraud  atomic.Int64
	TotalErrors    atomic.Int64

	ProcessingTimeMs atomic.Int64
}

// Record adds one scored row. Errored rows count only as errors.
func (m *Metrics) Record(actual bool, result *PredictResponse, err error, elapsed time.Duration) {
	m.ProcessingTimeMs.Add(elapsed.Milliseconds())
	m.TotalProcessed.Add(1)

	if err != nil || result == nil {
		m.TotalErrors.Add(1)
		return
	}

	if actual {
		m.TotalFraud.Add(1)
	} else {
		m.TotalNonFraud.Add(1)
	}

	predicted := result.IsFraud
	switch {
	case predicted && actual:
		m.TruePositives.Add(1)
	case predicted && !actual:
		m.FalsePositives.Add(1)
	case !predicted && !actual:
		m.TrueNegatives.Add(1)
	default:
		m.FalseNegatives.Add(1)
	}
}

// Summary holds the derived detection metrics.
type Summary struct {
	Precision float64
	Recall    float64
	F1        float64
	Accuracy  float64
}

// Summary computes precision, recall, F1 and accuracy. Undefined ratios are 0.
func (m *Metrics) Summary() Summary {
	tp := float64(m.TruePositives.Load())
	fp := float64(m.FalsePositives.Load())
	tn := float64(m.TrueNegatives.Load())
	fn := float64(m.FalseNegatives.Load())

	var s Summary
	if tp+fp > 0 {
		s.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		s.Recall = tp / (tp + fn)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	if total := tp + fp + tn + fn; total > 0 {
		s.Accuracy = (tp + tn) / total
	}
	return s
}
