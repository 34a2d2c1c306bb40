package domain

import (
	"math"
	"time"
)

// RiskLevel is the coarse bucket derived from a fraud probability.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Decision and tier thresholds.
const (
	// FraudThreshold: a probability strictly above it is a positive decision.
	FraudThreshold = 0.5

	// MediumRiskThreshold is the inclusive lower bound of the Medium tier.
	MediumRiskThreshold = 0.3

	// HighRiskThreshold is the inclusive lower bound of the High tier.
	HighRiskThreshold = 0.7
)

// NoRiskFactors is returned alone when no explainer rule fires.
const NoRiskFactors = "No specific risk factors identified"

// ClassifyRisk maps a probability onto its risk tier.
func ClassifyRisk(p float64) RiskLevel {
	switch {
	case p < MediumRiskThreshold:
		return RiskLow
	case p < HighRiskThreshold:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// RoundProbability clamps p to [0,1] and rounds it to three decimals.
func RoundProbability(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return math.Round(p*1000) / 1000
}

// PredictionResult is what the detector returns for one transaction.
type PredictionResult struct {
	FraudProbability float64   `json:"fraud_probability"`
	IsFraud          bool      `json:"is_fraud"`
	RiskLevel        RiskLevel `json:"risk_level"`
	RiskFactors      []string  `json:"risk_factors"`
}

// NewPredictionResult builds a result from a raw classifier probability.
// Decision and tier are derived from the rounded probability so that the
// reported values always agree with each other.
func NewPredictionResult(rawProbability float64, factors []string) *PredictionResult {
	p := RoundProbability(rawProbability)
	if len(factors) == 0 {
		factors = []string{NoRiskFactors}
	}
	return &PredictionResult{
		FraudProbability: p,
		IsFraud:          p > FraudThreshold,
		RiskLevel:        ClassifyRisk(p),
		RiskFactors:      factors,
	}
}

// Stats is a read-only snapshot of the detector's running counters.
type Stats struct {
	TotalPredictions int64   `json:"total_predictions"`
	FraudDetected    int64   `json:"fraud_detected"`
	ModelAccuracy    float64 `json:"model_accuracy"`
}

// PredictionLog is a scored transaction as kept by the repository.
type PredictionLog struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customerId,omitempty"`
	Source     string            `json:"source"` // "api" or "worker"
	Record     TransactionRecord `json:"record"`
	Result     PredictionResult  `json:"result"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// PredictionEvent is published on TopicPrediction for every scored
// transaction and on TopicFraudAlert for positive decisions.
type PredictionEvent struct {
	ID         string           `json:"id"`
	TxID       string           `json:"txId,omitempty"`
	CustomerID string           `json:"customerId,omitempty"`
	TraceID    string           `json:"traceId,omitempty"`
	Source     string           `json:"source"`
	Result     PredictionResult `json:"result"`
	ScoredAt   time.Time        `json:"scoredAt"`
}
