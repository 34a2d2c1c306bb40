package domain

import (
	"math"
	"strings"
)

// TransactionRecord is the raw, caller-supplied transaction the engine scores.
type TransactionRecord struct {
	Amount               float64 `json:"amount"`
	Hour                 int     `json:"hour"`
	MerchantCategory     string  `json:"merchant_category"`
	PaymentMethod        string  `json:"payment_method"`
	CustomerAge          int     `json:"customer_age"`
	TransactionFrequency int     `json:"transaction_frequency"`
	LocationRiskScore    float64 `json:"location_risk_score"`
}

// Canonical returns a copy with categorical tokens trimmed and lower-cased,
// the same form the schema normalizer produces for training rows.
func (r TransactionRecord) Canonical() TransactionRecord {
	r.MerchantCategory = strings.ToLower(strings.TrimSpace(r.MerchantCategory))
	r.PaymentMethod = strings.ToLower(strings.TrimSpace(r.PaymentMethod))
	return r
}

// Validate checks a record at the request boundary.
// It returns a *ValidationError naming the first offending field.
func (r TransactionRecord) Validate() error {
	switch {
	case math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0):
		return NewValidationError("amount", "must be a finite number")
	case r.Amount <= 0:
		return NewValidationError("amount", "must be positive")
	case r.Hour < 0 || r.Hour > 23:
		return NewValidationError("hour", "must be between 0 and 23")
	case strings.TrimSpace(r.MerchantCategory) == "":
		return NewValidationError("merchant_category", "is required")
	case strings.TrimSpace(r.PaymentMethod) == "":
		return NewValidationError("payment_method", "is required")
	case r.CustomerAge < 0:
		return NewValidationError("customer_age", "must not be negative")
	case r.TransactionFrequency < 0:
		return NewValidationError("transaction_frequency", "must not be negative")
	case math.IsNaN(r.LocationRiskScore) || r.LocationRiskScore < 0 || r.LocationRiskScore > 1:
		return NewValidationError("location_risk_score", "must be between 0 and 1")
	}
	return nil
}

// Sample is one labeled row of a canonical training dataset.
type Sample struct {
	Record  TransactionRecord
	IsFraud bool
}
