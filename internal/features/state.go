package features

import (
	"fmt"
	"math"

	"github.com/fraudshield/fraudshield/internal/domain"
)

// State is the serializable form of a fitted Encoder.
type State struct {
	Features        []string  `json:"features"`
	MerchantClasses []string  `json:"merchant_classes"`
	PaymentClasses  []string  `json:"payment_classes"`
	Mean            []float64 `json:"mean"`
	Scale           []float64 `json:"scale"`
}

// State exports the fitted parameters.
func (e *Encoder) State() (State, error) {
	if !e.Fitted() {
		return State{}, domain.ErrNotFitted
	}
	return State{
		Features:        append([]string(nil), FeatureNames[:]...),
		MerchantClasses: e.merchant.Classes(),
		PaymentClasses:  e.payment.Classes(),
		Mean:            append([]float64(nil), e.scaler.Mean[:]...),
		Scale:           append([]float64(nil), e.scaler.Scale[:]...),
	}, nil
}

// FromState rebuilds an encoder from exported parameters.
func FromState(s State) (*Encoder, error) {
	if len(s.Features) != 0 {
		if len(s.Features) != NumFeatures {
			return nil, fmt.Errorf("feature layout mismatch: got %d features, want %d", len(s.Features), NumFeatures)
		}
		for i, name := range s.Features {
			if name != FeatureNames[i] {
				return nil, fmt.Errorf("feature layout mismatch at %d: got %q, want %q", i, name, FeatureNames[i])
			}
		}
	}
	if len(s.MerchantClasses) == 0 || len(s.PaymentClasses) == 0 {
		return nil, fmt.Errorf("encoder state has empty vocabulary")
	}
	if len(s.Mean) != NumFeatures || len(s.Scale) != NumFeatures {
		return nil, fmt.Errorf("encoder state has %d means and %d scales, want %d", len(s.Mean), len(s.Scale), NumFeatures)
	}

	scaler := &Scaler{}
	for j := 0; j < NumFeatures; j++ {
		if s.Scale[j] == 0 || math.IsNaN(s.Scale[j]) || math.IsInf(s.Scale[j], 0) {
			return nil, fmt.Errorf("encoder state has invalid scale for %s", FeatureNames[j])
		}
		scaler.Mean[j] = s.Mean[j]
		scaler.Scale[j] = s.Scale[j]
	}

	return &Encoder{
		merchant: vocabularyOf(append([]string(nil), s.MerchantClasses...)),
		payment:  vocabularyOf(append([]string(nil), s.PaymentClasses...)),
		scaler:   scaler,
	}, nil
}
