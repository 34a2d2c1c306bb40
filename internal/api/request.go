package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/fraudshield/fraudshield/internal/domain"
)

// Defaults applied to fields a predict request omits.
const (
	defaultMerchantCategory = "unknown"
	defaultPaymentMethod    = "card"
	defaultHour             = 0
	defaultCustomerAge      = 25
	defaultFrequency        = 1
	defaultLocationRisk     = 0.5
)

// PredictRequest is a decoded POST /predict body. Numeric fields accept
// JSON numbers or numeric strings.
type PredictRequest struct {
	Amount               float64
	Hour                 int
	MerchantCategory     string
	PaymentMethod        string
	CustomerAge          int
	TransactionFrequency *int
	LocationRiskScore    float64
	CustomerID           string
}

func (p PredictRequest) record() domain.TransactionRecord {
	freq := defaultFrequency
	if p.TransactionFrequency != nil {
		freq = *p.TransactionFrequency
	}
	return domain.TransactionRecord{
		Amount:               p.Amount,
		Hour:                 p.Hour,
		MerchantCategory:     p.MerchantCategory,
		PaymentMethod:        p.PaymentMethod,
		CustomerAge:          p.CustomerAge,
		TransactionFrequency: freq,
		LocationRiskScore:    p.LocationRiskScore,
	}
}

// requestFields reads one JSON object and coerces its fields.
type requestFields map[string]json.RawMessage

func decodePredictRequest(r io.Reader) (*PredictRequest, error) {
	var fields requestFields
	if err := json.NewDecoder(r).Decode(&fields); err != nil || fields == nil {
		return nil, errors.New("invalid JSON request body")
	}

	req := &PredictRequest{
		MerchantCategory:  defaultMerchantCategory,
		PaymentMethod:     defaultPaymentMethod,
		Hour:              defaultHour,
		CustomerAge:       defaultCustomerAge,
		LocationRiskScore: defaultLocationRisk,
	}

	amount, ok, err := fields.number("amount")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewValidationError("amount", "is required")
	}
	req.Amount = amount

	if v, ok, err := fields.integer("hour"); err != nil {
		return nil, err
	} else if ok {
		req.Hour = v
	}
	if v, ok, err := fields.integer("customer_age"); err != nil {
		return nil, err
	} else if ok {
		req.CustomerAge = v
	}
	if v, ok, err := fields.integer("transaction_frequency"); err != nil {
		return nil, err
	} else if ok {
		req.TransactionFrequency = &v
	}
	if v, ok, err := fields.number("location_risk_score"); err != nil {
		return nil, err
	} else if ok {
		req.LocationRiskScore = v
	}
	if v, ok, err := fields.text("merchant_category"); err != nil {
		return nil, err
	} else if ok {
		req.MerchantCategory = v
	}
	if v, ok, err := fields.text("payment_method"); err != nil {
		return nil, err
	} else if ok {
		req.PaymentMethod = v
	}
	if v, ok, err := fields.text("customer_id"); err != nil {
		return nil, err
	} else if ok {
		req.CustomerID = v
	}

	return req, nil
}

// scalar returns the field's text and whether it was quoted. Absent, null
// and blank values report ok=false.
func (f requestFields) scalar(name string) (text string, quoted, ok bool, err error) {
	raw, present := f[name]
	if !present {
		return "", false, false, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false, false, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, false, domain.NewValidationError(name, "is not a valid string")
		}
		s = strings.TrimSpace(s)
		return s, true, s != "", nil
	}
	if raw[0] == '{' || raw[0] == '[' {
		return "", false, false, domain.NewValidationError(name, "must be a scalar")
	}
	return string(raw), false, true, nil
}

func (f requestFields) number(name string) (float64, bool, error) {
	text, _, ok, err := f.scalar(name)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, domain.NewValidationError(name, fmt.Sprintf("must be a number, got %q", text))
	}
	return v, true, nil
}

// integer truncates JSON numbers toward zero; strings must hold an integer.
func (f requestFields) integer(name string) (int, bool, error) {
	text, quoted, ok, err := f.scalar(name)
	if err != nil || !ok {
		return 0, false, err
	}
	if quoted {
		v, err := strconv.Atoi(text)
		if err != nil {
			return 0, false, domain.NewValidationError(name, fmt.Sprintf("must be an integer, got %q", text))
		}
		return v, true, nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.Abs(v) > math.MaxInt32 {
		return 0, false, domain.NewValidationError(name, fmt.Sprintf("must be an integer, got %s", text))
	}
	return int(v), true, nil
}

func (f requestFields) text(name string) (string, bool, error) {
	text, quoted, ok, err := f.scalar(name)
	if err != nil || !ok {
		return "", false, err
	}
	if !quoted && (text == "true" || text == "false") {
		return "", false, domain.NewValidationError(name, "must be a string")
	}
	return text, true, nil
}
