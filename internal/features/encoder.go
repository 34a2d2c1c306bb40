// Package features turns canonical transaction records into scaled numeric
// feature vectors.
package features

import (
	"fmt"
	"math"
	"sort"

	"github.com/fraudshield/fraudshield/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Feature vector layout. The order is part of the persisted model: changing
// it invalidates stored artifacts.
const (
	FeatureAmount = iota
	FeatureHour
	FeatureMerchantCategory
	FeaturePaymentMethod
	FeatureCustomerAge
	FeatureTransactionFrequency
	FeatureLocationRiskScore

	NumFeatures
)

// FeatureNames lists the vector columns in order.
var FeatureNames = [NumFeatures]string{
	"amount",
	"hour",
	"merchant_category_encoded",
	"payment_method_encoded",
	"customer_age",
	"transaction_frequency",
	"location_risk_score",
}

// Vocabulary maps category strings to stable integer codes. Codes follow
// the sorted order of the classes seen at fit time.
type Vocabulary struct {
	classes []string
	index   map[string]int
}

// NewVocabulary builds a vocabulary from the distinct values.
func NewVocabulary(values []string) *Vocabulary {
	seen := make(map[string]struct{}, len(values))
	classes := make([]string, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	sort.Strings(classes)
	return vocabularyOf(classes)
}

func vocabularyOf(classes []string) *Vocabulary {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return &Vocabulary{classes: classes, index: index}
}

// Code returns the code for value. Values never seen at fit time resolve
// to the code of the first class.
func (v *Vocabulary) Code(value string) int {
	if code, ok := v.index[value]; ok {
		return code
	}
	return 0
}

// Contains reports whether value was seen at fit time.
func (v *Vocabulary) Contains(value string) bool {
	_, ok := v.index[value]
	return ok
}

// Fallback returns the class unseen values are mapped to.
func (v *Vocabulary) Fallback() string {
	return v.classes[0]
}

// Classes returns a copy of the fitted classes in code order.
func (v *Vocabulary) Classes() []string {
	return append([]string(nil), v.classes...)
}

// Scaler standardizes each feature to zero mean and unit variance.
type Scaler struct {
	Mean  [NumFeatures]float64
	Scale [NumFeatures]float64
}

// FitScaler computes per-feature mean and population standard deviation.
// A feature with zero deviation gets scale 1.
func FitScaler(rows [][NumFeatures]float64) *Scaler {
	s := &Scaler{}
	column := make([]float64, len(rows))
	for j := 0; j < NumFeatures; j++ {
		for i, row := range rows {
			column[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		if math.IsNaN(mean) {
			mean = 0
		}
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[j] = mean
		s.Scale[j] = std
	}
	return s
}

// Apply returns the standardized copy of row.
func (s *Scaler) Apply(row [NumFeatures]float64) []float64 {
	out := make([]float64, NumFeatures)
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// Encoder holds fitted vocabularies and scaler statistics. A fitted encoder
// is never modified; refitting produces a new one.
type Encoder struct {
	merchant *Vocabulary
	payment  *Vocabulary
	scaler   *Scaler
}

// Fit learns vocabularies and scaler statistics from records and returns the
// encoder together with the scaled training matrix.
func Fit(records []domain.TransactionRecord) (*Encoder, [][]float64, error) {
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("cannot fit encoder on empty dataset")
	}

	merchants := make([]string, len(records))
	payments := make([]string, len(records))
	for i, r := range records {
		merchants[i] = r.MerchantCategory
		payments[i] = r.PaymentMethod
	}

	e := &Encoder{
		merchant: NewVocabulary(merchants),
		payment:  NewVocabulary(payments),
	}

	raw := make([][NumFeatures]float64, len(records))
	for i, r := range records {
		raw[i] = e.raw(r)
	}
	e.scaler = FitScaler(raw)

	matrix := make([][]float64, len(raw))
	for i, row := range raw {
		matrix[i] = e.scaler.Apply(row)
	}
	return e, matrix, nil
}

// raw builds the unscaled vector; categories go through the vocabularies.
func (e *Encoder) raw(r domain.TransactionRecord) [NumFeatures]float64 {
	var v [NumFeatures]float64
	v[FeatureAmount] = r.Amount
	v[FeatureHour] = float64(r.Hour)
	v[FeatureMerchantCategory] = float64(e.merchant.Code(r.MerchantCategory))
	v[FeaturePaymentMethod] = float64(e.payment.Code(r.PaymentMethod))
	v[FeatureCustomerAge] = float64(r.CustomerAge)
	v[FeatureTransactionFrequency] = float64(r.TransactionFrequency)
	v[FeatureLocationRiskScore] = r.LocationRiskScore
	return v
}

// Fitted reports whether e carries fitted state.
func (e *Encoder) Fitted() bool {
	return e != nil && e.scaler != nil && e.merchant != nil && e.payment != nil
}

// Transform encodes and scales a single record.
func (e *Encoder) Transform(r domain.TransactionRecord) ([]float64, error) {
	if !e.Fitted() {
		return nil, domain.ErrNotFitted
	}
	return e.scaler.Apply(e.raw(r)), nil
}

// TransformBatch encodes and scales records.
func (e *Encoder) TransformBatch(records []domain.TransactionRecord) ([][]float64, error) {
	if !e.Fitted() {
		return nil, domain.ErrNotFitted
	}
	out := make([][]float64, len(records))
	for i, r := range records {
		out[i] = e.scaler.Apply(e.raw(r))
	}
	return out, nil
}

// Merchants returns the merchant category vocabulary.
func (e *Encoder) Merchants() *Vocabulary { return e.merchant }

// Payments returns the payment method vocabulary.
func (e *Encoder) Payments() *Vocabulary { return e.payment }
