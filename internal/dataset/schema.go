package dataset

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/fraudshield/fraudshield/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

// Canonical column names.
const (
	ColAmount               = "amount"
	ColHour                 = "hour"
	ColMerchantCategory     = "merchant_category"
	ColPaymentMethod        = "payment_method"
	ColCustomerAge          = "customer_age"
	ColTransactionFrequency = "transaction_frequency"
	ColLocationRiskScore    = "location_risk_score"
	ColIsFraud              = "is_fraud"

	// Intermediate columns used to derive canonical ones.
	ColTransactionTime = "transaction_time"
	ColLocation        = "location"
	ColCustomerID      = "customer_id"
)

// Defaults for absent categorical columns.
const (
	DefaultMerchantCategory = "unknown"
	DefaultPaymentMethod    = "upi"
)

// Fallback for a location missing from the computed frequency map.
const fallbackLocationRisk = 0.5

// Upper bound for frequency-derived location risk.
const maxLocationRisk = 0.9

// columnSynonyms maps source dataset column names onto canonical ones.
// Lookup is exact and case-sensitive.
var columnSynonyms = map[string]string{
	// Amount
	"transaction_amount": ColAmount,
	"txn_amount":         ColAmount,
	"Amount":             ColAmount,
	"AMOUNT":             ColAmount,

	// Time
	"timestamp":        ColTransactionTime,
	"date":             ColTransactionTime,
	"transaction_date": ColTransactionTime,
	"txn_date":         ColTransactionTime,
	"Time":             ColTransactionTime,
	"DATE":             ColTransactionTime,

	// Category
	"category":      ColMerchantCategory,
	"merchant_type": ColMerchantCategory,
	"Category":      ColMerchantCategory,
	"CATEGORY":      ColMerchantCategory,
	"merchant":      ColMerchantCategory,

	// Payment method
	"type":         ColPaymentMethod,
	"payment_type": ColPaymentMethod,
	"txn_type":     ColPaymentMethod,
	"Type":         ColPaymentMethod,
	"TYPE":         ColPaymentMethod,

	// Age
	"age":                ColCustomerAge,
	"Age":                ColCustomerAge,
	"AGE":                ColCustomerAge,
	"customer_age_group": ColCustomerAge,

	// Location
	"state":  ColLocation,
	"State":  ColLocation,
	"STATE":  ColLocation,
	"region": ColLocation,

	// Fraud label
	"fraud":         ColIsFraud,
	"Fraud":         ColIsFraud,
	"FRAUD":         ColIsFraud,
	"is_fraudulent": ColIsFraud,
	"fraudulent":    ColIsFraud,
	"label":         ColIsFraud,
	"target":        ColIsFraud,
}

// CanonicalColumn returns the canonical name for a source column, or the
// name unchanged when it has no synonym.
func CanonicalColumn(name string) string {
	if c, ok := columnSynonyms[name]; ok {
		return c
	}
	return name
}

// Report describes what Normalize had to do to a table.
type Report struct {
	Rows int

	// Renamed maps source column names to the canonical name they took.
	Renamed map[string]string

	// Defaulted lists canonical columns that were absent and filled.
	Defaulted []string

	// LabelDefaulted is set when no fraud label existed and every row was
	// treated as normal. Such data needs manual labeling before training
	// is meaningful.
	LabelDefaulted bool

	Warnings []string
}

func (r *Report) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.Warnings = append(r.Warnings, msg)
	slog.Warn("dataset normalization", "warning", msg)
}

// normalizer carries per-call state for Normalize.
type normalizer struct {
	frame  *Frame
	index  map[string]int
	rng    *rand.Rand
	report *Report
}

// Normalize maps a table with arbitrary column names onto the canonical
// dataset. Missing columns are filled with defaults or derived values drawn
// from rng. The input frame is not modified.
func Normalize(frame *Frame, rng *rand.Rand) (*Dataset, *Report, error) {
	if frame == nil || frame.Len() == 0 {
		return nil, nil, &domain.DataFormatError{Reason: "table has no rows"}
	}

	n := &normalizer{
		frame:  frame.Clone(),
		index:  make(map[string]int),
		rng:    rng,
		report: &Report{Rows: frame.Len(), Renamed: make(map[string]string)},
	}
	n.renameColumns()

	rows := n.frame.Len()
	samples := make([]domain.Sample, rows)

	amounts, err := n.amounts()
	if err != nil {
		return nil, nil, err
	}
	ages, err := n.ages()
	if err != nil {
		return nil, nil, err
	}
	labels, err := n.labels()
	if err != nil {
		return nil, nil, err
	}
	merchants := n.categorical(ColMerchantCategory, DefaultMerchantCategory)
	payments := n.categorical(ColPaymentMethod, DefaultPaymentMethod)
	hours := n.hours()
	freqs := n.frequencies()
	risks := n.locationRisks()

	for i := range samples {
		samples[i] = domain.Sample{
			Record: domain.TransactionRecord{
				Amount:               amounts[i],
				Hour:                 hours[i],
				MerchantCategory:     merchants[i],
				PaymentMethod:        payments[i],
				CustomerAge:          ages[i],
				TransactionFrequency: freqs[i],
				LocationRiskScore:    risks[i],
			},
			IsFraud: labels[i],
		}
	}

	ds := &Dataset{Samples: samples}
	slog.Info("dataset normalized",
		"rows", rows,
		"fraud_pct", fmt.Sprintf("%.2f", ds.FraudRatio()*100),
		"renamed", len(n.report.Renamed),
		"defaulted", n.report.Defaulted,
	)
	return ds, n.report, nil
}

// renameColumns applies the synonym table. The first column to claim a
// canonical name wins; later claimants keep their source name.
func (n *normalizer) renameColumns() {
	for i, name := range n.frame.Columns {
		target := CanonicalColumn(name)
		if _, taken := n.index[target]; taken {
			if target != name {
				n.report.warn("column %q ignored: %q already mapped", name, target)
			}
			continue
		}
		n.index[target] = i
		if target != name {
			n.frame.Columns[i] = target
			n.report.Renamed[name] = target
		}
	}
}

func (n *normalizer) column(name string) ([]string, bool) {
	idx, ok := n.index[name]
	if !ok {
		return nil, false
	}
	out := make([]string, n.frame.Len())
	for row := range out {
		out[row] = strings.TrimSpace(n.frame.cell(row, idx))
	}
	return out, true
}

func (n *normalizer) defaulted(col string) {
	n.report.Defaulted = append(n.report.Defaulted, col)
}

// numeric parses a column, filling unparsable cells with the median of the
// parsable ones.
func (n *normalizer) numeric(col string, values []string) ([]float64, error) {
	out := make([]float64, len(values))
	valid := make([]float64, 0, len(values))
	missing := make([]int, 0)
	for i, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			missing = append(missing, i)
			continue
		}
		out[i] = f
		valid = append(valid, f)
	}
	if len(valid) == 0 {
		return nil, &domain.DataFormatError{Column: col, Reason: "has no numeric values"}
	}
	if len(missing) > 0 {
		m := median(valid)
		for _, i := range missing {
			out[i] = m
		}
		n.report.warn("%d non-numeric %s values replaced by median %.4g", len(missing), col, m)
	}
	return out, nil
}

func (n *normalizer) amounts() ([]float64, error) {
	values, ok := n.column(ColAmount)
	if ok {
		return n.numeric(ColAmount, values)
	}
	n.defaulted(ColAmount)
	dist := distuv.LogNormal{Mu: 4, Sigma: 1, Src: n.rng}
	out := make([]float64, n.frame.Len())
	for i := range out {
		out[i] = dist.Rand()
	}
	return out, nil
}

func (n *normalizer) ages() ([]int, error) {
	out := make([]int, n.frame.Len())
	values, ok := n.column(ColCustomerAge)
	if !ok {
		n.defaulted(ColCustomerAge)
		for i := range out {
			out[i] = 18 + n.rng.IntN(65-18)
		}
		return out, nil
	}
	parsed, err := n.numeric(ColCustomerAge, values)
	if err != nil {
		return nil, err
	}
	for i, v := range parsed {
		out[i] = int(math.Round(v))
	}
	return out, nil
}

// labels coerces the fraud label; unparsable cells count as normal.
func (n *normalizer) labels() ([]bool, error) {
	out := make([]bool, n.frame.Len())
	values, ok := n.column(ColIsFraud)
	if !ok {
		n.defaulted(ColIsFraud)
		n.report.LabelDefaulted = true
		n.report.warn("no fraud label column: all %d rows treated as normal, manual labeling required", len(out))
		return out, nil
	}

	parsedCount := 0
	for i, v := range values {
		label, ok := parseLabel(v)
		if ok {
			parsedCount++
		}
		out[i] = label
	}
	if parsedCount == 0 {
		return nil, &domain.DataFormatError{Column: ColIsFraud, Reason: "cannot be coerced to 0/1"}
	}
	if unparsed := len(values) - parsedCount; unparsed > 0 {
		n.report.warn("%d unparsable fraud labels treated as normal", unparsed)
	}
	return out, nil
}

func parseLabel(v string) (bool, bool) {
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) {
		return f > 0, true
	}
	switch strings.ToLower(v) {
	case "true", "yes", "y", "fraud":
		return true, true
	case "false", "no", "n", "normal", "legit":
		return false, true
	}
	return false, false
}

// categorical lower-cases a text column; empty cells and an absent column
// take def.
func (n *normalizer) categorical(col, def string) []string {
	out := make([]string, n.frame.Len())
	values, ok := n.column(col)
	if !ok {
		n.defaulted(col)
	}
	for i := range out {
		v := ""
		if ok {
			v = strings.ToLower(values[i])
		}
		if v == "" {
			v = def
		}
		out[i] = v
	}
	return out
}

// hours derives hour-of-day from a time column, else reads an hour column,
// else draws uniformly. Cells that cannot be read draw uniformly too.
func (n *normalizer) hours() []int {
	out := make([]int, n.frame.Len())
	if values, ok := n.column(ColTransactionTime); ok {
		failed := 0
		for i, v := range values {
			ts, err := dateparse.ParseAny(v)
			if err != nil {
				failed++
				out[i] = n.rng.IntN(24)
				continue
			}
			out[i] = ts.Hour()
		}
		if failed > 0 {
			n.report.warn("%d unparsable %s values given a random hour", failed, ColTransactionTime)
		}
		return out
	}

	if values, ok := n.column(ColHour); ok {
		for i, v := range values {
			h, err := strconv.Atoi(v)
			if err != nil || h < 0 || h > 23 {
				h = n.rng.IntN(24)
			}
			out[i] = h
		}
		return out
	}

	n.defaulted(ColHour)
	for i := range out {
		out[i] = n.rng.IntN(24)
	}
	return out
}

// frequencies broadcasts each customer's row count when a customer column
// exists, else reads a frequency column, else draws Poisson(5)+1.
func (n *normalizer) frequencies() []int {
	out := make([]int, n.frame.Len())
	if ids, ok := n.column(ColCustomerID); ok {
		counts := make(map[string]int)
		for _, id := range ids {
			counts[id]++
		}
		for i, id := range ids {
			out[i] = counts[id]
		}
		return out
	}

	fill := distuv.Poisson{Lambda: 5, Src: n.rng}
	values, ok := n.column(ColTransactionFrequency)
	if !ok {
		n.defaulted(ColTransactionFrequency)
	}
	for i := range out {
		if ok {
			if f, err := strconv.Atoi(values[i]); err == nil && f >= 0 {
				out[i] = f
				continue
			}
		}
		out[i] = int(fill.Rand()) + 1
	}
	return out
}

// locationRisks inverts location frequency into a risk score when a location
// column exists: rare locations score high, common ones low.
func (n *normalizer) locationRisks() []float64 {
	out := make([]float64, n.frame.Len())
	if locs, ok := n.column(ColLocation); ok {
		risk := locationRiskMap(locs)
		for i, loc := range locs {
			r, found := risk[loc]
			if !found {
				r = fallbackLocationRisk
			}
			out[i] = r
		}
		return out
	}

	fill := distuv.Beta{Alpha: 3, Beta: 7, Src: n.rng}
	values, ok := n.column(ColLocationRiskScore)
	if !ok {
		n.defaulted(ColLocationRiskScore)
	}
	for i := range out {
		if ok {
			if f, err := strconv.ParseFloat(values[i], 64); err == nil && f >= 0 && f <= 1 {
				out[i] = f
				continue
			}
		}
		out[i] = fill.Rand()
	}
	return out
}

// locationRiskMap scores each non-empty location as
// clamp(1 - 10*share, 0, 0.9).
func locationRiskMap(locs []string) map[string]float64 {
	counts := make(map[string]int)
	for _, loc := range locs {
		if loc == "" {
			continue
		}
		counts[loc]++
	}
	total := float64(len(locs))
	risk := make(map[string]float64, len(counts))
	for loc, c := range counts {
		r := 1.0 - float64(c)/total*10
		risk[loc] = math.Max(0, math.Min(maxLocationRisk, r))
	}
	return risk
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
