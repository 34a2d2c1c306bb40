// Package explain derives human-readable risk factors from a raw
// transaction and its fraud probability using CEL rules.
package explain

import (
	"fmt"
	"log/slog"

	"github.com/fraudshield/fraudshield/internal/domain"
	"github.com/google/cel-go/cel"
)

// Rule is a boolean CEL expression that contributes Factor when it holds.
type Rule struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
	Factor     string `json:"factor"`
}

// Risk factor messages.
const (
	FactorHighAmount    = "High transaction amount"
	FactorLowAmount     = "Unusually low transaction amount"
	FactorUnusualHours  = "Transaction during unusual hours"
	FactorHighRiskLoc   = "High-risk location"
	FactorLowFrequency  = "Low transaction frequency for customer"
	FactorRiskyMerchant = "High-risk merchant category"
)

// DefaultRules returns the built-in rules in evaluation order. The two
// amount rules cannot both hold.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "high_amount", Expression: "amount > 1000.0", Factor: FactorHighAmount},
		{ID: "low_amount", Expression: "amount < 1.0", Factor: FactorLowAmount},
		{ID: "unusual_hours", Expression: "hour < 6 || hour > 22", Factor: FactorUnusualHours},
		{ID: "high_risk_location", Expression: "location_risk_score > 0.7", Factor: FactorHighRiskLoc},
		{ID: "low_frequency", Expression: "transaction_frequency < 2", Factor: FactorLowFrequency},
		{ID: "risky_merchant", Expression: "merchant_category in ['unknown', 'atm']", Factor: FactorRiskyMerchant},
	}
}

// Explainer evaluates compiled rules in order. It holds no mutable state
// after construction and is safe for concurrent use.
type Explainer struct {
	env   *cel.Env
	rules []compiledRule
}

type compiledRule struct {
	Rule
	program cel.Program
}

// New compiles the default rules followed by extra.
func New(extra ...Rule) (*Explainer, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("customer_age", cel.IntType),
		cel.Variable("transaction_frequency", cel.IntType),
		cel.Variable("location_risk_score", cel.DoubleType),
		cel.Variable("fraud_probability", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Explainer{env: env}
	for _, r := range append(DefaultRules(), extra...) {
		compiled, err := e.compile(r)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, compiled)
	}
	return e, nil
}

func (e *Explainer) compile(r Rule) (compiledRule, error) {
	if r.Factor == "" {
		return compiledRule{}, fmt.Errorf("rule %s: factor is required", r.ID)
	}

	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return compiledRule{}, fmt.Errorf("failed to compile rule %s: %w", r.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return compiledRule{}, fmt.Errorf("rule %s: expression must return bool, got %s", r.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return compiledRule{}, fmt.Errorf("failed to create program for rule %s: %w", r.ID, err)
	}
	return compiledRule{Rule: r, program: program}, nil
}

// Explain returns the factors of every rule that holds, in rule order. When
// none hold the result is the single domain.NoRiskFactors message.
func (e *Explainer) Explain(rec domain.TransactionRecord, probability float64) []string {
	activation := map[string]any{
		"amount":                rec.Amount,
		"hour":                  int64(rec.Hour),
		"merchant_category":     rec.MerchantCategory,
		"payment_method":        rec.PaymentMethod,
		"customer_age":          int64(rec.CustomerAge),
		"transaction_frequency": int64(rec.TransactionFrequency),
		"location_risk_score":   rec.LocationRiskScore,
		"fraud_probability":     probability,
	}

	factors := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			slog.Warn("risk rule evaluation failed", "rule", r.ID, "error", err)
			continue
		}
		if hit, ok := out.Value().(bool); ok && hit {
			factors = append(factors, r.Factor)
		}
	}

	if len(factors) == 0 {
		return []string{domain.NoRiskFactors}
	}
	return factors
}

// Rules returns the loaded rules in evaluation order.
func (e *Explainer) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Rule
	}
	return out
}
