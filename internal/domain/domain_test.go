package domain

import (
	"errors"
	"math"
	"testing"
)

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		p    float64
		want RiskLevel
	}{
		{0, RiskLow},
		{0.299, RiskLow},
		{0.3, RiskMedium},
		{0.5, RiskMedium},
		{0.699, RiskMedium},
		{0.7, RiskHigh},
		{1, RiskHigh},
	}
	for _, tt := range tests {
		if got := ClassifyRisk(tt.p); got != tt.want {
			t.Errorf("ClassifyRisk(%v) = %s, want %s", tt.p, got, tt.want)
		}
	}
}

func TestNewPredictionResult(t *testing.T) {
	t.Run("decision follows rounded probability", func(t *testing.T) {
		res := NewPredictionResult(0.5004, nil)
		if res.FraudProbability != 0.5 || res.IsFraud {
			t.Errorf("got %+v, want probability 0.5 and no fraud", res)
		}
		res = NewPredictionResult(0.6996, nil)
		if res.FraudProbability != 0.7 || res.RiskLevel != RiskHigh || !res.IsFraud {
			t.Errorf("got %+v, want probability 0.7, High, fraud", res)
		}
	})

	t.Run("clamps out of range", func(t *testing.T) {
		for _, p := range []float64{-0.2, math.NaN()} {
			if got := NewPredictionResult(p, nil).FraudProbability; got != 0 {
				t.Errorf("probability %v -> %v, want 0", p, got)
			}
		}
		if got := NewPredictionResult(1.7, nil).FraudProbability; got != 1 {
			t.Errorf("probability 1.7 -> %v, want 1", got)
		}
	})

	t.Run("sentinel factor", func(t *testing.T) {
		res := NewPredictionResult(0.1, []string{})
		if len(res.RiskFactors) != 1 || res.RiskFactors[0] != NoRiskFactors {
			t.Errorf("got %v, want sentinel", res.RiskFactors)
		}
	})
}

func TestValidate(t *testing.T) {
	valid := TransactionRecord{
		Amount: 10, Hour: 12, MerchantCategory: "retail", PaymentMethod: "card",
		CustomerAge: 30, TransactionFrequency: 2, LocationRiskScore: 0.4,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	tests := []struct {
		field  string
		mutate func(*TransactionRecord)
	}{
		{"amount", func(r *TransactionRecord) { r.Amount = 0 }},
		{"amount", func(r *TransactionRecord) { r.Amount = math.Inf(1) }},
		{"hour", func(r *TransactionRecord) { r.Hour = 24 }},
		{"merchant_category", func(r *TransactionRecord) { r.MerchantCategory = "  " }},
		{"payment_method", func(r *TransactionRecord) { r.PaymentMethod = "" }},
		{"customer_age", func(r *TransactionRecord) { r.CustomerAge = -1 }},
		{"transaction_frequency", func(r *TransactionRecord) { r.TransactionFrequency = -3 }},
		{"location_risk_score", func(r *TransactionRecord) { r.LocationRiskScore = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			rec := valid
			tt.mutate(&rec)
			err := rec.Validate()
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected field %s, got %v", tt.field, err)
			}
		})
	}
}

func TestCanonical(t *testing.T) {
	rec := TransactionRecord{MerchantCategory: "  ATM ", PaymentMethod: "Card"}
	got := rec.Canonical()
	if got.MerchantCategory != "atm" || got.PaymentMethod != "card" {
		t.Errorf("unexpected canonical record %+v", got)
	}
	if rec.MerchantCategory != "  ATM " {
		t.Error("Canonical mutated the receiver")
	}
}

func TestDataFormatError(t *testing.T) {
	err := &DataFormatError{Column: "is_fraud", Reason: "has a single class"}
	if !errors.Is(err, ErrDataFormat) {
		t.Error("expected DataFormatError to match ErrDataFormat")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("community defaults", func(t *testing.T) {
		cfg := LoadConfig()
		if cfg.Tier != TierCommunity || cfg.Repository.Driver != "sqlite" || cfg.EventBus.Type != "channel" {
			t.Errorf("unexpected defaults: tier=%s driver=%s bus=%s", cfg.Tier, cfg.Repository.Driver, cfg.EventBus.Type)
		}
		if cfg.Model.Seed != 42 || cfg.Model.Trees != 100 || cfg.Model.MaxDepth != 10 {
			t.Errorf("unexpected model defaults: %+v", cfg.Model)
		}
	})

	t.Run("pro tier", func(t *testing.T) {
		t.Setenv("FRAUDSHIELD_TIER", "pro")
		cfg := LoadConfig()
		if cfg.Repository.Driver != "postgres" || cfg.Cache.Type != "redis" || cfg.EventBus.Type != "nats" {
			t.Errorf("unexpected pro stack: %+v", cfg)
		}
		if cfg.Model.ArtifactStore != "cache" || !cfg.AsyncWorker {
			t.Errorf("expected shared artifact store and async worker")
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("FRAUDSHIELD_PORT", "6000")
		t.Setenv("FRAUDSHIELD_TREES", "25")
		t.Setenv("FRAUDSHIELD_SEED", "0")
		t.Setenv("FRAUDSHIELD_TRAIN_ON_STARTUP", "no")
		t.Setenv("FRAUDSHIELD_DEBUG", "true")
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

		cfg := LoadConfig()
		if cfg.Server.Port != 6000 || cfg.Model.Trees != 25 {
			t.Errorf("numeric overrides not applied: port=%d trees=%d", cfg.Server.Port, cfg.Model.Trees)
		}
		if cfg.Model.Seed != 0 {
			t.Errorf("expected seed 0, got %d", cfg.Model.Seed)
		}
		if cfg.Model.TrainOnStartup {
			t.Error("expected train on startup disabled")
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected debug level, got %s", cfg.Logging.Level)
		}
		if cfg.Tracing.OTLPEndpoint != "collector:4317" {
			t.Errorf("unexpected endpoint %s", cfg.Tracing.OTLPEndpoint)
		}
	})

	t.Run("cors origins", func(t *testing.T) {
		if got := LoadConfig().Server.AllowedOrigins; got != nil {
			t.Errorf("expected no origins by default, got %v", got)
		}
		t.Setenv("FRAUDSHIELD_CORS_ORIGINS", " https://a.example , ,https://b.example")
		got := LoadConfig().Server.AllowedOrigins
		if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
			t.Errorf("unexpected origins %q", got)
		}
	})

	t.Run("invalid integers keep defaults", func(t *testing.T) {
		t.Setenv("FRAUDSHIELD_PORT", "not-a-port")
		if got := LoadConfig().Server.Port; got != 5000 {
			t.Errorf("expected default port, got %d", got)
		}
	})
}
