package main

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMetricsRecord(t *testing.T) {
	m := &Metrics{}
	fraud := &PredictResponse{IsFraud: true}
	legit := &PredictResponse{IsFraud: false}

	m.Record(true, fraud, nil, time.Millisecond)
	m.Record(true, fraud, nil, time.Millisecond)
	m.Record(true, legit, nil, time.Millisecond)
	m.Record(false, fraud, nil, time.Millisecond)
	m.Record(false, legit, nil, time.Millisecond)
	m.Record(false, legit, nil, time.Millisecond)
	m.Record(false, nil, errors.New("status 500"), time.Millisecond)

	if m.TruePositives.Load() != 2 || m.FalseNegatives.Load() != 1 || m.FalsePositives.Load() != 1 || m.TrueNegatives.Load() != 2 {
		t.Errorf("unexpected confusion matrix: tp=%d fn=%d fp=%d tn=%d",
			m.TruePositives.Load(), m.FalseNegatives.Load(), m.FalsePositives.Load(), m.TrueNegatives.Load())
	}
	if m.TotalProcessed.Load() != 7 || m.TotalErrors.Load() != 1 {
		t.Errorf("processed=%d errors=%d", m.TotalProcessed.Load(), m.TotalErrors.Load())
	}

	s := m.Summary()
	check := func(name string, got, want float64) {
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
	check("precision", s.Precision, 2.0/3.0)
	check("recall", s.Recall, 2.0/3.0)
	check("f1", s.F1, 2.0/3.0)
	check("accuracy", s.Accuracy, 4.0/6.0)
}

func TestSummaryEmpty(t *testing.T) {
	if s := (&Metrics{}).Summary(); s != (Summary{}) {
		t.Errorf("expected zero summary, got %+v", s)
	}
}

func TestGenerateAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holdout.csv")
	if err := writeSynthetic(path, 200, 3); err != nil {
		t.Fatalf("writeSynthetic failed: %v", err)
	}

	samples, err := loadSamples(path, 0)
	if err != nil {
		t.Fatalf("loadSamples failed: %v", err)
	}
	if len(samples) != 200 {
		t.Fatalf("expected 200 samples, got %d", len(samples))
	}
	fraud := 0
	for _, s := range samples {
		if s.IsFraud {
			fraud++
		}
	}
	if fraud != 40 {
		t.Errorf("expected 40 fraud rows, got %d", fraud)
	}

	limited, err := loadSamples(path, 50)
	if err != nil {
		t.Fatalf("loadSamples failed: %v", err)
	}
	if len(limited) != 50 {
		t.Errorf("expected 50 samples, got %d", len(limited))
	}
}

func TestLoadRejectsUnlabeled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unlabeled.csv")
	if err := os.WriteFile(path, []byte("amount,hour\n10,3\n20,4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadSamples(path, 0); err == nil {
		t.Error("expected error for unlabeled data")
	}
}
