package velocity

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/fraudshield/fraudshield/internal/cache"
	"github.com/fraudshield/fraudshield/internal/domain"
	"github.com/fraudshield/fraudshield/internal/repository"
	"github.com/google/uuid"
)

func newTestRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "velocity-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func logPrediction(t *testing.T, repo *repository.SQLRepository, customerID string, at time.Time) {
	t.Helper()
	p := &domain.PredictionLog{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Source:     "api",
		Record: domain.TransactionRecord{
			Amount: 10, Hour: 12, MerchantCategory: "grocery", PaymentMethod: "card",
			CustomerAge: 30, TransactionFrequency: 1, LocationRiskScore: 0.1,
		},
		Result:    *domain.NewPredictionResult(0.05, nil),
		CreatedAt: at,
	}
	if err := repo.SavePrediction(context.Background(), p); err != nil {
		t.Fatalf("failed to save prediction: %v", err)
	}
}

func TestFrequencyFromRepository(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, nil)
	ctx := context.Background()

	t.Run("FirstTransaction", func(t *testing.T) {
		freq, err := svc.Frequency(ctx, "cust-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if freq != 1 {
			t.Errorf("expected 1 for unseen customer, got %d", freq)
		}
	})

	t.Run("WithinWindow", func(t *testing.T) {
		now := time.Now().UTC()
		for i := 0; i < 4; i++ {
			logPrediction(t, repo, "cust-001", now.Add(-time.Duration(i)*time.Hour))
		}
		logPrediction(t, repo, "cust-001", now.Add(-48*time.Hour))
		logPrediction(t, repo, "cust-002", now)

		freq, err := svc.Frequency(ctx, "cust-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if freq != 5 {
			t.Errorf("expected 5 (4 logged + current), got %d", freq)
		}
	})

	t.Run("ShorterWindow", func(t *testing.T) {
		freq, err := svc.WithWindow(90*time.Minute).Frequency(ctx, "cust-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if freq != 3 {
			t.Errorf("expected 3, got %d", freq)
		}
	})

	t.Run("RequiresCustomerID", func(t *testing.T) {
		if _, err := svc.Frequency(ctx, ""); err == nil {
			t.Error("expected error for empty customerID")
		}
	})
}

type failingCounter struct{}

func (failingCounter) CountCustomerPredictions(ctx context.Context, customerID string, since time.Time) (int64, error) {
	return 0, errors.New("database unavailable")
}

func TestFrequencyFromCache(t *testing.T) {
	ctx := context.Background()

	t.Run("CounterOnly", func(t *testing.T) {
		lru := cache.NewLRUCache(100)
		defer lru.Close()
		svc := NewService(nil, lru)

		for want := 1; want <= 3; want++ {
			freq, err := svc.Frequency(ctx, "cust-001")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if freq != want {
				t.Errorf("expected %d, got %d", want, freq)
			}
		}
	})

	t.Run("RepositoryFailureFallsBack", func(t *testing.T) {
		lru := cache.NewLRUCache(100)
		defer lru.Close()
		svc := NewService(failingCounter{}, lru)

		freq, err := svc.Frequency(ctx, "cust-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if freq != 1 {
			t.Errorf("expected 1, got %d", freq)
		}
	})

	t.Run("RepositoryFailureWithoutCache", func(t *testing.T) {
		svc := NewService(failingCounter{}, nil)
		if _, err := svc.Frequency(ctx, "cust-001"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestNoDataSource(t *testing.T) {
	svc := NewService(nil, nil)
	if _, err := svc.Frequency(context.Background(), "cust-001"); err == nil {
		t.Error("expected error with no data source")
	}
}

func TestResolve(t *testing.T) {
	lru := cache.NewLRUCache(100)
	defer lru.Close()
	svc := NewService(nil, lru)
	ctx := context.Background()

	explicit := 7
	tests := []struct {
		name       string
		explicit   *int
		customerID string
		svc        *Service
		want       int
	}{
		{"Explicit", &explicit, "cust-001", svc, 7},
		{"ExplicitZero", new(int), "cust-001", svc, 0},
		{"NoCustomer", nil, "", svc, 1},
		{"Derived", nil, "cust-009", svc, 1},
		{"DerivedAgain", nil, "cust-009", svc, 2},
		{"Unavailable", nil, "cust-001", NewService(nil, nil), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.svc.Resolve(ctx, tt.explicit, tt.customerID, 1); got != tt.want {
				t.Errorf("Resolve = %d, want %d", got, tt.want)
			}
		})
	}
}
