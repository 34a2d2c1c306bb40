// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fraudshield/fraudshield/internal/domain"
)

// ErrInvalidInput is returned for calls missing a required key.
var ErrInvalidInput = errors.New("invalid input")

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SavePrediction stores a scored transaction.
func (r *SQLRepository) SavePrediction(ctx context.Context, p *domain.PredictionLog) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: prediction id is required", ErrInvalidInput)
	}

	factors, err := json.Marshal(p.Result.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to marshal risk factors: %w", err)
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO predictions (
			id, customer_id, source, amount, hour, merchant_category, payment_method,
			customer_age, transaction_frequency, location_risk_score,
			fraud_probability, is_fraud, risk_level, risk_factors, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	rec := p.Record
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.CustomerID, p.Source,
		rec.Amount, rec.Hour, rec.MerchantCategory, rec.PaymentMethod,
		rec.CustomerAge, rec.TransactionFrequency, rec.LocationRiskScore,
		p.Result.FraudProbability, boolToInt(p.Result.IsFraud), string(p.Result.RiskLevel),
		string(factors), createdAt.UTC(),
	)
	return err
}

// GetPrediction retrieves a scored transaction by ID.
func (r *SQLRepository) GetPrediction(ctx context.Context, id string) (*domain.PredictionLog, error) {
	query := `
		SELECT id, customer_id, source, amount, hour, merchant_category, payment_method,
			   customer_age, transaction_frequency, location_risk_score,
			   fraud_probability, is_fraud, risk_level, risk_factors, created_at
		FROM predictions
		WHERE id = ?
	`

	var p domain.PredictionLog
	var isFraud int
	var riskLevel, factors string

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&p.ID, &p.CustomerID, &p.Source,
		&p.Record.Amount, &p.Record.Hour, &p.Record.MerchantCategory, &p.Record.PaymentMethod,
		&p.Record.CustomerAge, &p.Record.TransactionFrequency, &p.Record.LocationRiskScore,
		&p.Result.FraudProbability, &isFraud, &riskLevel, &factors, &p.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Result.IsFraud = isFraud == 1
	p.Result.RiskLevel = domain.RiskLevel(riskLevel)
	if err := json.Unmarshal([]byte(factors), &p.Result.RiskFactors); err != nil {
		return nil, fmt.Errorf("failed to decode risk factors for %s: %w", id, err)
	}

	return &p, nil
}

// CountCustomerPredictions counts a customer's predictions created at or after since.
func (r *SQLRepository) CountCustomerPredictions(ctx context.Context, customerID string, since time.Time) (int64, error) {
	if customerID == "" {
		return 0, fmt.Errorf("%w: customerID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM predictions
		WHERE customer_id = ? AND created_at >= ?
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, since.UTC()).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SaveArtifact stores or replaces a named model artifact.
func (r *SQLRepository) SaveArtifact(ctx context.Context, name string, blob []byte) error {
	if name == "" {
		return fmt.Errorf("%w: artifact name is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO model_artifacts (name, data, size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			data = excluded.data,
			size = excluded.size,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), name, blob, len(blob), now, now)
	return err
}

// LoadArtifact returns the named model artifact.
func (r *SQLRepository) LoadArtifact(ctx context.Context, name string) ([]byte, error) {
	query := `SELECT data FROM model_artifacts WHERE name = ?`

	var blob []byte
	err := r.db.QueryRowContext(ctx, r.rebind(query), name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Stats returns connection pool statistics.
func (r *SQLRepository) Stats() sql.DBStats {
	return r.db.Stats()
}
