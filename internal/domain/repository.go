// Package domain defines the core interfaces and types for FraudShield.
package domain

import (
	"context"
	"time"
)

// ArtifactStore is the persistence facility for fitted model state.
// Blobs are opaque to the store.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, name string, blob []byte) error

	// LoadArtifact returns ErrNotFound when nothing was saved under name.
	LoadArtifact(ctx context.Context, name string) ([]byte, error)
}

// Repository defines the interface for data persistence.
type Repository interface {
	ArtifactStore

	// Prediction log
	SavePrediction(ctx context.Context, p *PredictionLog) error
	GetPrediction(ctx context.Context, id string) (*PredictionLog, error)
	CountCustomerPredictions(ctx context.Context, customerID string, since time.Time) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
