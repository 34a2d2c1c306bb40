package repository

import "strings"

// Schema definitions for the FraudShield database.
// Compatible with both SQLite and PostgreSQL; BLOB is rewritten per driver.

const schemaPredictions = `
CREATE TABLE IF NOT EXISTS predictions (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    amount REAL NOT NULL,
    hour INTEGER NOT NULL,
    merchant_category TEXT NOT NULL,
    payment_method TEXT NOT NULL,
    customer_age INTEGER NOT NULL,
    transaction_frequency INTEGER NOT NULL,
    location_risk_score REAL NOT NULL,
    fraud_probability REAL NOT NULL,
    is_fraud INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    risk_factors TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_customer ON predictions(customer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
`

const schemaModelArtifacts = `
CREATE TABLE IF NOT EXISTS model_artifacts (
    name TEXT PRIMARY KEY,
    data BLOB NOT NULL,
    size INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema definitions in order for the given driver.
func AllSchemas(driver string) []string {
	schemas := []string{
		schemaPredictions,
		schemaModelArtifacts,
	}
	if driver == "postgres" {
		for i, s := range schemas {
			schemas[i] = strings.ReplaceAll(s, "BLOB", "BYTEA")
		}
	}
	return schemas
}
