// Package sink persists classification results to durable append-only
// storage. Conflict records land in the analyze_transactions table and
// update records in updates_transactions; both are write-only from the
// detection core, which never reads results back into matching
// decisions.
//
// Three backends share the Sink interface: BigQuery for the warehouse
// deployment, SQLite for local and offline runs, and an in-memory sink
// for tests. BufferedSink decorates any of them with queue-and-retry so
// a classified transaction is never lost to a transient write failure.
package sink

import (
	"context"

	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/pkg/errors"
)

const (
	// ConflictTable receives one row per classified transaction,
	// partitioned by processing date and clustered by scope fields.
	ConflictTable = "analyze_transactions"

	// UpdateTable receives one row per modified-duplicate pair with the
	// similarity metrics that triggered the classification.
	UpdateTable = "updates_transactions"
)

// Sink accepts classification results for durable storage. All
// implementations are append-only; records are never updated or
// deleted through this interface.
type Sink interface {
	// WriteConflict appends one conflict record to ConflictTable.
	WriteConflict(ctx context.Context, rec *models.ConflictRecord) error

	// WriteUpdate appends one update record to UpdateTable.
	WriteUpdate(ctx context.Context, rec *models.UpdateRecord) error

	// Flush blocks until previously accepted records are durable, or
	// the context is done.
	Flush(ctx context.Context) error

	// Close releases backend resources. The sink is unusable after
	// Close returns.
	Close() error
}

// validateConflict rejects incomplete records before they reach a
// backend, so partial rows never land in durable storage.
func validateConflict(rec *models.ConflictRecord) error {
	if rec == nil {
		return errors.New(errors.CategoryValidation, errors.CodeMissingField, "conflict record is nil")
	}
	if err := rec.Validate(); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, errors.CodeMissingField, "conflict record rejected").
			WithContext("table", ConflictTable)
	}
	return nil
}

func validateUpdate(rec *models.UpdateRecord) error {
	if rec == nil {
		return errors.New(errors.CategoryValidation, errors.CodeMissingField, "update record is nil")
	}
	if err := rec.Validate(); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, errors.CodeMissingField, "update record rejected").
			WithContext("table", UpdateTable)
	}
	return nil
}
