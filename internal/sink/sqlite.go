package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// SQLite driver registration
	_ "github.com/mattn/go-sqlite3"

	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/pkg/errors"
	"duplicates-detection-service/pkg/logger"
)

const sqliteDateFormat = "2006-01-02"

// SQLiteSink stores classification results in a local database file.
// It serves CLI runs without warehouse access and keeps the same two
// append-only tables as the BigQuery sink.
type SQLiteSink struct {
	db   *sql.DB
	path string
	log  logger.Logger
}

// NewSQLiteSink opens (or creates) the database at dbPath and ensures
// the result tables exist. Pass ":memory:" for an ephemeral database.
func NewSQLiteSink(ctx context.Context, dbPath string) (*SQLiteSink, error) {
	if dbPath == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "sink.sqlite.path", dbPath,
			fmt.Errorf("database path cannot be empty"))
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, errors.SinkError(errors.CodeSinkUnavailable, dbPath, err)
		}
	}

	// WAL keeps readers from blocking the single writer; the busy
	// timeout covers concurrent CLI invocations against the same file.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.SinkError(errors.CodeSinkUnavailable, dbPath, err)
	}

	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn inside the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.SinkError(errors.CodeSinkUnavailable, dbPath, err)
	}

	sink := &SQLiteSink{
		db:   db,
		path: dbPath,
		log:  logger.GetGlobalLogger().WithComponent("sqlite-sink"),
	}
	if err := sink.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *SQLiteSink) ensureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS analyze_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			checksum_old TEXT,
			checksum_new TEXT NOT NULL,
			account_number TEXT NOT NULL,
			bank TEXT NOT NULL,
			company_id TEXT NOT NULL,
			transaction_date TEXT NOT NULL,
			type_of_conflict TEXT NOT NULL,
			mosaic_reason TEXT,
			date TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyze_scope
			ON analyze_transactions(company_id, bank, account_number)`,
		`CREATE INDEX IF NOT EXISTS idx_analyze_date
			ON analyze_transactions(date)`,

		`CREATE TABLE IF NOT EXISTS updates_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			original_checksum TEXT NOT NULL,
			new_checksum TEXT NOT NULL,
			levenshtein_distance REAL NOT NULL,
			cosine_similarity REAL NOT NULL,
			jaro_winkler_similarity REAL NOT NULL,
			account_number TEXT NOT NULL,
			bank TEXT NOT NULL,
			company_id TEXT NOT NULL,
			date TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_updates_scope
			ON updates_transactions(company_id, bank, account_number)`,
		`CREATE INDEX IF NOT EXISTS idx_updates_date
			ON updates_transactions(date)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return errors.SinkError(errors.CodeSinkSchema, s.path, err)
		}
	}
	return nil
}

// WriteConflict appends one conflict record.
func (s *SQLiteSink) WriteConflict(ctx context.Context, rec *models.ConflictRecord) error {
	if err := validateConflict(rec); err != nil {
		return err
	}

	var checksumOld interface{}
	if rec.ChecksumOld != "" {
		checksumOld = rec.ChecksumOld
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analyze_transactions
			(checksum_old, checksum_new, account_number, bank, company_id,
			 transaction_date, type_of_conflict, mosaic_reason, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		checksumOld,
		rec.ChecksumNew,
		rec.AccountNumber,
		rec.Bank,
		rec.CompanyID,
		rec.TransactionDate.Format(sqliteDateFormat),
		rec.TypeOfConflict.String(),
		rec.MosaicReason,
		rec.Date.Format(sqliteDateFormat),
	)
	if err != nil {
		s.log.WithError(err).WithField("table", ConflictTable).Warn("Insert failed")
		return errors.SinkError(errors.CodeSinkWriteFailed, ConflictTable, err)
	}
	return nil
}

// WriteUpdate appends one update record.
func (s *SQLiteSink) WriteUpdate(ctx context.Context, rec *models.UpdateRecord) error {
	if err := validateUpdate(rec); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO updates_transactions
			(original_checksum, new_checksum, levenshtein_distance,
			 cosine_similarity, jaro_winkler_similarity, account_number,
			 bank, company_id, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OriginalChecksum,
		rec.NewChecksum,
		rec.LevenshteinDistance,
		rec.CosineSimilarity,
		rec.JaroWinklerSimilarity,
		rec.AccountNumber,
		rec.Bank,
		rec.CompanyID,
		rec.Date.Format(sqliteDateFormat),
	)
	if err != nil {
		s.log.WithError(err).WithField("table", UpdateTable).Warn("Insert failed")
		return errors.SinkError(errors.CodeSinkWriteFailed, UpdateTable, err)
	}
	return nil
}

// Flush is a no-op: every insert commits individually.
func (s *SQLiteSink) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// CountConflicts returns the number of stored conflict records,
// optionally filtered to one scope. Used by the report command.
func (s *SQLiteSink) CountConflicts(ctx context.Context, scope *models.ScopeKey) (int, error) {
	query := `SELECT COUNT(*) FROM analyze_transactions`
	var args []interface{}
	if scope != nil {
		query += ` WHERE company_id = ? AND bank = ? AND account_number = ?`
		args = append(args, scope.CompanyID, scope.Bank, scope.AccountNumber)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.SinkError(errors.CodeSinkWriteFailed, ConflictTable, err)
	}
	return count, nil
}
