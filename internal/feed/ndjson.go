package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/pkg/errors"
	"duplicates-detection-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// feedRow is the NDJSON wire shape, matching the upstream transaction
// message field names. Unknown fields are ignored.
type feedRow struct {
	Checksum        string            `json:"checksum"`
	Concept         string            `json:"concept"`
	Amount          json.RawMessage   `json:"amount"`
	AccountNumber   string            `json:"account_number"`
	Bank            string            `json:"bank"`
	Currency        string            `json:"currency"`
	CompanyID       string            `json:"company_id"`
	TransactionDate string            `json:"transaction_date"`
	Metadata        map[string]string `json:"metadata"`
}

// NDJSONReader reads newline-delimited JSON feeds: one transaction
// message per line.
type NDJSONReader struct {
	config *ReaderConfig
	log    logger.Logger
}

// NewNDJSONReader creates an NDJSONReader from config.
func NewNDJSONReader(config *ReaderConfig) (*NDJSONReader, error) {
	if config == nil {
		config = DefaultReaderConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"feed_reader_config",
			nil,
			err,
		).WithSuggestion("Check the feed reader configuration values")
	}

	return &NDJSONReader{
		config: config.Clone(),
		log:    logger.GetGlobalLogger().WithComponent("ndjson-feed"),
	}, nil
}

// ReadAll parses the whole file into memory.
func (r *NDJSONReader) ReadAll(ctx context.Context, filePath string) ([]*models.Transaction, *FeedStats, error) {
	var all []*models.Transaction
	stats, err := r.Stream(ctx, filePath, 1000, func(batch []*models.Transaction) error {
		all = append(all, batch...)
		return nil
	})
	return all, stats, err
}

// Stream parses the file in batches.
func (r *NDJSONReader) Stream(ctx context.Context, filePath string, batchSize int, fn BatchFunc) (*FeedStats, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	r.log.WithFields(logger.Fields{
		"file_path":  filePath,
		"batch_size": batchSize,
	}).Info("Reading NDJSON feed")

	stats := NewFeedStats()

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, errors.FeedError(errors.CodeFileNotFound, filePath, err)
		}
		return stats, errors.FeedError(errors.CodeInvalidFormat, filePath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), r.config.MaxLineSize)

	batch := make([]*models.Transaction, 0, batchSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, errors.InternalError(errors.CodeProcessingAborted, "read_feed", err)
		}

		stats.TotalLines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		stats.RowsParsed++

		tx, rowErr := r.lineToTransaction(line, stats.TotalLines)
		if rowErr != nil {
			stats.AddError(rowErr)
			if !r.config.ContinueOnError {
				return stats, errors.FeedError(errors.CodeInvalidRow, filePath, rowErr)
			}
			if r.config.MaxErrors > 0 && stats.ErrorCount >= r.config.MaxErrors {
				return stats, errors.FeedError(errors.CodeInvalidRow, filePath,
					fmt.Errorf("aborted after %d malformed rows", stats.ErrorCount)).
					WithSuggestion("Fix the feed file or raise the error limit")
			}
			continue
		}

		if !r.config.bankAllowed(tx.Bank) {
			stats.BanksSkipped++
			continue
		}

		batch = append(batch, tx)
		stats.RowsValid++

		if len(batch) >= batchSize {
			if err := fn(batch); err != nil {
				return stats, fmt.Errorf("batch callback failed: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return stats, errors.FeedError(errors.CodeInvalidRow, filePath,
				fmt.Errorf("line exceeds %d bytes", r.config.MaxLineSize)).
				WithSuggestion("Raise the max line size or split the offending record")
		}
		return stats, errors.FeedError(errors.CodeInvalidFormat, filePath, err)
	}

	if len(batch) > 0 {
		if err := fn(batch); err != nil {
			return stats, fmt.Errorf("batch callback failed: %w", err)
		}
	}

	r.log.WithFields(logger.Fields{
		"file_path":     filePath,
		"total_lines":   stats.TotalLines,
		"rows_valid":    stats.RowsValid,
		"banks_skipped": stats.BanksSkipped,
		"error_count":   stats.ErrorCount,
	}).Info("NDJSON feed read complete")

	if stats.HasErrors() {
		r.log.WithField("sample_errors", stats.SampleErrors(3)).Warn("Feed contained malformed rows")
	}

	return stats, nil
}

// lineToTransaction unmarshals one NDJSON line into a validated
// transaction.
func (r *NDJSONReader) lineToTransaction(line string, lineNum int) (*models.Transaction, *RowError) {
	if r.config.ValidateEncoding && !utf8.ValidString(line) {
		return nil, &RowError{
			Line:    lineNum,
			Field:   "line",
			Message: "invalid UTF-8 encoding",
		}
	}

	var row feedRow
	if err := json.Unmarshal([]byte(line), &row); err != nil {
		return nil, &RowError{
			Line:    lineNum,
			Field:   "line",
			Message: "invalid JSON",
			Err:     err,
		}
	}

	amount, err := parseJSONAmount(row.Amount)
	if err != nil {
		return nil, &RowError{
			Line:    lineNum,
			Field:   "amount",
			Value:   string(row.Amount),
			Message: "invalid amount",
			Err:     err,
		}
	}

	date, err := models.ParseDateWithFormats(row.TransactionDate)
	if err != nil {
		return nil, &RowError{
			Line:    lineNum,
			Field:   "transaction_date",
			Value:   row.TransactionDate,
			Message: "invalid transaction date",
			Err:     err,
		}
	}

	tx := &models.Transaction{
		Checksum:        row.Checksum,
		Concept:         row.Concept,
		Amount:          amount,
		Currency:        row.Currency,
		AccountNumber:   row.AccountNumber,
		Bank:            row.Bank,
		CompanyID:       row.CompanyID,
		TransactionDate: date,
		Metadata:        row.Metadata,
	}
	applyDefaults(tx, r.config)

	if err := tx.Validate(); err != nil {
		return nil, &RowError{
			Line:    lineNum,
			Field:   "row",
			Message: "transaction validation failed",
			Err:     err,
		}
	}

	return tx, nil
}

// parseJSONAmount accepts the amount as a JSON number or a quoted
// string, since different upstream producers emit both.
func parseJSONAmount(raw json.RawMessage) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return decimal.Zero, fmt.Errorf("amount is missing")
	}

	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, err
		}
		return models.ParseDecimalFromString(s)
	}

	return decimal.NewFromString(trimmed)
}
