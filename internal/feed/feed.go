// Package feed reads transaction feeds from CSV and NDJSON files.
//
// This package handles the messiness of real bank exports: per-bank
// column layouts, mixed date formats, currency symbols in amounts, and
// malformed rows scattered through otherwise good files.
//
// Key features:
//   - Per-bank column presets (bbva, bbvaempresas, santander)
//   - Format auto-detection by extension and content sniffing
//   - Streaming batch reading for large files
//   - Fail-soft row handling with bounded error collection
//   - Bank whitelist gating before rows reach classification
//
// Reader types:
//   - CSVReader: column-mapped CSV exports
//   - NDJSONReader: newline-delimited JSON in the upstream message shape
//
// Example usage:
//
//	config := feed.DefaultReaderConfig()
//	config.Preset = feed.GetBankPreset("bbva")
//	reader, err := feed.Open("movements.csv", config)
//	txs, stats, err := reader.ReadAll(ctx, "movements.csv")
package feed

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/pkg/errors"
)

// Format identifies a feed file layout.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
)

// DetectFormat determines the feed format from the file extension,
// falling back to sniffing the first non-blank line. NDJSON files start
// every record with '{'; anything else is treated as CSV.
func DetectFormat(filePath string) (Format, error) {
	lower := strings.ToLower(filePath)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return FormatCSV, nil
	case strings.HasSuffix(lower, ".ndjson"),
		strings.HasSuffix(lower, ".jsonl"),
		strings.HasSuffix(lower, ".json"):
		return FormatNDJSON, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.FeedError(errors.CodeFileNotFound, filePath, err)
		}
		return "", errors.FeedError(errors.CodeInvalidFormat, filePath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") {
			return FormatNDJSON, nil
		}
		return FormatCSV, nil
	}
	if err := scanner.Err(); err != nil {
		return "", errors.FeedError(errors.CodeInvalidFormat, filePath, err)
	}

	return "", errors.FeedError(errors.CodeInvalidFormat, filePath,
		fmt.Errorf("file is empty")).
		WithSuggestion("Provide a feed file with at least one data row")
}

// Reader is the common surface of the CSV and NDJSON feed readers.
type Reader interface {
	// ReadAll parses the whole file into memory.
	ReadAll(ctx context.Context, filePath string) ([]*models.Transaction, *FeedStats, error)

	// Stream parses the file in batches, invoking fn for each batch. A
	// non-nil error from fn aborts the read.
	Stream(ctx context.Context, filePath string, batchSize int, fn BatchFunc) (*FeedStats, error)
}

// BatchFunc receives successive batches from a streaming read. The
// slice is reused between calls; copy it if it must outlive the call.
type BatchFunc func([]*models.Transaction) error

// Open builds a reader for the file, auto-detecting the format.
func Open(filePath string, config *ReaderConfig) (Reader, error) {
	format, err := DetectFormat(filePath)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatNDJSON:
		return NewNDJSONReader(config)
	default:
		return NewCSVReader(config)
	}
}

// RowError describes one malformed feed row.
type RowError struct {
	Line    int    `json:"line"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *RowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("row error at line %d (%s=%q): %s: %v",
			e.Line, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("row error at line %d (%s=%q): %s",
		e.Line, e.Field, e.Value, e.Message)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// FeedStats summarizes one feed read.
type FeedStats struct {
	TotalLines   int         `json:"total_lines"`
	RowsParsed   int         `json:"rows_parsed"`
	RowsValid    int         `json:"rows_valid"`
	BanksSkipped int         `json:"banks_skipped"`
	ErrorCount   int         `json:"error_count"`
	Errors       []*RowError `json:"errors,omitempty"`
}

// NewFeedStats creates an empty FeedStats.
func NewFeedStats() *FeedStats {
	return &FeedStats{
		Errors: make([]*RowError, 0),
	}
}

// AddError records a malformed row.
func (fs *FeedStats) AddError(err *RowError) {
	fs.Errors = append(fs.Errors, err)
	fs.ErrorCount++
}

// HasErrors reports whether any rows were rejected.
func (fs *FeedStats) HasErrors() bool {
	return fs.ErrorCount > 0
}

// String returns a human-readable summary.
func (fs *FeedStats) String() string {
	return fmt.Sprintf("Read %d lines, %d rows (%d valid, %d skipped by bank), %d errors",
		fs.TotalLines, fs.RowsParsed, fs.RowsValid, fs.BanksSkipped, fs.ErrorCount)
}

// SampleErrors returns up to maxSamples row errors for logging.
func (fs *FeedStats) SampleErrors(maxSamples int) []string {
	if len(fs.Errors) == 0 {
		return nil
	}

	limit := len(fs.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, fs.Errors[i].Error())
	}
	return samples
}

// applyDefaults fills scope fields a bank export does not carry from
// the reader configuration, then normalizes the bank identifier.
func applyDefaults(tx *models.Transaction, config *ReaderConfig) {
	if tx.CompanyID == "" {
		tx.CompanyID = config.DefaultCompanyID
	}
	if tx.AccountNumber == "" {
		tx.AccountNumber = config.DefaultAccountNumber
	}
	if tx.Bank == "" {
		tx.Bank = config.DefaultBank
	}
	tx.Bank = models.NormalizeBank(tx.Bank)
}

// bankAllowed applies the whitelist gate. An empty whitelist allows
// every bank.
func (c *ReaderConfig) bankAllowed(bank string) bool {
	if len(c.BankWhitelist) == 0 {
		return true
	}
	for _, allowed := range c.BankWhitelist {
		if models.NormalizeBank(allowed) == bank {
			return true
		}
	}
	return false
}
