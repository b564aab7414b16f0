package feed

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/pkg/errors"
	"duplicates-detection-service/pkg/logger"
)

// CSVReader reads column-mapped CSV feeds. Column layout comes from
// the configured BankPreset; with no preset the header row picks one
// via AutoDetectPreset. Headerless files are read positionally as
// concept, amount, date.
type CSVReader struct {
	config *ReaderConfig
	log    logger.Logger
}

// NewCSVReader creates a CSVReader from config.
func NewCSVReader(config *ReaderConfig) (*CSVReader, error) {
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

	return &CSVReader{
		config: config.Clone(),
		log:    logger.GetGlobalLogger().WithComponent("csv-feed"),
	}, nil
}

// rowCursor tracks position and header mapping through one file.
type rowCursor struct {
	line      int
	headers   []string
	headerMap map[string]int
	preset    *BankPreset
}

func (rc *rowCursor) columnIndex(name string) int {
	if name == "" {
		return -1
	}
	if index, exists := rc.headerMap[name]; exists {
		return index
	}
	lower := strings.ToLower(name)
	for header, index := range rc.headerMap {
		if strings.ToLower(header) == lower {
			return index
		}
	}
	return -1
}

// field returns the named column's trimmed value and whether the
// column exists in this file at all.
func (rc *rowCursor) field(record []string, standardName string) (string, bool) {
	index := rc.columnIndex(rc.preset.GetColumnName(standardName))
	if index == -1 || index >= len(record) {
		return "", false
	}
	return strings.TrimSpace(record[index]), true
}

// ReadAll parses the whole file into memory.
func (r *CSVReader) ReadAll(ctx context.Context, filePath string) ([]*models.Transaction, *FeedStats, error) {
	var all []*models.Transaction
	stats, err := r.Stream(ctx, filePath, 1000, func(batch []*models.Transaction) error {
		all = append(all, batch...)
		return nil
	})
	return all, stats, err
}

// Stream parses the file in batches.
func (r *CSVReader) Stream(ctx context.Context, filePath string, batchSize int, fn BatchFunc) (*FeedStats, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	r.log.WithFields(logger.Fields{
		"file_path":  filePath,
		"batch_size": batchSize,
	}).Info("Reading CSV feed")

	stats := NewFeedStats()

	file, reader, err := r.openFile(filePath)
	if err != nil {
		return stats, err
	}
	defer file.Close()

	cursor, err := r.readHeaders(reader, filePath)
	if err != nil {
		return stats, err
	}
	stats.TotalLines = cursor.line

	batch := make([]*models.Transaction, 0, batchSize)

	for {
		if err := ctx.Err(); err != nil {
			return stats, errors.InternalError(errors.CodeProcessingAborted, "read_feed", err)
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		cursor.line++
		stats.TotalLines = cursor.line

		if err != nil {
			rowErr := &RowError{
				Line:    cursor.line,
				Message: "malformed CSV row",
				Err:     err,
			}
			if abortErr := r.recordError(stats, rowErr, filePath); abortErr != nil {
				return stats, abortErr
			}
			continue
		}

		if r.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}
		stats.RowsParsed++

		tx, rowErr := r.rowToTransaction(record, cursor)
		if rowErr != nil {
			if abortErr := r.recordError(stats, rowErr, filePath); abortErr != nil {
				return stats, abortErr
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
	}).Info("CSV feed read complete")

	if stats.HasErrors() {
		r.log.WithField("sample_errors", stats.SampleErrors(3)).Warn("Feed contained malformed rows")
	}

	return stats, nil
}

// recordError collects a row error and decides whether to keep going.
func (r *CSVReader) recordError(stats *FeedStats, rowErr *RowError, filePath string) error {
	stats.AddError(rowErr)

	if !r.config.ContinueOnError {
		return errors.FeedError(errors.CodeInvalidRow, filePath, rowErr)
	}
	if r.config.MaxErrors > 0 && stats.ErrorCount >= r.config.MaxErrors {
		return errors.FeedError(errors.CodeInvalidRow, filePath,
			fmt.Errorf("aborted after %d malformed rows", stats.ErrorCount)).
			WithSuggestion("Fix the feed file or raise the error limit")
	}
	return nil
}

func (r *CSVReader) openFile(filePath string) (*os.File, *csv.Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.FeedError(errors.CodeFileNotFound, filePath, err)
		}
		return nil, nil, errors.FeedError(errors.CodeInvalidFormat, filePath, err)
	}

	if r.config.ValidateEncoding {
		if err := r.validateEncoding(file, filePath); err != nil {
			file.Close()
			return nil, nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, nil, errors.FeedError(errors.CodeInvalidFormat, filePath, err)
		}
	}

	reader := csv.NewReader(file)
	reader.Comma = r.delimiter()
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	return file, reader, nil
}

func (r *CSVReader) delimiter() rune {
	if r.config.Preset != nil && r.config.Preset.Delimiter != 0 {
		return r.config.Preset.Delimiter
	}
	return ','
}

// validateEncoding checks the first lines of the file for valid UTF-8.
func (r *CSVReader) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), r.config.MaxLineSize)

	lineNum := 0
	for scanner.Scan() && lineNum < 100 {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.FeedError(errors.CodeInvalidFormat, filePath,
				fmt.Errorf("invalid UTF-8 at line %d", lineNum)).
				WithSuggestion("Save the file in UTF-8 encoding and try again")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.FeedError(errors.CodeInvalidFormat, filePath, err)
	}
	return nil
}

// readHeaders consumes the header row and resolves the preset. A file
// without a preset must carry headers for auto-detection.
func (r *CSVReader) readHeaders(reader *csv.Reader, filePath string) (*rowCursor, error) {
	cursor := &rowCursor{
		headerMap: make(map[string]int),
		preset:    r.config.Preset,
	}

	hasHeader := true
	if cursor.preset != nil {
		hasHeader = cursor.preset.HasHeader
	}

	if !hasHeader {
		// Positional layout: concept, amount, date.
		cursor.headers = []string{
			cursor.preset.ConceptColumn,
			cursor.preset.AmountColumn,
			cursor.preset.DateColumn,
		}
		for i, header := range cursor.headers {
			cursor.headerMap[header] = i
		}
		return cursor, nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.FeedError(errors.CodeInvalidFormat, filePath,
				fmt.Errorf("file is empty")).
				WithSuggestion("Ensure the file contains a header row and data rows")
		}
		return nil, errors.FeedError(errors.CodeInvalidFormat, filePath, err)
	}
	cursor.line++

	cursor.headers = make([]string, len(headers))
	for i, header := range headers {
		cursor.headers[i] = strings.TrimSpace(header)
	}
	for i, header := range cursor.headers {
		cursor.headerMap[header] = i
	}

	if cursor.preset == nil {
		cursor.preset = AutoDetectPreset(cursor.headers)
		r.log.WithFields(logger.Fields{
			"file_path": filePath,
			"preset":    cursor.preset.Name,
		}).Debug("Auto-detected bank preset")
	}

	var missing []string
	for _, standardName := range []string{"concept", "amount", "date"} {
		if cursor.columnIndex(cursor.preset.GetColumnName(standardName)) == -1 {
			missing = append(missing, cursor.preset.GetColumnName(standardName))
		}
	}
	if len(missing) > 0 {
		return nil, errors.FeedError(errors.CodeMissingColumn, filePath,
			fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))).
			WithSuggestion(fmt.Sprintf("Ensure the file has these columns: %s", strings.Join(missing, ", ")))
	}

	return cursor, nil
}

// rowToTransaction builds a validated transaction from one record.
func (r *CSVReader) rowToTransaction(record []string, cursor *rowCursor) (*models.Transaction, *RowError) {
	amountStr, ok := cursor.field(record, "amount")
	if !ok || amountStr == "" {
		return nil, &RowError{
			Line:    cursor.line,
			Field:   cursor.preset.GetColumnName("amount"),
			Message: "missing amount",
		}
	}
	amount, err := models.ParseDecimalFromString(amountStr)
	if err != nil {
		return nil, &RowError{
			Line:    cursor.line,
			Field:   cursor.preset.GetColumnName("amount"),
			Value:   amountStr,
			Message: "invalid amount",
			Err:     err,
		}
	}

	dateStr, ok := cursor.field(record, "date")
	if !ok || dateStr == "" {
		return nil, &RowError{
			Line:    cursor.line,
			Field:   cursor.preset.GetColumnName("date"),
			Message: "missing transaction date",
		}
	}
	date, err := r.parseDate(dateStr, cursor.preset)
	if err != nil {
		return nil, &RowError{
			Line:    cursor.line,
			Field:   cursor.preset.GetColumnName("date"),
			Value:   dateStr,
			Message: "invalid transaction date",
			Err:     err,
		}
	}

	concept, _ := cursor.field(record, "concept")

	tx := &models.Transaction{
		Concept:         concept,
		Amount:          amount,
		TransactionDate: date,
	}
	if checksum, ok := cursor.field(record, "checksum"); ok {
		tx.Checksum = checksum
	}
	if currency, ok := cursor.field(record, "currency"); ok {
		tx.Currency = currency
	}
	if account, ok := cursor.field(record, "account_number"); ok {
		tx.AccountNumber = account
	}
	if bank, ok := cursor.field(record, "bank"); ok {
		tx.Bank = bank
	}
	if company, ok := cursor.field(record, "company_id"); ok {
		tx.CompanyID = company
	}

	if tx.Bank == "" {
		tx.Bank = cursor.preset.ImpliedBank()
	}
	applyDefaults(tx, r.config)

	if err := tx.Validate(); err != nil {
		return nil, &RowError{
			Line:    cursor.line,
			Field:   "row",
			Message: "transaction validation failed",
			Err:     err,
		}
	}

	return tx, nil
}

// parseDate tries the preset's format first, then the shared fallback
// formats.
func (r *CSVReader) parseDate(value string, preset *BankPreset) (time.Time, error) {
	if t, err := time.Parse(preset.DateFormat, value); err == nil {
		return t, nil
	}
	return models.ParseDateWithFormats(value)
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
