package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RowContext provides context information for feed-row errors
type RowContext struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   string `json:"column"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// FeedRowError extends the base feed error with row-level context. A
// recoverable row error skips the row and continues the feed; an
// unrecoverable one aborts the whole file.
type FeedRowError struct {
	*DetectorError
	Context     *RowContext `json:"context"`
	Recoverable bool        `json:"recoverable"`
	LineContent string      `json:"line_content,omitempty"`
}

// Error implements the error interface with row location appended
func (e *FeedRowError) Error() string {
	var parts []string

	parts = append(parts, e.DetectorError.Error())

	if e.Context != nil {
		location := fmt.Sprintf("at %s", filepath.Base(e.Context.File))
		if e.Context.Line > 0 {
			location += fmt.Sprintf(":%d", e.Context.Line)
		}
		if e.Context.Column != "" {
			location += fmt.Sprintf(" column '%s'", e.Context.Column)
		}
		parts = append(parts, location)
	}

	return strings.Join(parts, " ")
}

// GetDetailedError returns a detailed multi-line error description
func (e *FeedRowError) GetDetailedError() string {
	var lines []string

	lines = append(lines, fmt.Sprintf("ERROR: %s", e.Message))

	if e.Context != nil {
		lines = append(lines, fmt.Sprintf("  -> File: %s", e.Context.File))
		if e.Context.Line > 0 {
			lines = append(lines, fmt.Sprintf("  -> Line: %d", e.Context.Line))
		}
		if e.Context.Column != "" {
			lines = append(lines, fmt.Sprintf("  -> Column: %s", e.Context.Column))
		}
		if e.Context.Value != "" {
			lines = append(lines, fmt.Sprintf("  -> Value: '%s'", e.Context.Value))
		}
		if e.Context.Expected != "" {
			lines = append(lines, fmt.Sprintf("  -> Expected: %s", e.Context.Expected))
		}
	}

	if e.LineContent != "" {
		lines = append(lines, fmt.Sprintf("  -> Content: %s", e.LineContent))
	}

	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  -> Suggestion: %s", e.Suggestion))
	}

	return strings.Join(lines, "\n")
}

// NewFeedRowError creates a new row-scoped feed error
func NewFeedRowError(code ErrorCode, context *RowContext, message string, cause error) *FeedRowError {
	var base *DetectorError
	if cause != nil {
		base = Wrap(cause, CategoryFeed, code, message)
	} else {
		base = New(CategoryFeed, code, message)
	}

	if context != nil {
		base.WithContext("file", context.File).
			WithContext("line", context.Line).
			WithContext("column", context.Column).
			WithContext("value", context.Value)
	}

	return &FeedRowError{
		DetectorError: base,
		Context:       context,
		Recoverable:   true,
	}
}

// WithLineContent adds the raw line content to the error
func (e *FeedRowError) WithLineContent(content string) *FeedRowError {
	e.LineContent = content
	return e
}

// WithSuggestion adds a suggestion and returns the FeedRowError
func (e *FeedRowError) WithSuggestion(suggestion string) *FeedRowError {
	e.DetectorError.WithSuggestion(suggestion)
	return e
}

// WithRecoverable sets whether this error is recoverable
func (e *FeedRowError) WithRecoverable(recoverable bool) *FeedRowError {
	e.Recoverable = recoverable
	return e
}

// Common feed-row error constructors

// InvalidRowAmountError creates an error for an unparseable amount cell
func InvalidRowAmountError(file string, line int, column string, value string) *FeedRowError {
	context := &RowContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "decimal number",
	}

	return NewFeedRowError(CodeInvalidRow, context, "invalid amount format", nil).
		WithSuggestion("remove currency symbols and use decimal format (e.g. 1250.50)")
}

// InvalidRowDateError creates an error for an unparseable date cell
func InvalidRowDateError(file string, line int, column string, value string) *FeedRowError {
	context := &RowContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    value,
		Expected: "date in YYYY-MM-DD format",
	}

	return NewFeedRowError(CodeInvalidRow, context, "invalid date format", nil).
		WithSuggestion("use YYYY-MM-DD format (e.g. 2024-01-15)")
}

// MissingColumnsError creates an error for missing required feed columns
func MissingColumnsError(file string, expectedColumns []string, actualColumns []string) *FeedRowError {
	missing := findMissingColumns(expectedColumns, actualColumns)

	context := &RowContext{
		File:     file,
		Line:     1,
		Expected: fmt.Sprintf("columns: %s", strings.Join(expectedColumns, ", ")),
	}

	message := fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", "))
	err := NewFeedRowError(CodeMissingColumn, context, message, nil).
		WithSuggestion("add the missing columns to the feed header or configure a field mapping")

	err.Recoverable = false
	return err
}

// EmptyValueError creates an error for an empty required cell
func EmptyValueError(file string, line int, column string) *FeedRowError {
	context := &RowContext{
		File:     file,
		Line:     line,
		Column:   column,
		Value:    "",
		Expected: "non-empty value",
	}

	return NewFeedRowError(CodeInvalidRow, context, "required field is empty", nil).
		WithSuggestion("provide a value for this required field")
}

// SkippedBankError marks a row whose bank is outside the configured whitelist
func SkippedBankError(file string, line int, bank string) *FeedRowError {
	context := &RowContext{
		File:   file,
		Line:   line,
		Column: "bank",
		Value:  bank,
	}

	return NewFeedRowError(CodeInvalidRow, context,
		fmt.Sprintf("bank '%s' is not in the configured whitelist", bank), nil).
		WithSuggestion("add the bank to the whitelist or remove its rows from the feed")
}

// RowErrorCollector collects row errors during feed processing
type RowErrorCollector struct {
	errors          []*FeedRowError
	maxErrors       int
	continueOnError bool
}

// NewRowErrorCollector creates a new row error collector
func NewRowErrorCollector(maxErrors int, continueOnError bool) *RowErrorCollector {
	return &RowErrorCollector{
		errors:          make([]*FeedRowError, 0),
		maxErrors:       maxErrors,
		continueOnError: continueOnError,
	}
}

// Add adds an error to the collector and reports whether processing
// should continue
func (c *RowErrorCollector) Add(err *FeedRowError) bool {
	if err == nil {
		return true
	}

	c.errors = append(c.errors, err)

	if len(c.errors) >= c.maxErrors {
		return false
	}

	return c.continueOnError || err.Recoverable
}

// HasErrors returns true if any errors have been collected
func (c *RowErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// GetErrors returns all collected errors
func (c *RowErrorCollector) GetErrors() []*FeedRowError {
	return c.errors
}

// GetDetectorErrors converts all errors to the base DetectorError type
func (c *RowErrorCollector) GetDetectorErrors() []*DetectorError {
	result := make([]*DetectorError, len(c.errors))
	for i, err := range c.errors {
		result[i] = err.DetectorError
	}
	return result
}

// GetSummary returns an error summary for all collected errors
func (c *RowErrorCollector) GetSummary() *ErrorSummary {
	return NewErrorSummary(c.GetDetectorErrors())
}

// Clear clears all collected errors
func (c *RowErrorCollector) Clear() {
	c.errors = c.errors[:0]
}

func findMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool)
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}

	return missing
}

// FormatRowErrorsForUser formats multiple row errors in a user-friendly way
func FormatRowErrorsForUser(errors []*FeedRowError) string {
	if len(errors) == 0 {
		return "No feed errors"
	}

	if len(errors) == 1 {
		return errors[0].GetDetailedError()
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Found %d feed errors:", len(errors)))
	lines = append(lines, "")

	errorsByFile := make(map[string][]*FeedRowError)
	for _, err := range errors {
		file := "unknown"
		if err.Context != nil {
			file = filepath.Base(err.Context.File)
		}
		errorsByFile[file] = append(errorsByFile[file], err)
	}

	for file, fileErrors := range errorsByFile {
		lines = append(lines, fmt.Sprintf("File: %s (%d errors)", file, len(fileErrors)))

		// Show the first few in detail, summarize the rest
		maxDetailedErrors := 3
		for i, err := range fileErrors {
			if i < maxDetailedErrors {
				lines = append(lines, "")
				lines = append(lines, err.GetDetailedError())
			} else if i == maxDetailedErrors {
				remaining := len(fileErrors) - maxDetailedErrors
				lines = append(lines, "")
				lines = append(lines, fmt.Sprintf("... and %d more errors in this file", remaining))
				break
			}
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}
