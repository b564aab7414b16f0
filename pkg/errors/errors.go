package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryFeed          ErrorCategory = "feed"
	CategoryCache         ErrorCategory = "cache"
	CategorySink          ErrorCategory = "sink"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Validation errors
	CodeMissingField  ErrorCode = "missing_field"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidScope  ErrorCode = "invalid_scope"

	// Feed errors
	CodeFileNotFound  ErrorCode = "file_not_found"
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidRow    ErrorCode = "invalid_row"

	// Cache errors
	CodeCacheUnavailable ErrorCode = "cache_unavailable"
	CodeCacheTimeout     ErrorCode = "cache_timeout"
	CodeCacheWriteFailed ErrorCode = "cache_write_failed"

	// Sink errors
	CodeSinkWriteFailed ErrorCode = "sink_write_failed"
	CodeSinkUnavailable ErrorCode = "sink_unavailable"
	CodeSinkSchema      ErrorCode = "sink_schema"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Internal errors
	CodeUnexpectedError   ErrorCode = "unexpected_error"
	CodeProcessingAborted ErrorCode = "processing_aborted"
)

// DetectorError is the base error type for all application errors
type DetectorError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *DetectorError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *DetectorError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *DetectorError) GetExitCode() int {
	switch e.Category {
	case CategoryFeed:
		return 2
	case CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryInternal:
		return 5
	case CategoryCache:
		return 6
	case CategorySink:
		return 7
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *DetectorError) WithContext(key string, value interface{}) *DetectorError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *DetectorError) WithSuggestion(suggestion string) *DetectorError {
	e.Suggestion = suggestion
	return e
}

// New creates a new DetectorError
func New(category ErrorCategory, code ErrorCode, message string) *DetectorError {
	return &DetectorError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with DetectorError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *DetectorError {
	if err == nil {
		return nil
	}

	return &DetectorError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// ValidationError creates a validation-related error. Transactions that
// fail validation are rejected before fingerprinting; no record is emitted
// for them and the cache is never touched.
func ValidationError(code ErrorCode, field string, value interface{}, err error) *DetectorError {
	var message string
	var suggestion string

	switch code {
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use date format YYYY-MM-DD"
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "ensure amounts are valid decimal numbers (e.g., '12.34')"
	case CodeInvalidScope:
		message = fmt.Sprintf("invalid scope field '%s': %v", field, value)
		suggestion = "company_id, bank and account_number must all be non-empty"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	var result *DetectorError
	if err != nil {
		result = Wrap(err, CategoryValidation, code, message)
	} else {
		result = New(CategoryValidation, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// FeedError creates a feed-file-related error
func FeedError(code ErrorCode, path string, err error) *DetectorError {
	var message string
	var suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("feed file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeInvalidFormat:
		message = fmt.Sprintf("unrecognized feed format: %s", path)
		suggestion = "use a CSV or NDJSON feed file"
	case CodeMissingColumn:
		message = fmt.Sprintf("feed file is missing required columns: %s", path)
		suggestion = "verify the file has all required columns with correct headers"
	case CodeInvalidRow:
		message = fmt.Sprintf("feed file contains invalid rows: %s", path)
		suggestion = "fix or remove the malformed rows and retry"
	default:
		message = fmt.Sprintf("feed error: %s", path)
		suggestion = "check the feed file and try again"
	}

	var result *DetectorError
	if err != nil {
		result = Wrap(err, CategoryFeed, code, message)
	} else {
		result = New(CategoryFeed, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// CacheError creates a candidate-cache-related error. Cache failures never
// fail the transaction outright: reads degrade the classification to
// distinct, writes are retried in the background.
func CacheError(code ErrorCode, operation string, err error) *DetectorError {
	var message string
	var suggestion string

	switch code {
	case CodeCacheUnavailable:
		message = fmt.Sprintf("candidate cache unavailable during %s", operation)
		suggestion = "check cache backend connectivity; affected records are flagged degraded"
	case CodeCacheTimeout:
		message = fmt.Sprintf("candidate cache timed out during %s", operation)
		suggestion = "increase the cache timeout or check backend load"
	case CodeCacheWriteFailed:
		message = fmt.Sprintf("candidate cache write failed during %s", operation)
		suggestion = "the write is retried asynchronously; check cache backend health"
	default:
		message = fmt.Sprintf("cache error during %s", operation)
		suggestion = "check the cache backend and try again"
	}

	var result *DetectorError
	if err != nil {
		result = Wrap(err, CategoryCache, code, message)
	} else {
		result = New(CategoryCache, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// SinkError creates a result-sink-related error. Classified records are
// never dropped on sink failure; they are buffered and retried.
func SinkError(code ErrorCode, table string, err error) *DetectorError {
	var message string
	var suggestion string

	switch code {
	case CodeSinkWriteFailed:
		message = fmt.Sprintf("durable write to '%s' failed", table)
		suggestion = "the record is buffered for retry; check sink connectivity"
	case CodeSinkUnavailable:
		message = fmt.Sprintf("result sink unavailable for '%s'", table)
		suggestion = "check sink credentials and endpoint availability"
	case CodeSinkSchema:
		message = fmt.Sprintf("result sink schema mismatch on '%s'", table)
		suggestion = "ensure the destination table matches the expected schema"
	default:
		message = fmt.Sprintf("sink error on '%s'", table)
		suggestion = "check the result sink and try again"
	}

	var result *DetectorError
	if err != nil {
		result = Wrap(err, CategorySink, code, message)
	} else {
		result = New(CategorySink, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("table", table)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *DetectorError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use an environment variable"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	var result *DetectorError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, code, message)
	} else {
		result = New(CategoryConfiguration, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *DetectorError {
	var message string
	var suggestion string

	switch code {
	case CodeUnexpectedError:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	case CodeProcessingAborted:
		message = fmt.Sprintf("processing aborted during %s", operation)
		suggestion = "the transaction was not classified; reprocess it"
	default:
		message = fmt.Sprintf("internal error during %s", operation)
		suggestion = "try again or contact support if the problem persists"
	}

	var result *DetectorError
	if err != nil {
		result = Wrap(err, CategoryInternal, code, message)
	} else {
		result = New(CategoryInternal, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*DetectorError      `json:"errors"`
	SampleErrors []*DetectorError      `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errors []*DetectorError) *ErrorSummary {
	if len(errors) == 0 {
		return &ErrorSummary{
			Total:      0,
			ByCategory: make(map[ErrorCategory]int),
			ByCode:     make(map[ErrorCode]int),
			Errors:     []*DetectorError{},
		}
	}

	summary := &ErrorSummary{
		Total:      len(errors),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errors,
	}

	for _, err := range errors {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	// Include sample errors (max 5)
	maxSamples := 5
	if len(errors) > maxSamples {
		summary.SampleErrors = errors[:maxSamples]
	} else {
		summary.SampleErrors = errors
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	count, exists := es.ByCategory[category]
	return exists && count > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	count, exists := es.ByCode[code]
	return exists && count > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// Utility functions

// IsDetectorError checks if an error is a DetectorError
func IsDetectorError(err error) bool {
	_, ok := err.(*DetectorError)
	return ok
}

// AsDetectorError extracts a DetectorError from an error chain
func AsDetectorError(err error) (*DetectorError, bool) {
	var detectorErr *DetectorError
	if errors.As(err, &detectorErr) {
		return detectorErr, true
	}
	return nil, false
}

// IsCategory reports whether err belongs to the given category
func IsCategory(err error, category ErrorCategory) bool {
	if detectorErr, ok := AsDetectorError(err); ok {
		return detectorErr.Category == category
	}
	return false
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return IsCategory(err, CategoryValidation)
}

// IsCacheUnavailable reports whether err indicates an unreachable or
// timed-out cache backend
func IsCacheUnavailable(err error) bool {
	if detectorErr, ok := AsDetectorError(err); ok {
		return detectorErr.Category == CategoryCache &&
			(detectorErr.Code == CodeCacheUnavailable || detectorErr.Code == CodeCacheTimeout)
	}
	return false
}

// IsSinkWrite reports whether err is a sink write failure
func IsSinkWrite(err error) bool {
	return IsCategory(err, CategorySink)
}

// WrapIfNeeded wraps an error if it's not already a DetectorError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *DetectorError {
	if err == nil {
		return nil
	}

	if detectorErr, ok := AsDetectorError(err); ok {
		return detectorErr
	}

	return Wrap(err, category, code, message)
}
