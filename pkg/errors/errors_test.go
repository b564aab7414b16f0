package errors

import (
	"errors"
	"testing"
)

func TestDetectorError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
	}{
		{
			name:       "feed error",
			category:   CategoryFeed,
			code:       CodeFileNotFound,
			message:    "feed file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
		},
		{
			name:       "validation error",
			category:   CategoryValidation,
			code:       CodeMissingField,
			message:    "required field missing",
			cause:      nil,
			expectCode: 3,
		},
		{
			name:       "configuration error",
			category:   CategoryConfiguration,
			code:       CodeInvalidConfig,
			message:    "invalid config",
			cause:      errors.New("missing field"),
			expectCode: 4,
		},
		{
			name:       "cache error",
			category:   CategoryCache,
			code:       CodeCacheUnavailable,
			message:    "cache unreachable",
			cause:      errors.New("connection refused"),
			expectCode: 6,
		},
		{
			name:       "sink error",
			category:   CategorySink,
			code:       CodeSinkWriteFailed,
			message:    "insert failed",
			cause:      errors.New("deadline exceeded"),
			expectCode: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *DetectorError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.Message != tt.message {
				t.Errorf("expected message %s, got %s", tt.message, err.Message)
			}

			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}

			if err.Error() != tt.message {
				t.Errorf("expected error string %s, got %s", tt.message, err.Error())
			}

			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
		})
	}
}

func TestDetectorErrorWithContext(t *testing.T) {
	err := New(CategoryCache, CodeCacheUnavailable, "test error").
		WithContext("operation", "lookup_exact").
		WithContext("scope", "c1:bbva:123").
		WithSuggestion("check cache backend")

	if err.Context["operation"] != "lookup_exact" {
		t.Errorf("expected operation context 'lookup_exact', got %v", err.Context["operation"])
	}
	if err.Context["scope"] != "c1:bbva:123" {
		t.Errorf("expected scope context 'c1:bbva:123', got %v", err.Context["scope"])
	}

	if err.Suggestion != "check cache backend" {
		t.Errorf("expected suggestion 'check cache backend', got %s", err.Suggestion)
	}

	expected := "test error (suggestion: check cache backend)"
	if err.Error() != expected {
		t.Errorf("expected error string '%s', got '%s'", expected, err.Error())
	}
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError(CodeInvalidAmount, "amount", "12.3.4", nil)

		if err.Category != CategoryValidation {
			t.Errorf("expected validation category, got %s", err.Category)
		}
		if err.Context["field"] != "amount" {
			t.Errorf("expected field context, got %v", err.Context["field"])
		}
		if err.Context["value"] != "12.3.4" {
			t.Errorf("expected value context, got %v", err.Context["value"])
		}
		if err.Suggestion == "" {
			t.Error("expected suggestion to be set")
		}
	})

	t.Run("FeedError", func(t *testing.T) {
		cause := errors.New("permission denied")
		err := FeedError(CodeFileNotFound, "/feeds/bbva.csv", cause)

		if err.Category != CategoryFeed {
			t.Errorf("expected feed category, got %s", err.Category)
		}
		if err.Context["file_path"] != "/feeds/bbva.csv" {
			t.Errorf("expected file_path context, got %v", err.Context["file_path"])
		}
		if err.Cause != cause {
			t.Errorf("expected cause to be %v, got %v", cause, err.Cause)
		}
	})

	t.Run("CacheError", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := CacheError(CodeCacheUnavailable, "top_k", cause)

		if err.Category != CategoryCache {
			t.Errorf("expected cache category, got %s", err.Category)
		}
		if err.Context["operation"] != "top_k" {
			t.Errorf("expected operation context, got %v", err.Context["operation"])
		}
	})

	t.Run("SinkError", func(t *testing.T) {
		err := SinkError(CodeSinkWriteFailed, "analyze_transactions", errors.New("timeout"))

		if err.Category != CategorySink {
			t.Errorf("expected sink category, got %s", err.Category)
		}
		if err.Context["table"] != "analyze_transactions" {
			t.Errorf("expected table context, got %v", err.Context["table"])
		}
	})
}

func TestErrorSummary(t *testing.T) {
	errs := []*DetectorError{
		New(CategoryFeed, CodeFileNotFound, "error 1"),
		New(CategoryFeed, CodeInvalidRow, "error 2"),
		New(CategoryValidation, CodeMissingField, "error 3"),
		New(CategoryValidation, CodeInvalidDate, "error 4"),
		New(CategorySink, CodeSinkWriteFailed, "error 5"),
	}

	summary := NewErrorSummary(errs)

	if summary.Total != 5 {
		t.Errorf("expected total 5, got %d", summary.Total)
	}

	if summary.ByCategory[CategoryFeed] != 2 {
		t.Errorf("expected 2 feed errors, got %d", summary.ByCategory[CategoryFeed])
	}
	if summary.ByCategory[CategoryValidation] != 2 {
		t.Errorf("expected 2 validation errors, got %d", summary.ByCategory[CategoryValidation])
	}
	if summary.ByCategory[CategorySink] != 1 {
		t.Errorf("expected 1 sink error, got %d", summary.ByCategory[CategorySink])
	}

	if summary.ByCode[CodeFileNotFound] != 1 {
		t.Errorf("expected 1 file not found error, got %d", summary.ByCode[CodeFileNotFound])
	}

	if summary.Error() == "" {
		t.Error("expected non-empty error string")
	}

	if !summary.HasCategory(CategoryFeed) {
		t.Error("expected to have feed category")
	}
	if summary.HasCategory(CategoryCache) {
		t.Error("expected not to have cache category")
	}

	// Sink errors carry the highest exit code in this set
	if summary.GetExitCode() != 7 {
		t.Errorf("expected exit code 7, got %d", summary.GetExitCode())
	}
}

func TestEmptyErrorSummary(t *testing.T) {
	summary := NewErrorSummary([]*DetectorError{})

	if summary.Total != 0 {
		t.Errorf("expected total 0, got %d", summary.Total)
	}
	if summary.Error() != "no errors" {
		t.Errorf("expected 'no errors', got '%s'", summary.Error())
	}
	if summary.GetExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", summary.GetExitCode())
	}
}

func TestSingleErrorSummary(t *testing.T) {
	err := New(CategoryFeed, CodeFileNotFound, "single error")
	summary := NewErrorSummary([]*DetectorError{err})

	if summary.Total != 1 {
		t.Errorf("expected total 1, got %d", summary.Total)
	}
	if summary.Error() != "single error" {
		t.Errorf("expected 'single error', got '%s'", summary.Error())
	}
}

func TestIsDetectorError(t *testing.T) {
	detectorErr := New(CategoryFeed, CodeFileNotFound, "test")
	genericErr := errors.New("generic error")

	if !IsDetectorError(detectorErr) {
		t.Error("expected IsDetectorError to return true for DetectorError")
	}
	if IsDetectorError(genericErr) {
		t.Error("expected IsDetectorError to return false for generic error")
	}
	if IsDetectorError(nil) {
		t.Error("expected IsDetectorError to return false for nil")
	}
}

func TestAsDetectorError(t *testing.T) {
	detectorErr := New(CategoryCache, CodeCacheUnavailable, "test")
	genericErr := errors.New("generic error")

	if extracted, ok := AsDetectorError(detectorErr); !ok || extracted != detectorErr {
		t.Error("expected AsDetectorError to extract DetectorError")
	}

	if _, ok := AsDetectorError(genericErr); ok {
		t.Error("expected AsDetectorError to return false for generic error")
	}

	if _, ok := AsDetectorError(nil); ok {
		t.Error("expected AsDetectorError to return false for nil")
	}
}

func TestCategoryPredicates(t *testing.T) {
	validationErr := ValidationError(CodeMissingField, "bank", nil, nil)
	cacheErr := CacheError(CodeCacheUnavailable, "lookup_exact", errors.New("refused"))
	timeoutErr := CacheError(CodeCacheTimeout, "top_k", errors.New("deadline"))
	cacheWriteErr := CacheError(CodeCacheWriteFailed, "put", errors.New("refused"))
	sinkErr := SinkError(CodeSinkWriteFailed, "updates_transactions", errors.New("timeout"))

	if !IsValidation(validationErr) {
		t.Error("expected IsValidation true for validation error")
	}
	if IsValidation(cacheErr) {
		t.Error("expected IsValidation false for cache error")
	}

	if !IsCacheUnavailable(cacheErr) {
		t.Error("expected IsCacheUnavailable true for cache_unavailable")
	}
	if !IsCacheUnavailable(timeoutErr) {
		t.Error("expected IsCacheUnavailable true for cache_timeout")
	}
	if IsCacheUnavailable(cacheWriteErr) {
		t.Error("expected IsCacheUnavailable false for cache_write_failed")
	}
	if IsCacheUnavailable(sinkErr) {
		t.Error("expected IsCacheUnavailable false for sink error")
	}

	if !IsSinkWrite(sinkErr) {
		t.Error("expected IsSinkWrite true for sink error")
	}
	if IsSinkWrite(validationErr) {
		t.Error("expected IsSinkWrite false for validation error")
	}
}

func TestWrapIfNeeded(t *testing.T) {
	detectorErr := New(CategoryFeed, CodeFileNotFound, "test")
	genericErr := errors.New("generic error")

	result1 := WrapIfNeeded(detectorErr, CategoryInternal, CodeUnexpectedError, "wrapped")
	if result1 != detectorErr {
		t.Error("expected WrapIfNeeded to return original DetectorError")
	}

	result2 := WrapIfNeeded(genericErr, CategoryInternal, CodeUnexpectedError, "wrapped")
	if result2.Cause != genericErr {
		t.Error("expected WrapIfNeeded to wrap generic error")
	}
	if result2.Category != CategoryInternal {
		t.Error("expected wrapped error to have correct category")
	}

	result3 := WrapIfNeeded(nil, CategoryInternal, CodeUnexpectedError, "wrapped")
	if result3 != nil {
		t.Error("expected WrapIfNeeded to return nil for nil input")
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		category     ErrorCategory
		expectedCode int
	}{
		{CategoryFeed, 2},
		{CategoryValidation, 3},
		{CategoryConfiguration, 4},
		{CategoryInternal, 5},
		{CategoryCache, 6},
		{CategorySink, 7},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := New(tt.category, "test_code", "test message")
			if err.GetExitCode() != tt.expectedCode {
				t.Errorf("expected exit code %d for category %s, got %d",
					tt.expectedCode, tt.category, err.GetExitCode())
			}
		})
	}
}
