// Package detector implements the duplicate-transaction classification
// pipeline.
//
// Every incoming transaction is fingerprinted, checked against the
// candidate cache of its (company, bank, account) scope, and classified
// into one of three outcomes:
//   - EXACT_DUPLICATE: the fingerprint already exists in the scope
//   - MODIFIED_DUPLICATE: a cached candidate clears at least one
//     similarity threshold
//   - DISTINCT: no candidate comes close enough
//
// Classification results are written to the result sink before the
// transaction joins the candidate pool, so a crash mid-processing never
// leaves a cached candidate without its durable record.
//
// Example usage:
//
//	config := detector.DefaultConfig()
//	det, err := detector.NewDetector(config, candidateCache, resultSink, tracker)
//	if err != nil {
//		return err
//	}
//	result, err := det.Process(ctx, tx)
package detector

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the classification thresholds and pipeline limits.
// Thresholds combine with OR: a candidate clearing any single metric is
// treated as a modified duplicate. Use the factory functions for common
// scenarios:
//   - DefaultConfig(): the production thresholds
//   - StrictConfig(): fewer false positives, for high-value accounts
//   - RelaxedConfig(): wider net, for exploratory reprocessing
type Config struct {
	// MaxLevenshteinDistance is the highest raw edit distance between
	// two comparison texts that still counts as a match. The value is
	// an absolute edit count, not normalized by text length.
	MaxLevenshteinDistance int `json:"max_levenshtein_distance"`

	// MinCosineSimilarity is the lowest token-frequency cosine (0 to 1)
	// that counts as a match.
	MinCosineSimilarity float64 `json:"min_cosine_similarity"`

	// MinJaroWinklerSimilarity is the lowest Jaro-Winkler score (0 to
	// 1) that counts as a match.
	MinJaroWinklerSimilarity float64 `json:"min_jaro_winkler_similarity"`

	// AmountTolerance is the absolute difference within which two
	// amounts are reported as agreeing ("amount_match" in the mosaic
	// reason). It supports the text metrics and never matches on its
	// own.
	AmountTolerance decimal.Decimal `json:"amount_tolerance"`

	// TopK limits how many cached candidates are scored per
	// transaction.
	TopK int `json:"top_k"`

	// CacheReadRetries is how many times a failed cache read is retried
	// before the transaction degrades to having no candidates.
	CacheReadRetries int `json:"cache_read_retries"`

	// CacheReadRetryDelay is the wait between cache read retries.
	CacheReadRetryDelay time.Duration `json:"cache_read_retry_delay"`

	// MaxConcurrentScopes bounds the scope fan-out in ProcessBatch.
	MaxConcurrentScopes int `json:"max_concurrent_scopes"`
}

// DefaultConfig returns the production thresholds: edit distance up to
// 3, cosine at least 0.8, Jaro-Winkler at least 0.9, amounts agreeing
// within 0.01.
func DefaultConfig() *Config {
	return &Config{
		MaxLevenshteinDistance:   3,
		MinCosineSimilarity:      0.8,
		MinJaroWinklerSimilarity: 0.9,
		AmountTolerance:          decimal.NewFromFloat(0.01),
		TopK:                     50,
		CacheReadRetries:         2,
		CacheReadRetryDelay:      50 * time.Millisecond,
		MaxConcurrentScopes:      4,
	}
}

// StrictConfig returns thresholds that only match near-identical
// transactions.
func StrictConfig() *Config {
	return &Config{
		MaxLevenshteinDistance:   1,
		MinCosineSimilarity:      0.9,
		MinJaroWinklerSimilarity: 0.95,
		AmountTolerance:          decimal.Zero,
		TopK:                     20,
		CacheReadRetries:         2,
		CacheReadRetryDelay:      50 * time.Millisecond,
		MaxConcurrentScopes:      4,
	}
}

// RelaxedConfig returns thresholds that cast a wider net, useful when
// re-examining feeds known to contain heavy edits.
func RelaxedConfig() *Config {
	return &Config{
		MaxLevenshteinDistance:   5,
		MinCosineSimilarity:      0.7,
		MinJaroWinklerSimilarity: 0.85,
		AmountTolerance:          decimal.NewFromFloat(0.05),
		TopK:                     100,
		CacheReadRetries:         3,
		CacheReadRetryDelay:      100 * time.Millisecond,
		MaxConcurrentScopes:      8,
	}
}

// Validate checks if the detector configuration is valid
func (c *Config) Validate() error {
	if c.MaxLevenshteinDistance < 0 {
		return fmt.Errorf("max levenshtein distance cannot be negative: %d", c.MaxLevenshteinDistance)
	}

	if c.MinCosineSimilarity < 0.0 || c.MinCosineSimilarity > 1.0 {
		return fmt.Errorf("min cosine similarity must be between 0.0 and 1.0: %f", c.MinCosineSimilarity)
	}

	if c.MinJaroWinklerSimilarity < 0.0 || c.MinJaroWinklerSimilarity > 1.0 {
		return fmt.Errorf("min jaro-winkler similarity must be between 0.0 and 1.0: %f", c.MinJaroWinklerSimilarity)
	}

	if c.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerance cannot be negative: %s", c.AmountTolerance)
	}

	if c.TopK <= 0 {
		return fmt.Errorf("top k must be positive: %d", c.TopK)
	}

	if c.CacheReadRetries < 0 {
		return fmt.Errorf("cache read retries cannot be negative: %d", c.CacheReadRetries)
	}

	if c.CacheReadRetries > 0 && c.CacheReadRetryDelay <= 0 {
		return fmt.Errorf("cache read retry delay must be positive when retries are enabled: %v", c.CacheReadRetryDelay)
	}

	if c.MaxConcurrentScopes <= 0 {
		return fmt.Errorf("max concurrent scopes must be positive: %d", c.MaxConcurrentScopes)
	}

	return nil
}

// Clone returns a copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
