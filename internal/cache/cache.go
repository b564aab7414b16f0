// Package cache keeps the recent-transaction candidate pool that duplicate
// detection compares against, so classification never rescans cold storage.
package cache

import (
	"context"
	"fmt"
	"time"

	"duplicates-detection-service/internal/models"
)

// CandidateCache stores candidate records per scope and answers the two
// lookups classification needs: exact fingerprint hits and a recency-biased
// top-K pool. Implementations may sit on a remote store, so every operation
// takes a context and can fail; callers must treat failures as "cache
// unavailable", not as corruption.
type CandidateCache interface {
	// Put inserts a record or refreshes the recency of an existing
	// fingerprint. Scopes are capacity-bounded; the oldest records are
	// evicted once a scope exceeds its limit.
	Put(ctx context.Context, scope models.ScopeKey, rec models.CandidateRecord) error

	// LookupExact returns the live record for a fingerprint, if any.
	LookupExact(ctx context.Context, scope models.ScopeKey, fp models.Fingerprint) (models.CandidateRecord, bool, error)

	// TopK returns up to k most recently inserted live records for the
	// scope, newest first.
	TopK(ctx context.Context, scope models.ScopeKey, k int) ([]models.CandidateRecord, error)

	// Close releases background resources. Operations after Close fail
	// with a cache-unavailable error.
	Close() error
}

// Config controls retention and sharding for the in-process cache.
type Config struct {
	// TTL bounds how long a candidate stays comparable. The default is
	// the 15 day exact-duplicate window.
	TTL time.Duration

	// MaxPerScope caps records kept per (company, bank, account) scope.
	MaxPerScope int

	// Shards spreads scopes over independent locks.
	Shards int

	// ReapInterval is how often the background reaper sweeps expired
	// records. Reads already exclude expired records lazily; the reaper
	// only reclaims memory.
	ReapInterval time.Duration
}

// DefaultConfig returns the retention settings used in production.
func DefaultConfig() *Config {
	return &Config{
		TTL:          360 * time.Hour, // 15 days
		MaxPerScope:  1000,
		Shards:       16,
		ReapInterval: 5 * time.Minute,
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive: %s", c.TTL)
	}
	if c.MaxPerScope <= 0 {
		return fmt.Errorf("max records per scope must be positive: %d", c.MaxPerScope)
	}
	if c.Shards <= 0 {
		return fmt.Errorf("shard count must be positive: %d", c.Shards)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("reap interval must be positive: %s", c.ReapInterval)
	}
	return nil
}

// Clone returns a copy so callers can tweak settings without sharing state.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
