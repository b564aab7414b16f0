// Package recurrence tracks how often a normalized concept appears per
// month within a scope. The signal is advisory: it never changes how a
// transaction is classified, it only annotates results so downstream
// consumers can tell "duplicate upload" from "monthly payroll showing up
// again".
package recurrence

import (
	"fmt"
	"sync"
	"time"

	"duplicates-detection-service/internal/models"
)

// monthFormat buckets counts per calendar month.
const monthFormat = "2006-01"

// Config controls retention and the lookback window.
type Config struct {
	// Retention bounds how long a concept's history survives after the
	// last recorded occurrence.
	Retention time.Duration

	// LookbackMonths lists which previous months a recurrence check
	// inspects, as offsets from the transaction's month.
	LookbackMonths []int
}

// DefaultConfig keeps one year of history and checks the previous six
// months, matching the production pattern window.
func DefaultConfig() *Config {
	return &Config{
		Retention:      365 * 24 * time.Hour,
		LookbackMonths: []int{1, 2, 3, 4, 5, 6},
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive: %s", c.Retention)
	}
	for _, offset := range c.LookbackMonths {
		if offset <= 0 {
			return fmt.Errorf("lookback offsets must be positive months: %d", offset)
		}
	}
	return nil
}

// Pattern is the recurrence annotation attached to a detection result.
type Pattern struct {
	// Recurring is true when any inspected past month has at least one
	// occurrence of the concept.
	Recurring bool `json:"recurring"`

	// MonthlyCounts maps "count_N_month_ago" labels to occurrence counts
	// for each configured lookback offset.
	MonthlyCounts map[string]int `json:"monthly_counts"`
}

// Tracker counts concept occurrences per scope and month.
type Tracker struct {
	mu        sync.RWMutex
	histories map[string]*conceptHistory
	config    *Config

	now func() time.Time
}

type conceptHistory struct {
	months      map[string]int
	lastTouched time.Time
}

// NewTracker builds a tracker from config.
func NewTracker(config *Config) (*Tracker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	clone := *config
	clone.LookbackMonths = append([]int(nil), config.LookbackMonths...)
	return &Tracker{
		histories: make(map[string]*conceptHistory),
		config:    &clone,
		now:       time.Now,
	}, nil
}

// Record registers one occurrence of conceptKey in the month of date.
// Call it only when a transaction is newly cached, never for exact
// duplicates, so repeated uploads do not inflate the pattern.
func (t *Tracker) Record(scope models.ScopeKey, conceptKey string, date time.Time) {
	if conceptKey == "" || date.IsZero() {
		return
	}

	key := historyKey(scope, conceptKey)
	month := date.Format(monthFormat)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	history, ok := t.histories[key]
	if !ok {
		history = &conceptHistory{months: make(map[string]int)}
		t.histories[key] = history
	}
	history.months[month]++
	history.lastTouched = now

	// Drop month buckets that have aged out of retention while we hold
	// the key anyway
	cutoff := now.Add(-t.config.Retention)
	for m := range history.months {
		if monthTime, err := time.Parse(monthFormat, m); err == nil && monthTime.Before(cutoff) {
			delete(history.months, m)
		}
	}
}

// Check reports whether conceptKey appeared in any of the configured
// previous months relative to date. The current month never counts toward
// recurrence: the caller is usually about to record this very occurrence.
func (t *Tracker) Check(scope models.ScopeKey, conceptKey string, date time.Time) Pattern {
	counts := make(map[string]int, len(t.config.LookbackMonths))
	for _, offset := range t.config.LookbackMonths {
		counts[countLabel(offset)] = 0
	}

	pattern := Pattern{MonthlyCounts: counts}
	if conceptKey == "" || date.IsZero() || len(t.config.LookbackMonths) == 0 {
		return pattern
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	history, ok := t.histories[historyKey(scope, conceptKey)]
	if !ok {
		return pattern
	}

	// Anchor on the first of the month so offsets step whole calendar
	// months regardless of the day
	anchor := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	for _, offset := range t.config.LookbackMonths {
		month := anchor.AddDate(0, -offset, 0).Format(monthFormat)
		if count := history.months[month]; count > 0 {
			counts[countLabel(offset)] = count
			pattern.Recurring = true
		}
	}
	return pattern
}

// Prune removes concept histories with no activity inside the retention
// window. Safe to call at any time; the owner typically runs it between
// batches.
func (t *Tracker) Prune() int {
	cutoff := t.now().Add(-t.config.Retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, history := range t.histories {
		if history.lastTouched.Before(cutoff) {
			delete(t.histories, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked concept histories.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.histories)
}

func historyKey(scope models.ScopeKey, conceptKey string) string {
	return scope.String() + ":" + conceptKey
}

func countLabel(offset int) string {
	return fmt.Sprintf("count_%d_month_ago", offset)
}
