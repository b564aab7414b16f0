package sink

import (
	"context"
	"sync"

	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/pkg/errors"
)

// MemorySink collects records in process memory. It backs tests and
// dry runs where results should be inspected rather than persisted.
type MemorySink struct {
	mu        sync.Mutex
	conflicts []models.ConflictRecord
	updates   []models.UpdateRecord
	closed    bool
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// WriteConflict appends one conflict record.
func (s *MemorySink) WriteConflict(ctx context.Context, rec *models.ConflictRecord) error {
	if err := validateConflict(rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.SinkError(errors.CodeSinkWriteFailed, ConflictTable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.SinkError(errors.CodeSinkUnavailable, ConflictTable, nil)
	}
	s.conflicts = append(s.conflicts, *rec)
	return nil
}

// WriteUpdate appends one update record.
func (s *MemorySink) WriteUpdate(ctx context.Context, rec *models.UpdateRecord) error {
	if err := validateUpdate(rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.SinkError(errors.CodeSinkWriteFailed, UpdateTable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.SinkError(errors.CodeSinkUnavailable, UpdateTable, nil)
	}
	s.updates = append(s.updates, *rec)
	return nil
}

// Flush is a no-op: records are durable the moment they are appended.
func (s *MemorySink) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Close marks the sink unusable. Collected records stay readable.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Conflicts returns a copy of the collected conflict records.
func (s *MemorySink) Conflicts() []models.ConflictRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConflictRecord, len(s.conflicts))
	copy(out, s.conflicts)
	return out
}

// Updates returns a copy of the collected update records.
func (s *MemorySink) Updates() []models.UpdateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UpdateRecord, len(s.updates))
	copy(out, s.updates)
	return out
}

// Reset discards all collected records.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = nil
	s.updates = nil
}
