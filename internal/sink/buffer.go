package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/pkg/errors"
	"duplicates-detection-service/pkg/logger"
)

// BufferConfig controls the retry behavior of BufferedSink.
type BufferConfig struct {
	// RetryInitialDelay is the wait before the first retry pass.
	RetryInitialDelay time.Duration

	// RetryMaxDelay caps the exponential backoff.
	RetryMaxDelay time.Duration

	// RetryMultiplier grows the delay after each failed pass.
	RetryMultiplier float64

	// WriteTimeout bounds each individual backend write.
	WriteTimeout time.Duration

	// MaxPending caps the retry queue. When the queue is full, writes
	// that fail return their error to the caller instead of queueing.
	MaxPending int
}

// DefaultBufferConfig returns the standard retry settings.
func DefaultBufferConfig() *BufferConfig {
	return &BufferConfig{
		RetryInitialDelay: 1 * time.Second,
		RetryMaxDelay:     30 * time.Second,
		RetryMultiplier:   2.0,
		WriteTimeout:      30 * time.Second,
		MaxPending:        10000,
	}
}

// Validate checks the configuration for usable values
func (c *BufferConfig) Validate() error {
	if c.RetryInitialDelay <= 0 {
		return fmt.Errorf("retry initial delay must be positive, got %v", c.RetryInitialDelay)
	}
	if c.RetryMaxDelay < c.RetryInitialDelay {
		return fmt.Errorf("retry max delay %v cannot be below the initial delay %v", c.RetryMaxDelay, c.RetryInitialDelay)
	}
	if c.RetryMultiplier < 1.0 {
		return fmt.Errorf("retry multiplier must be at least 1.0, got %v", c.RetryMultiplier)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %v", c.WriteTimeout)
	}
	if c.MaxPending <= 0 {
		return fmt.Errorf("max pending must be positive, got %d", c.MaxPending)
	}
	return nil
}

// Clone returns a copy of the configuration
func (c *BufferConfig) Clone() *BufferConfig {
	clone := *c
	return &clone
}

// pendingRecord holds one queued write. Exactly one of the two record
// pointers is set.
type pendingRecord struct {
	conflict *models.ConflictRecord
	update   *models.UpdateRecord
}

// BufferedSink decorates another Sink with a retry queue. A record
// whose direct write fails is queued and retried in the background
// with exponential backoff, so a classified transaction survives
// transient sink outages. Validation failures are returned immediately
// and never queued; retrying cannot fix a malformed record.
type BufferedSink struct {
	config  *BufferConfig
	backend Sink
	log     logger.Logger

	mu      sync.Mutex
	pending []pendingRecord

	wake      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewBufferedSink wraps backend with queue-and-retry semantics. The
// returned sink owns the backend and closes it on Close.
func NewBufferedSink(backend Sink, config *BufferConfig) (*BufferedSink, error) {
	if config == nil {
		config = DefaultBufferConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "sink.buffer", nil, err)
	}

	b := &BufferedSink{
		config:  config.Clone(),
		backend: backend,
		log:     logger.GetGlobalLogger().WithComponent("buffered-sink"),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go b.retryLoop()
	return b, nil
}

// WriteConflict writes through to the backend; on an operational
// failure the record is queued for retry and nil is returned.
func (b *BufferedSink) WriteConflict(ctx context.Context, rec *models.ConflictRecord) error {
	if err := validateConflict(rec); err != nil {
		return err
	}
	clone := *rec
	return b.write(ctx, pendingRecord{conflict: &clone})
}

// WriteUpdate writes through to the backend; on an operational failure
// the record is queued for retry and nil is returned.
func (b *BufferedSink) WriteUpdate(ctx context.Context, rec *models.UpdateRecord) error {
	if err := validateUpdate(rec); err != nil {
		return err
	}
	clone := *rec
	return b.write(ctx, pendingRecord{update: &clone})
}

func (b *BufferedSink) write(ctx context.Context, rec pendingRecord) error {
	err := b.writeOne(ctx, rec)
	if err == nil {
		return nil
	}
	if !errors.IsCategory(err, errors.CategorySink) {
		return err
	}
	if !b.enqueue(rec) {
		b.log.WithError(err).Error("Retry queue full, rejecting write")
		return err
	}
	b.log.WithError(err).WithField("pending", b.Pending()).Warn("Write failed, queued for retry")
	return nil
}

// writeOne performs a single backend write bounded by WriteTimeout.
func (b *BufferedSink) writeOne(ctx context.Context, rec pendingRecord) error {
	wctx, cancel := context.WithTimeout(ctx, b.config.WriteTimeout)
	defer cancel()

	if rec.conflict != nil {
		return b.backend.WriteConflict(wctx, rec.conflict)
	}
	return b.backend.WriteUpdate(wctx, rec.update)
}

// Flush drains the retry queue, then flushes the backend. It returns
// the first error once a queued record cannot be written; the record
// stays queued for the background loop.
func (b *BufferedSink) Flush(ctx context.Context) error {
	if err := b.drain(ctx); err != nil {
		return err
	}
	return b.backend.Flush(ctx)
}

// drain writes queued records oldest-first until the queue is empty or
// a write fails. A failed record returns to the front of the queue.
func (b *BufferedSink) drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.SinkError(errors.CodeSinkWriteFailed, "retry-queue", err)
		}
		rec, ok := b.popFront()
		if !ok {
			return nil
		}
		if err := b.writeOne(ctx, rec); err != nil {
			b.pushFront(rec)
			return err
		}
	}
}

func (b *BufferedSink) retryLoop() {
	defer close(b.stopped)

	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}

		delay := b.config.RetryInitialDelay
		for b.Pending() > 0 {
			err := b.drain(context.Background())
			if err == nil {
				break
			}
			b.log.WithError(err).WithField("pending", b.Pending()).Debug("Retry pass failed, backing off")

			select {
			case <-b.done:
				return
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * b.config.RetryMultiplier)
			if delay > b.config.RetryMaxDelay {
				delay = b.config.RetryMaxDelay
			}
		}
	}
}

// Close stops the retry loop and closes the backend. Records still
// queued are reported and lost; call Flush first for a clean shutdown.
func (b *BufferedSink) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		<-b.stopped
	})
	if n := b.Pending(); n > 0 {
		b.log.WithField("pending", n).Error("Closing with unwritten records in retry queue")
	}
	return b.backend.Close()
}

// Pending returns the current retry queue length.
func (b *BufferedSink) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *BufferedSink) enqueue(rec pendingRecord) bool {
	b.mu.Lock()
	if len(b.pending) >= b.config.MaxPending {
		b.mu.Unlock()
		return false
	}
	b.pending = append(b.pending, rec)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

func (b *BufferedSink) popFront() (pendingRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return pendingRecord{}, false
	}
	rec := b.pending[0]
	b.pending = b.pending[1:]
	return rec, true
}

func (b *BufferedSink) pushFront(rec pendingRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append([]pendingRecord{rec}, b.pending...)
}
