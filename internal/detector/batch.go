package detector

import (
	"context"
	"sync"
	"time"

	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/pkg/errors"
	"duplicates-detection-service/pkg/logger"
)

// BatchProgress reports how far a ProcessBatch run has advanced.
type BatchProgress struct {
	Total              int           `json:"total"`
	Processed          int           `json:"processed"`
	ExactDuplicates    int           `json:"exact_duplicates"`
	ModifiedDuplicates int           `json:"modified_duplicates"`
	Distinct           int           `json:"distinct"`
	Failed             int           `json:"failed"`
	PercentComplete    float64       `json:"percent_complete"`
	StartTime          time.Time     `json:"start_time"`
	ElapsedTime        time.Duration `json:"elapsed_time"`
}

// BatchProgressCallback is called after each classified transaction.
type BatchProgressCallback func(*BatchProgress)

// BatchStats summarizes a completed ProcessBatch run.
type BatchStats struct {
	Total              int           `json:"total"`
	ExactDuplicates    int           `json:"exact_duplicates"`
	ModifiedDuplicates int           `json:"modified_duplicates"`
	Distinct           int           `json:"distinct"`
	Degraded           int           `json:"degraded"`
	Failed             int           `json:"failed"`
	Scopes             int           `json:"scopes"`
	Duration           time.Duration `json:"duration"`
}

// BatchError records which transaction in the batch failed and why.
type BatchError struct {
	Index int
	Err   error
}

func (e BatchError) Error() string {
	return e.Err.Error()
}

// BatchResult is the outcome of a ProcessBatch run. Results is aligned
// with the input slice; a nil entry means that transaction failed and
// Errors holds its error.
type BatchResult struct {
	Results []*Result    `json:"results"`
	Errors  []BatchError `json:"-"`
	Stats   BatchStats   `json:"stats"`
}

// AddProgressCallback registers a callback invoked after each
// transaction a ProcessBatch run classifies. Callbacks run on worker
// goroutines and must be fast.
func (d *Detector) AddProgressCallback(callback BatchProgressCallback) {
	d.progressMutex.Lock()
	defer d.progressMutex.Unlock()
	d.progressCallbacks = append(d.progressCallbacks, callback)
}

// scopeGroup keeps one scope's transaction indices in input order.
type scopeGroup struct {
	scope   models.ScopeKey
	indices []int
}

// ProcessBatch classifies a batch of transactions. Transactions are
// grouped by scope; groups run concurrently up to MaxConcurrentScopes
// while each group processes sequentially in input order, so the
// second of two identical same-scope transactions in one batch always
// sees the first as a cached candidate. A cancelled context marks the
// unprocessed remainder as failed rather than silently dropping it.
func (d *Detector) ProcessBatch(ctx context.Context, txs []*models.Transaction) (*BatchResult, error) {
	startTime := time.Now()

	result := &BatchResult{
		Results: make([]*Result, len(txs)),
		Stats:   BatchStats{Total: len(txs)},
	}
	if len(txs) == 0 {
		return result, nil
	}

	processed := 0
	for i, tx := range txs {
		if tx == nil {
			result.Errors = append(result.Errors, BatchError{
				Index: i,
				Err:   errors.ValidationError(errors.CodeMissingField, "transaction", nil, nil),
			})
			result.Stats.Failed++
			processed++
		}
	}

	groups := groupByScope(txs)
	result.Stats.Scopes = len(groups)

	d.log.WithFields(logger.Fields{
		"transactions": len(txs),
		"scopes":       len(groups),
		"concurrency":  d.config.MaxConcurrentScopes,
	}).Info("Starting batch classification")

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "classify_batch",
		Total:       int64(len(txs)),
		LogInterval: 5 * time.Second,
		Logger:      d.log,
	})
	if processed > 0 {
		tracker.Add(int64(processed))
	}

	maxConcurrency := d.config.MaxConcurrentScopes
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	semaphore := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, group := range groups {
		wg.Add(1)

		go func(g scopeGroup) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			for _, idx := range g.indices {
				res, err := d.Process(ctx, txs[idx])

				mu.Lock()
				if err != nil {
					result.Errors = append(result.Errors, BatchError{Index: idx, Err: err})
					result.Stats.Failed++
				} else {
					result.Results[idx] = res
					switch res.Classification {
					case models.ConflictExactDuplicate:
						result.Stats.ExactDuplicates++
					case models.ConflictModifiedDuplicate:
						result.Stats.ModifiedDuplicates++
					case models.ConflictDistinct:
						result.Stats.Distinct++
					}
					if res.Degraded {
						result.Stats.Degraded++
					}
				}
				processed++
				progress := d.snapshotProgress(result, processed, startTime)
				mu.Unlock()

				tracker.Increment()
				d.notifyProgress(progress)

				// Once the context is gone every further Process call
				// would fail the same way; fail the rest of this group
				// in order instead of burning retries on each.
				if ctx.Err() != nil {
					d.failRemainder(ctx, g.indices, idx, result, &mu, &processed, startTime, tracker)
					return
				}
			}
		}(group)
	}

	wg.Wait()

	result.Stats.Duration = time.Since(startTime)

	if err := ctx.Err(); err != nil {
		tracker.CompleteWithError(err)
		return result, errors.InternalError(errors.CodeProcessingAborted, "process_batch", err)
	}

	tracker.Complete()
	d.log.WithFields(logger.Fields{
		"total":               result.Stats.Total,
		"exact_duplicates":    result.Stats.ExactDuplicates,
		"modified_duplicates": result.Stats.ModifiedDuplicates,
		"distinct":            result.Stats.Distinct,
		"degraded":            result.Stats.Degraded,
		"failed":              result.Stats.Failed,
		"duration":            result.Stats.Duration.String(),
	}).Info("Batch classification complete")

	return result, nil
}

// failRemainder marks every index after the current one as aborted.
// Called with the batch context already cancelled.
func (d *Detector) failRemainder(
	ctx context.Context,
	indices []int,
	after int,
	result *BatchResult,
	mu *sync.Mutex,
	processed *int,
	startTime time.Time,
	tracker *logger.ProgressTracker,
) {
	abortErr := errors.InternalError(errors.CodeProcessingAborted, "process_transaction", ctx.Err())

	seen := false
	for _, idx := range indices {
		if idx == after {
			seen = true
			continue
		}
		if !seen {
			continue
		}

		mu.Lock()
		result.Errors = append(result.Errors, BatchError{Index: idx, Err: abortErr})
		result.Stats.Failed++
		*processed++
		progress := d.snapshotProgress(result, *processed, startTime)
		mu.Unlock()

		tracker.Increment()
		d.notifyProgress(progress)
	}
}

// snapshotProgress builds a progress value from the partial stats.
// Caller holds the aggregation mutex.
func (d *Detector) snapshotProgress(result *BatchResult, processed int, startTime time.Time) *BatchProgress {
	return &BatchProgress{
		Total:              result.Stats.Total,
		Processed:          processed,
		ExactDuplicates:    result.Stats.ExactDuplicates,
		ModifiedDuplicates: result.Stats.ModifiedDuplicates,
		Distinct:           result.Stats.Distinct,
		Failed:             result.Stats.Failed,
		PercentComplete:    float64(processed) / float64(result.Stats.Total) * 100,
		StartTime:          startTime,
		ElapsedTime:        time.Since(startTime),
	}
}

func (d *Detector) notifyProgress(progress *BatchProgress) {
	d.progressMutex.RLock()
	callbacks := make([]BatchProgressCallback, len(d.progressCallbacks))
	copy(callbacks, d.progressCallbacks)
	d.progressMutex.RUnlock()

	for _, callback := range callbacks {
		callback(progress)
	}
}

// groupByScope partitions transaction indices by scope, preserving the
// first-appearance order of scopes and input order within each scope.
func groupByScope(txs []*models.Transaction) []scopeGroup {
	order := make(map[models.ScopeKey]int)
	groups := make([]scopeGroup, 0)

	for i, tx := range txs {
		if tx == nil {
			continue
		}
		scope := tx.Scope()
		pos, exists := order[scope]
		if !exists {
			pos = len(groups)
			order[scope] = pos
			groups = append(groups, scopeGroup{scope: scope})
		}
		groups[pos].indices = append(groups[pos].indices, i)
	}

	return groups
}
