package detector

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"duplicates-detection-service/internal/cache"
	"duplicates-detection-service/internal/fingerprint"
	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/internal/recurrence"
	"duplicates-detection-service/internal/similarity"
	"duplicates-detection-service/internal/sink"
	"duplicates-detection-service/pkg/errors"
	"duplicates-detection-service/pkg/logger"
)

// Mosaic reason vocabulary. A modified duplicate lists every metric
// that cleared its threshold, comma-joined, with "amount_match"
// appended when the amounts also agree within tolerance.
const (
	ReasonChecksumMatch = "checksum_match"
	ReasonNoMatch       = "no_match_above_threshold"
	ReasonDegraded      = "degraded"
	ReasonLevenshtein   = "levenshtein_distance"
	ReasonCosine        = "cosine_similarity"
	ReasonJaroWinkler   = "jaro_winkler_similarity"
	ReasonAmountMatch   = "amount_match"
)

// scopeStripes is the number of per-scope serialization locks. Two
// transactions in the same scope always hit the same stripe; distinct
// scopes rarely share one.
const scopeStripes = 64

// cachePutRetries bounds the background retries of a failed candidate
// cache write.
const cachePutRetries = 3

// Result is the classification outcome for one processed transaction.
type Result struct {
	// Classification is the terminal state of the state machine.
	Classification models.ConflictType `json:"classification"`

	// Fingerprint is the digest computed for the transaction.
	Fingerprint models.Fingerprint `json:"fingerprint"`

	// ChecksumNew identifies the processed transaction: its upstream
	// checksum when one was supplied, otherwise the fingerprint.
	ChecksumNew string `json:"checksum_new"`

	// ChecksumOld identifies the matched prior transaction. Empty for
	// DISTINCT.
	ChecksumOld string `json:"checksum_old,omitempty"`

	// Score holds the similarity metrics of the decisive comparison.
	// EXACT_DUPLICATE carries the conventional zero-distance/1.0
	// values since no text comparison runs. DISTINCT carries the best
	// comparison made, or the zero value when no candidates existed.
	Score similarity.Score `json:"score"`

	// MosaicReason explains the classification.
	MosaicReason string `json:"mosaic_reason"`

	// Degraded is set when the candidate cache could not be read and
	// the transaction was classified without candidates.
	Degraded bool `json:"degraded,omitempty"`

	// CandidatesCompared is how many cached candidates were scored.
	CandidatesCompared int `json:"candidates_compared"`

	// Recurrence annotates monthly repetition of the concept within
	// the scope. Nil when no tracker is configured.
	Recurrence *recurrence.Pattern `json:"recurrence,omitempty"`
}

// Detector runs the classification pipeline. Same-scope transactions
// are serialized through striped locks so two near-duplicates arriving
// together cannot both miss each other in the candidate pool;
// cross-scope processing runs in parallel.
type Detector struct {
	config     *Config
	cache      cache.CandidateCache
	sink       sink.Sink
	recurrence *recurrence.Tracker
	log        logger.Logger
	now        func() time.Time

	scopeLocks [scopeStripes]sync.Mutex

	// Batch progress callbacks, shared across ProcessBatch runs.
	progressCallbacks []BatchProgressCallback
	progressMutex     sync.RWMutex
}

// NewDetector creates a detector. The candidate cache and result sink
// are required; tracker may be nil to disable recurrence annotation.
func NewDetector(
	config *Config,
	candidates cache.CandidateCache,
	results sink.Sink,
	tracker *recurrence.Tracker,
) (*Detector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "detector", nil, err)
	}
	if candidates == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "candidate_cache", nil, nil).
			WithSuggestion("Provide a candidate cache instance")
	}
	if results == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "result_sink", nil, nil).
			WithSuggestion("Provide a result sink instance")
	}

	return &Detector{
		config:     config.Clone(),
		cache:      candidates,
		sink:       results,
		recurrence: tracker,
		log:        logger.GetGlobalLogger().WithComponent("detector"),
		now:        time.Now,
	}, nil
}

// Process classifies one transaction. The write ordering is fixed:
// durable records first, then the candidate cache write, so a crash
// mid-processing never produces a cached candidate without its record.
// Cancellation is honored up to the first sink write; after that both
// records of a modified duplicate are always attempted together.
func (d *Detector) Process(ctx context.Context, tx *models.Transaction) (*Result, error) {
	fp, err := fingerprint.Compute(tx)
	if err != nil {
		return nil, err
	}

	scope := tx.Scope()
	mu := d.scopeLock(scope)
	mu.Lock()
	defer mu.Unlock()

	log := d.log.WithScope(scope.CompanyID, scope.Bank, scope.AccountNumber).
		WithField("fingerprint", fp.Short())

	degraded := false
	existing, found, err := d.lookupExactWithRetry(ctx, scope, fp)
	if err != nil {
		log.WithError(err).Warn("Exact lookup unavailable, classifying without candidates")
		degraded = true
		found = false
	}

	if found {
		return d.finishExact(ctx, tx, scope, fp, existing, log)
	}

	var candidates []models.CandidateRecord
	if !degraded {
		candidates, err = d.topKWithRetry(ctx, scope)
		if err != nil {
			log.WithError(err).Warn("Candidate fetch unavailable, classifying without candidates")
			degraded = true
			candidates = nil
		}
	}

	comparisonText := fingerprint.ComparisonText(tx)
	best, compared := d.bestMatch(fp, comparisonText, candidates)

	if best != nil {
		return d.finishModified(ctx, tx, scope, fp, comparisonText, best, compared, log)
	}
	return d.finishDistinct(ctx, tx, scope, fp, comparisonText, candidates, compared, degraded, log)
}

// matchCandidate pairs a cached candidate with its similarity score and
// the metrics that cleared their thresholds.
type matchCandidate struct {
	record  models.CandidateRecord
	score   similarity.Score
	reasons []string
}

// bestMatch scores the transaction against every candidate and keeps
// the one clearing the most metrics. Candidates arrive newest-first, so
// ties resolve to the most recent.
func (d *Detector) bestMatch(fp models.Fingerprint, comparisonText string, candidates []models.CandidateRecord) (*matchCandidate, int) {
	var best *matchCandidate
	compared := 0

	for i := range candidates {
		cand := candidates[i]
		// Identical fingerprints are the exact lookup's territory.
		if cand.Fingerprint == fp {
			continue
		}
		compared++

		score := similarity.Compute(comparisonText, cand.ComparisonText)
		reasons := d.clearedMetrics(score)
		if len(reasons) == 0 {
			continue
		}
		if best == nil || len(reasons) > len(best.reasons) {
			best = &matchCandidate{record: cand, score: score, reasons: reasons}
		}
	}

	return best, compared
}

// clearedMetrics returns the names of the metrics meeting their
// thresholds, in the fixed levenshtein/cosine/jaro-winkler order.
func (d *Detector) clearedMetrics(score similarity.Score) []string {
	var reasons []string
	if score.LevenshteinDistance <= d.config.MaxLevenshteinDistance {
		reasons = append(reasons, ReasonLevenshtein)
	}
	if score.CosineSimilarity >= d.config.MinCosineSimilarity {
		reasons = append(reasons, ReasonCosine)
	}
	if score.JaroWinklerSimilarity >= d.config.MinJaroWinklerSimilarity {
		reasons = append(reasons, ReasonJaroWinkler)
	}
	return reasons
}

func (d *Detector) finishExact(
	ctx context.Context,
	tx *models.Transaction,
	scope models.ScopeKey,
	fp models.Fingerprint,
	existing models.CandidateRecord,
	log logger.Logger,
) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeProcessingAborted, "process_transaction", err)
	}

	now := d.now()
	checksumNew := recordChecksum(tx, fp)

	conflict := &models.ConflictRecord{
		ChecksumOld:     existing.Checksum,
		ChecksumNew:     checksumNew,
		AccountNumber:   tx.AccountNumber,
		Bank:            tx.Bank,
		CompanyID:       tx.CompanyID,
		TransactionDate: dateOnly(tx.TransactionDate),
		TypeOfConflict:  models.ConflictExactDuplicate,
		MosaicReason:    ReasonChecksumMatch,
		Date:            dateOnly(now),
	}
	if err := d.sink.WriteConflict(ctx, conflict); err != nil {
		return nil, err
	}

	// An exact duplicate refreshes the cached record's recency and TTL
	// rather than being a cache no-op.
	refreshed := existing
	refreshed.InsertedAt = now
	d.putCandidate(ctx, scope, refreshed, log)

	log.Info("Exact duplicate detected")

	result := &Result{
		Classification: models.ConflictExactDuplicate,
		Fingerprint:    fp,
		ChecksumNew:    checksumNew,
		ChecksumOld:    existing.Checksum,
		Score:          exactScore(),
		MosaicReason:   ReasonChecksumMatch,
	}
	d.annotateRecurrence(result, tx, scope, false)
	return result, nil
}

func (d *Detector) finishModified(
	ctx context.Context,
	tx *models.Transaction,
	scope models.ScopeKey,
	fp models.Fingerprint,
	comparisonText string,
	best *matchCandidate,
	compared int,
	log logger.Logger,
) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeProcessingAborted, "process_transaction", err)
	}

	now := d.now()
	checksumNew := recordChecksum(tx, fp)

	reasons := best.reasons
	if models.CompareAmountsWithTolerance(tx.Amount, best.record.Amount, d.config.AmountTolerance) {
		reasons = append(reasons, ReasonAmountMatch)
	}
	mosaicReason := strings.Join(reasons, ",")

	conflict := &models.ConflictRecord{
		ChecksumOld:     best.record.Checksum,
		ChecksumNew:     checksumNew,
		AccountNumber:   tx.AccountNumber,
		Bank:            tx.Bank,
		CompanyID:       tx.CompanyID,
		TransactionDate: dateOnly(tx.TransactionDate),
		TypeOfConflict:  models.ConflictModifiedDuplicate,
		MosaicReason:    mosaicReason,
		Date:            dateOnly(now),
	}
	if err := d.sink.WriteConflict(ctx, conflict); err != nil {
		return nil, err
	}

	update := &models.UpdateRecord{
		OriginalChecksum:      best.record.Checksum,
		NewChecksum:           checksumNew,
		LevenshteinDistance:   float64(best.score.LevenshteinDistance),
		CosineSimilarity:      round4(best.score.CosineSimilarity),
		JaroWinklerSimilarity: round4(best.score.JaroWinklerSimilarity),
		AccountNumber:         tx.AccountNumber,
		Bank:                  tx.Bank,
		CompanyID:             tx.CompanyID,
		Date:                  dateOnly(now),
	}
	if err := d.sink.WriteUpdate(ctx, update); err != nil {
		return nil, err
	}

	d.putCandidate(ctx, scope, newCandidate(tx, fp, checksumNew, comparisonText, now), log)

	log.WithFields(logger.Fields{
		"reason":              mosaicReason,
		"candidates_compared": compared,
	}).Info("Modified duplicate detected")

	result := &Result{
		Classification:     models.ConflictModifiedDuplicate,
		Fingerprint:        fp,
		ChecksumNew:        checksumNew,
		ChecksumOld:        best.record.Checksum,
		Score:              best.score,
		MosaicReason:       mosaicReason,
		CandidatesCompared: compared,
	}
	d.annotateRecurrence(result, tx, scope, true)
	return result, nil
}

func (d *Detector) finishDistinct(
	ctx context.Context,
	tx *models.Transaction,
	scope models.ScopeKey,
	fp models.Fingerprint,
	comparisonText string,
	candidates []models.CandidateRecord,
	compared int,
	degraded bool,
	log logger.Logger,
) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeProcessingAborted, "process_transaction", err)
	}

	now := d.now()
	checksumNew := recordChecksum(tx, fp)

	mosaicReason := ReasonNoMatch
	if degraded {
		mosaicReason = ReasonNoMatch + "," + ReasonDegraded
	}

	conflict := &models.ConflictRecord{
		ChecksumNew:     checksumNew,
		AccountNumber:   tx.AccountNumber,
		Bank:            tx.Bank,
		CompanyID:       tx.CompanyID,
		TransactionDate: dateOnly(tx.TransactionDate),
		TypeOfConflict:  models.ConflictDistinct,
		MosaicReason:    mosaicReason,
		Date:            dateOnly(now),
	}
	if err := d.sink.WriteConflict(ctx, conflict); err != nil {
		return nil, err
	}

	d.putCandidate(ctx, scope, newCandidate(tx, fp, checksumNew, comparisonText, now), log)

	result := &Result{
		Classification:     models.ConflictDistinct,
		Fingerprint:        fp,
		ChecksumNew:        checksumNew,
		Score:              bestEffortScore(comparisonText, fp, candidates),
		MosaicReason:       mosaicReason,
		Degraded:           degraded,
		CandidatesCompared: compared,
	}
	d.annotateRecurrence(result, tx, scope, true)
	return result, nil
}

// BackfillStats summarizes a cache warm-up run.
type BackfillStats struct {
	Seeded        int `json:"seeded"`
	AlreadyCached int `json:"already_cached"`
	Invalid       int `json:"invalid"`
	Failed        int `json:"failed"`
}

// Backfill seeds the candidate cache from historical transactions
// without writing any conflict or update records. Invalid transactions
// are counted and skipped; cache write failures are counted but do not
// abort the run.
func (d *Detector) Backfill(ctx context.Context, txs []*models.Transaction) (*BackfillStats, error) {
	stats := &BackfillStats{}

	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return stats, errors.InternalError(errors.CodeProcessingAborted, "backfill", err)
		}

		fp, err := fingerprint.Compute(tx)
		if err != nil {
			stats.Invalid++
			continue
		}

		scope := tx.Scope()
		mu := d.scopeLock(scope)
		mu.Lock()

		_, found, err := d.cache.LookupExact(ctx, scope, fp)
		if err == nil && found {
			stats.AlreadyCached++
			mu.Unlock()
			continue
		}

		checksumNew := recordChecksum(tx, fp)
		rec := newCandidate(tx, fp, checksumNew, fingerprint.ComparisonText(tx), d.now())
		err = d.cache.Put(ctx, scope, rec)
		mu.Unlock()

		if err != nil {
			stats.Failed++
			continue
		}
		stats.Seeded++

		if d.recurrence != nil {
			d.recurrence.Record(scope, fingerprint.ConceptKey(tx.Concept), tx.TransactionDate)
		}
	}

	d.log.WithFields(logger.Fields{
		"seeded":         stats.Seeded,
		"already_cached": stats.AlreadyCached,
		"invalid":        stats.Invalid,
		"failed":         stats.Failed,
	}).Info("Backfill complete")

	return stats, nil
}

func (d *Detector) lookupExactWithRetry(ctx context.Context, scope models.ScopeKey, fp models.Fingerprint) (models.CandidateRecord, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= d.config.CacheReadRetries; attempt++ {
		if attempt > 0 {
			if err := d.waitRetry(ctx); err != nil {
				return models.CandidateRecord{}, false, err
			}
		}
		rec, found, err := d.cache.LookupExact(ctx, scope, fp)
		if err == nil {
			return rec, found, nil
		}
		lastErr = err
	}
	return models.CandidateRecord{}, false, lastErr
}

func (d *Detector) topKWithRetry(ctx context.Context, scope models.ScopeKey) ([]models.CandidateRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= d.config.CacheReadRetries; attempt++ {
		if attempt > 0 {
			if err := d.waitRetry(ctx); err != nil {
				return nil, err
			}
		}
		candidates, err := d.cache.TopK(ctx, scope, d.config.TopK)
		if err == nil {
			return candidates, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *Detector) waitRetry(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.CacheError(errors.CodeCacheTimeout, "read_retry", ctx.Err())
	case <-time.After(d.config.CacheReadRetryDelay):
		return nil
	}
}

// putCandidate inserts the record into the candidate cache. A failed
// write never blocks or fails the classification; it is logged and
// retried in the background.
func (d *Detector) putCandidate(ctx context.Context, scope models.ScopeKey, rec models.CandidateRecord, log logger.Logger) {
	err := d.cache.Put(ctx, scope, rec)
	if err == nil {
		return
	}
	log.WithError(err).Warn("Candidate cache write failed, retrying in background")

	go func() {
		for attempt := 1; attempt <= cachePutRetries; attempt++ {
			time.Sleep(d.config.CacheReadRetryDelay * time.Duration(attempt))

			putCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := d.cache.Put(putCtx, scope, rec)
			cancel()
			if err == nil {
				return
			}
		}
		log.WithField("fingerprint", rec.Fingerprint.Short()).
			Error("Candidate cache write abandoned after retries")
	}()
}

func (d *Detector) annotateRecurrence(result *Result, tx *models.Transaction, scope models.ScopeKey, newlyCached bool) {
	if d.recurrence == nil {
		return
	}
	conceptKey := fingerprint.ConceptKey(tx.Concept)
	if newlyCached {
		d.recurrence.Record(scope, conceptKey, tx.TransactionDate)
	}
	pattern := d.recurrence.Check(scope, conceptKey, tx.TransactionDate)
	result.Recurrence = &pattern
}

func (d *Detector) scopeLock(scope models.ScopeKey) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(scope.String()))
	return &d.scopeLocks[h.Sum32()%scopeStripes]
}

// recordChecksum identifies a transaction in durable records: the
// upstream checksum when the feed supplied one, otherwise the computed
// fingerprint.
func recordChecksum(tx *models.Transaction, fp models.Fingerprint) string {
	if tx.Checksum != "" {
		return tx.Checksum
	}
	return fp.String()
}

func newCandidate(tx *models.Transaction, fp models.Fingerprint, checksum, comparisonText string, now time.Time) models.CandidateRecord {
	return models.CandidateRecord{
		Fingerprint:     fp,
		Checksum:        checksum,
		Concept:         tx.Concept,
		ComparisonText:  comparisonText,
		Amount:          tx.Amount,
		TransactionDate: tx.TransactionDate,
		InsertedAt:      now,
	}
}

// exactScore is the conventional score for checksum-identical content:
// zero edit distance, full similarity on both text metrics.
func exactScore() similarity.Score {
	return similarity.Score{
		LevenshteinDistance:   0,
		CosineSimilarity:      1.0,
		JaroWinklerSimilarity: 1.0,
	}
}

// bestEffortScore reports the closest comparison for a DISTINCT
// outcome. Purely informational; no threshold consumed it.
func bestEffortScore(comparisonText string, fp models.Fingerprint, candidates []models.CandidateRecord) similarity.Score {
	var best similarity.Score
	bestRank := -1.0
	for i := range candidates {
		if candidates[i].Fingerprint == fp {
			continue
		}
		score := similarity.Compute(comparisonText, candidates[i].ComparisonText)
		rank := score.CosineSimilarity + score.JaroWinklerSimilarity
		if rank > bestRank {
			bestRank = rank
			best = score
		}
	}
	return best
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
