package cache

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"
	"time"

	"duplicates-detection-service/internal/models"
	"duplicates-detection-service/pkg/errors"
	"duplicates-detection-service/pkg/logger"
)

// MemoryCache is the in-process CandidateCache. Scopes hash onto a fixed set
// of shards, each with its own lock, so feeds for different accounts never
// contend. Within a scope, records sit in a doubly linked recency list plus
// a fingerprint map, giving O(1) exact lookups and newest-first TopK.
type MemoryCache struct {
	config *Config
	shards []*cacheShard
	log    logger.Logger

	now func() time.Time

	closeOnce sync.Once
	done      chan struct{}
	closed    chan struct{}
}

type cacheShard struct {
	mu     sync.RWMutex
	scopes map[models.ScopeKey]*scopeBucket
}

// scopeBucket holds one scope's records. order front = most recent.
type scopeBucket struct {
	order         *list.List
	byFingerprint map[models.Fingerprint]*list.Element
}

func newScopeBucket() *scopeBucket {
	return &scopeBucket{
		order:         list.New(),
		byFingerprint: make(map[models.Fingerprint]*list.Element),
	}
}

// NewMemoryCache builds a cache from config and starts the expiry reaper.
// Callers own the handle: create once at startup, Close at shutdown.
func NewMemoryCache(config *Config) (*MemoryCache, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	shards := make([]*cacheShard, config.Shards)
	for i := range shards {
		shards[i] = &cacheShard{scopes: make(map[models.ScopeKey]*scopeBucket)}
	}

	mc := &MemoryCache{
		config: config.Clone(),
		shards: shards,
		log:    logger.WithComponent("candidate-cache"),
		now:    time.Now,
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}

	go mc.reapLoop()
	return mc, nil
}

// Put inserts rec or, when the fingerprint is already cached, replaces the
// stored record and moves it to the front of the recency order. Exact
// duplicates therefore refresh their own retention window.
func (mc *MemoryCache) Put(ctx context.Context, scope models.ScopeKey, rec models.CandidateRecord) error {
	if err := mc.operational(ctx, "put"); err != nil {
		return err
	}
	if err := scope.Validate(); err != nil {
		return err
	}

	shard := mc.shardFor(scope)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	bucket, ok := shard.scopes[scope]
	if !ok {
		bucket = newScopeBucket()
		shard.scopes[scope] = bucket
	}

	if elem, exists := bucket.byFingerprint[rec.Fingerprint]; exists {
		elem.Value = rec
		bucket.order.MoveToFront(elem)
		return nil
	}

	bucket.byFingerprint[rec.Fingerprint] = bucket.order.PushFront(rec)

	for bucket.order.Len() > mc.config.MaxPerScope {
		oldest := bucket.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(models.CandidateRecord)
		bucket.order.Remove(oldest)
		delete(bucket.byFingerprint, evicted.Fingerprint)
		mc.log.WithScope(scope.CompanyID, scope.Bank, scope.AccountNumber).
			WithField("fingerprint", evicted.Fingerprint.Short()).
			Debug("Evicted oldest candidate, scope at capacity")
	}

	return nil
}

// LookupExact returns the record for fp if it is cached and unexpired.
// Expired records are treated as absent; the reaper removes them later.
func (mc *MemoryCache) LookupExact(ctx context.Context, scope models.ScopeKey, fp models.Fingerprint) (models.CandidateRecord, bool, error) {
	if err := mc.operational(ctx, "lookup_exact"); err != nil {
		return models.CandidateRecord{}, false, err
	}

	shard := mc.shardFor(scope)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	bucket, ok := shard.scopes[scope]
	if !ok {
		return models.CandidateRecord{}, false, nil
	}
	elem, ok := bucket.byFingerprint[fp]
	if !ok {
		return models.CandidateRecord{}, false, nil
	}

	rec := elem.Value.(models.CandidateRecord)
	if rec.Expired(mc.config.TTL, mc.now()) {
		return models.CandidateRecord{}, false, nil
	}
	return rec, true, nil
}

// TopK returns up to k unexpired records, newest insertion first.
func (mc *MemoryCache) TopK(ctx context.Context, scope models.ScopeKey, k int) ([]models.CandidateRecord, error) {
	if err := mc.operational(ctx, "top_k"); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	shard := mc.shardFor(scope)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	bucket, ok := shard.scopes[scope]
	if !ok {
		return nil, nil
	}

	now := mc.now()
	records := make([]models.CandidateRecord, 0, k)
	for elem := bucket.order.Front(); elem != nil && len(records) < k; elem = elem.Next() {
		rec := elem.Value.(models.CandidateRecord)
		if rec.Expired(mc.config.TTL, now) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close stops the reaper. Subsequent operations fail with cache-unavailable.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		close(mc.done)
		<-mc.closed
	})
	return nil
}

// Stats reports live record counts across all shards.
func (mc *MemoryCache) Stats() CacheStats {
	stats := CacheStats{}
	now := mc.now()

	for _, shard := range mc.shards {
		shard.mu.RLock()
		stats.Scopes += len(shard.scopes)
		for _, bucket := range shard.scopes {
			for elem := bucket.order.Front(); elem != nil; elem = elem.Next() {
				if elem.Value.(models.CandidateRecord).Expired(mc.config.TTL, now) {
					stats.ExpiredRecords++
				} else {
					stats.LiveRecords++
				}
			}
		}
		shard.mu.RUnlock()
	}
	return stats
}

// CacheStats summarizes cache occupancy.
type CacheStats struct {
	Scopes         int
	LiveRecords    int
	ExpiredRecords int
}

// operational rejects calls after Close or once the context is done.
func (mc *MemoryCache) operational(ctx context.Context, operation string) error {
	select {
	case <-mc.done:
		return errors.CacheError(errors.CodeCacheUnavailable, operation, nil)
	default:
	}
	if err := ctx.Err(); err != nil {
		return errors.CacheError(errors.CodeCacheTimeout, operation, err)
	}
	return nil
}

func (mc *MemoryCache) shardFor(scope models.ScopeKey) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(scope.String()))
	return mc.shards[int(h.Sum32())%len(mc.shards)]
}

// reapLoop periodically removes expired records and empty scope buckets.
func (mc *MemoryCache) reapLoop() {
	defer close(mc.closed)

	ticker := time.NewTicker(mc.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mc.done:
			return
		case <-ticker.C:
			removed := mc.reap()
			if removed > 0 {
				mc.log.WithField("removed", removed).Debug("Reaped expired candidates")
			}
		}
	}
}

func (mc *MemoryCache) reap() int {
	now := mc.now()
	removed := 0

	for _, shard := range mc.shards {
		shard.mu.Lock()
		for scope, bucket := range shard.scopes {
			for elem := bucket.order.Back(); elem != nil; {
				rec := elem.Value.(models.CandidateRecord)
				if !rec.Expired(mc.config.TTL, now) {
					// Backwards from oldest; first live record ends the scan
					break
				}
				prev := elem.Prev()
				bucket.order.Remove(elem)
				delete(bucket.byFingerprint, rec.Fingerprint)
				removed++
				elem = prev
			}
			if bucket.order.Len() == 0 {
				delete(shard.scopes, scope)
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
