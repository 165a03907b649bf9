package core

import (
	"MutualLedger/internal/observability"
	"container/list"

	"github.com/rs/zerolog"
)

// DBIdempotencyChecker is the durable tier, backed by the command log.
type DBIdempotencyChecker interface {
	IsDuplicate(requestID string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication of request ids.
// Not thread-safe; the engine serializes access.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}
}

// IsDuplicate reports whether requestID was already applied.
func (ic *IdempotencyChecker) IsDuplicate(requestID string) bool {
	if ic.lru.Contains(requestID) {
		ic.recordDuplicate("lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}

	isDup, err := ic.dbChecker.IsDuplicate(requestID)
	if err != nil {
		// A DB outage must not block the engine; treat as new.
		ic.logger.Warn().Err(err).Str("request_id", requestID).Msg("tier-2 dedup lookup failed")
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return false
	}
	if isDup {
		ic.recordDuplicate("postgres")
		ic.lru.Add(requestID)
		return true
	}
	return false
}

// MarkProcessed adds requestID to the LRU after a successful apply.
func (ic *IdempotencyChecker) MarkProcessed(requestID string) {
	ic.lru.Add(requestID)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

func (ic *IdempotencyChecker) recordDuplicate(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(tier).Inc()
	}
}

// --- LRU ---

// IdempotencyLRU is a bounded set of recently applied request ids.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List // front = most recent

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains checks for key and promotes it on a hit.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

func (lru *IdempotencyLRU) Add(key string) {
	if elem, ok := lru.cache[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.order.PushFront(key)
	if lru.order.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.order.Back()
	if elem == nil {
		return
	}
	lru.order.Remove(elem)
	delete(lru.cache, elem.Value.(string))
	lru.evictions++
}

// WarmFromKeys loads keys oldest first so the newest end up most recent.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys returns held keys oldest first.
func (lru *IdempotencyLRU) Keys() []string {
	out := make([]string, 0, lru.order.Len())
	for e := lru.order.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value.(string))
	}
	return out
}

func (lru *IdempotencyLRU) Size() int { return lru.order.Len() }

func (lru *IdempotencyLRU) Evictions() int64 { return lru.evictions }
