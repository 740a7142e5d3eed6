package core

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"RoundLedger/internal/round"

	"github.com/rs/zerolog"
)

// RequestDeduper implements two-tier deduplication of client request ids.
// A key is reserved while its operation runs so concurrent duplicates on
// different rounds cannot both pass.
type RequestDeduper struct {
	mu sync.Mutex

	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Keys reserved by operations still in flight
	inflight map[string]struct{}

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	logger zerolog.Logger
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, idempotencyKey string) (bool, error)
}

func NewRequestDeduper(capacity int, dbChecker DBIdempotencyChecker, logger zerolog.Logger) *RequestDeduper {
	return &RequestDeduper{
		lru:       NewIdempotencyLRU(capacity),
		inflight:  make(map[string]struct{}),
		dbChecker: dbChecker,
		logger:    logger,
	}
}

// Begin reserves key. It fails with ErrDuplicateRequest when the key was
// already processed or is being processed right now, and with
// ErrDedupUnavailable when the durable tier cannot answer.
func (d *RequestDeduper) Begin(ctx context.Context, key string) error {
	d.mu.Lock()
	if d.lru.Contains(key) {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", round.ErrDuplicateRequest, key)
	}
	if _, busy := d.inflight[key]; busy {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s in flight", round.ErrDuplicateRequest, key)
	}
	d.inflight[key] = struct{}{}
	d.mu.Unlock()

	// Tier 2: Postgres check (cold path)
	if d.dbChecker == nil {
		return nil
	}
	isDup, err := d.dbChecker.IsDuplicate(ctx, key)
	if err != nil {
		d.Abort(key)
		d.logger.Warn().Err(err).Str("key", key).Msg("idempotency tier 2 lookup failed")
		return fmt.Errorf("%w: %v", round.ErrDedupUnavailable, err)
	}
	if isDup {
		d.mu.Lock()
		delete(d.inflight, key)
		d.lru.Add(key)
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", round.ErrDuplicateRequest, key)
	}
	return nil
}

// Commit marks a reserved key as processed
func (d *RequestDeduper) Commit(key string) {
	d.mu.Lock()
	delete(d.inflight, key)
	d.lru.Add(key)
	d.mu.Unlock()
}

// Abort releases a reservation after a failed operation
func (d *RequestDeduper) Abort(key string) {
	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
}

// Warm loads processed keys, e.g. from a snapshot or replay
func (d *RequestDeduper) Warm(keys []string) {
	d.mu.Lock()
	d.lru.WarmFromKeys(keys)
	d.mu.Unlock()
}

// Keys returns the LRU content, oldest first
func (d *RequestDeduper) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lru.GetAllKeys()
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe; RequestDeduper guards it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads a batch of keys into the LRU, oldest first
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// GetAllKeys returns keys from least to most recently used
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(*lruEntry).key)
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
