// Package store implements the controller-resident shared key-value store.
//
// The store lives exclusively on the controller; units reach it through
// StoreOp message round trips, which gives the controller a natural
// single-writer point without distributed locking. Entries carry an optional
// TTL and are evicted both lazily at read time and by a periodic sweep, so
// memory does not grow unbounded from entries nobody reads again.
//
// The store holds no persistence guarantee: a controller restart loses all
// entries.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/LucasCzechia/discord-cluster/types"
)

// DefaultSweepInterval is the period of the background expiry sweep.
const DefaultSweepInterval = 30 * time.Second

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is the controller-held ephemeral key-value store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	sweepInterval time.Duration
	metrics       types.MetricsCollector
	logger        types.Logger

	cancel context.CancelFunc
	done   chan struct{}

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a store sweeping at the given interval (DefaultSweepInterval
// when zero).
func New(sweepInterval time.Duration, logger types.Logger, metrics types.MetricsCollector) *Store {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	return &Store{
		entries:       make(map[string]entry),
		sweepInterval: sweepInterval,
		logger:        logger,
		metrics:       metrics,
		now:           time.Now,
	}
}

// Start launches the periodic sweep. Safe to call once.
func (s *Store) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.sweepLoop(ctx)
}

// Stop halts the periodic sweep and waits for it to exit.
func (s *Store) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Get returns the value for key, treating an expired entry as absent.
func (s *Store) Get(key string) (any, bool) {
	start := s.now()

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if ok && e.expired(start) {
		s.evict(key)
		ok = false
	}

	s.metrics.RecordStoreOp(types.StoreGet, time.Since(start).Seconds())
	if !ok {
		return nil, false
	}

	return e.value, true
}

// Set stores a value with an optional TTL (<= 0 means no expiry).
func (s *Store) Set(key string, value any, ttl time.Duration) {
	start := s.now()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = start.Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: expiresAt}
	size := len(s.entries)
	s.mu.Unlock()

	s.metrics.RecordStoreOp(types.StoreSet, time.Since(start).Seconds())
	s.metrics.RecordStoreSize(size)
}

// Has reports whether a live entry exists for key.
func (s *Store) Has(key string) bool {
	start := s.now()

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if ok && e.expired(start) {
		s.evict(key)
		ok = false
	}

	s.metrics.RecordStoreOp(types.StoreHas, time.Since(start).Seconds())

	return ok
}

// Delete removes the entry for key. Reports whether an entry was present.
func (s *Store) Delete(key string) bool {
	start := s.now()

	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	size := len(s.entries)
	s.mu.Unlock()

	s.metrics.RecordStoreOp(types.StoreDelete, time.Since(start).Seconds())
	s.metrics.RecordStoreSize(size)

	return ok
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Sweep removes every expired entry and returns the eviction count.
//
// Runs periodically in the background but is also callable directly.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	evicted := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			evicted++
		}
	}
	size := len(s.entries)
	s.mu.Unlock()

	if evicted > 0 {
		s.metrics.RecordStoreEvictions(evicted)
		s.metrics.RecordStoreSize(size)
		s.logger.Debug("store sweep evicted expired entries", "evicted", evicted, "remaining", size)
	}

	return evicted
}

// evict drops a single entry found expired at read time.
//
// Re-checks expiry under the write lock; the entry may have been replaced
// between the read and the eviction.
func (s *Store) evict(key string) {
	now := s.now()

	s.mu.Lock()
	if e, ok := s.entries[key]; ok && e.expired(now) {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

func (s *Store) sweepLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
