package pqenvelope

import (
	"sync"
	"time"
)

// nonceTTL bounds how long a nonce is remembered for replay suppression
// (spec.md §3 "Nonce cache").
const nonceTTL = 10 * time.Minute

// nonceSweepInterval governs the background eviction loop.
const nonceSweepInterval = 1 * time.Minute

// NonceCache is a process-wide insert-if-absent set keyed by nonce string,
// with TTL eviction. Grounded on internal/api/ratelimit.go's ipBucket map +
// cleanupLoop shape, repurposed from rate-limit refill bookkeeping to
// simple replay-window bookkeeping.
type NonceCache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	evicted uint64
}

// NewNonceCache starts the cache and its background sweep goroutine.
func NewNonceCache() *NonceCache {
	nc := &NonceCache{seen: make(map[string]time.Time)}
	go nc.sweepLoop()
	return nc
}

// InsertIfAbsent atomically records nonce if it hasn't been seen within the
// TTL window, returning true if the nonce was fresh (and is now recorded)
// and false if it's a replay.
func (nc *NonceCache) InsertIfAbsent(nonce string, now time.Time) bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	if ts, ok := nc.seen[nonce]; ok && now.Sub(ts) < nonceTTL {
		return false
	}
	nc.seen[nonce] = now
	return true
}

// Evicted returns the number of nonces purged by the sweep loop, surfaced
// as a prometheus gauge by the façade (SPEC_FULL.md supplemented feature 4).
func (nc *NonceCache) Evicted() uint64 {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.evicted
}

func (nc *NonceCache) sweepLoop() {
	ticker := time.NewTicker(nonceSweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-nonceTTL)
		nc.mu.Lock()
		for nonce, ts := range nc.seen {
			if ts.Before(cutoff) {
				delete(nc.seen, nonce)
				nc.evicted++
			}
		}
		nc.mu.Unlock()
	}
}
