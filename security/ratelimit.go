package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRateLimitMaxEntries      = 10000
	defaultRateLimitCleanupInterval = 5 * time.Minute
	defaultRateLimitIdleTimeout     = 30 * time.Minute
)

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate allowed per identifier.
	RequestsPerSecond float64

	// Burst is the bucket size per identifier.
	Burst int

	// MaxEntries bounds the number of tracked identifiers (default: 10000).
	// Zero selects the default; the set is never unbounded.
	MaxEntries int

	// IdleTimeout is how long an identifier may stay silent before its
	// bucket is dropped by the cleanup loop (default: 30m).
	IdleTimeout time.Duration

	// CleanupInterval is the period of the cleanup loop (default: 5m).
	CleanupInterval time.Duration
}

type bucket struct {
	identifier string
	limiter    *rate.Limiter
	lastSeen   time.Time
}

// RateLimiter is a per-identifier token bucket limiter whose bucket set is
// bounded by LRU eviction.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*list.Element
	lru     *list.List
	config  RateLimitConfig
	logger  *slog.Logger

	evictions int64
	cleanups  int64

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
// Call Stop to end the loop.
func NewRateLimiter(config RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaultRateLimitMaxEntries
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaultRateLimitIdleTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultRateLimitCleanupInterval
	}

	rl := &RateLimiter{
		buckets:     make(map[string]*list.Element),
		lru:         list.New(),
		config:      config,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether one more request from identifier fits its budget.
func (rl *RateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.buckets[identifier]; ok {
		rl.lru.MoveToFront(elem)
		b := elem.Value.(*bucket)
		b.lastSeen = now
		return b.limiter.AllowN(now, 1)
	}

	if len(rl.buckets) >= rl.config.MaxEntries {
		rl.evictOldest()
	}

	b := &bucket{
		identifier: identifier,
		limiter:    rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
		lastSeen:   now,
	}
	rl.buckets[identifier] = rl.lru.PushFront(b)
	return b.limiter.AllowN(now, 1)
}

// evictOldest drops the least recently used bucket. Caller holds mu.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	b := elem.Value.(*bucket)
	rl.lru.Remove(elem)
	delete(rl.buckets, b.identifier)
	rl.evictions++

	rl.logger.Debug("Rate limiter evicted least recently used identifier",
		"total_evictions", rl.evictions,
		"current_entries", len(rl.buckets))
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(rl.config.IdleTimeout)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup drops buckets that have not been used for maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	// The LRU list is ordered by last use, so idle buckets sit at the back.
	for elem := rl.lru.Back(); elem != nil; {
		b := elem.Value.(*bucket)
		if now.Sub(b.lastSeen) <= maxIdle {
			break
		}
		prev := elem.Prev()
		rl.lru.Remove(elem)
		delete(rl.buckets, b.identifier)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.cleanups++
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.buckets))
	}
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// Stats holds rate limiter statistics for monitoring
type Stats struct {
	CurrentEntries int
	MaxEntries     int
	TotalEvictions int64
	TotalCleanups  int64
	MemoryPressure float64 // percentage of MaxEntries in use
}

// Stats returns a snapshot of the limiter's bookkeeping.
func (rl *RateLimiter) Stats() Stats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return Stats{
		CurrentEntries: len(rl.buckets),
		MaxEntries:     rl.config.MaxEntries,
		TotalEvictions: rl.evictions,
		TotalCleanups:  rl.cleanups,
		MemoryPressure: float64(len(rl.buckets)) / float64(rl.config.MaxEntries) * 100.0,
	}
}
