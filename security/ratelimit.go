package security

import (
	"container/list"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/giantswarm/identity-adapter/apierror"
)

const (
	defaultMaxLimiters     = 10000
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleTimeout     = 30 * time.Minute
)

type limiterEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a per-key token bucket limiter. Keys are evicted least
// recently used first once maxEntries is reached, and idle keys are swept
// periodically.
type RateLimiter struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List
	limit      rate.Limit
	burst      int
	maxEntries int
	logger     *slog.Logger
	auditor    *Auditor
	onReject   func(r *http.Request)
	evictions  int64
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewRateLimiter creates a limiter allowing requestsPerSecond with the given
// burst per key. It starts a background sweeper; call Stop to release it.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithMaxEntries(requestsPerSecond, burst, defaultMaxLimiters, logger)
}

// NewRateLimiterWithMaxEntries is NewRateLimiter with a custom cap on tracked
// keys. Zero means unlimited.
func NewRateLimiterWithMaxEntries(requestsPerSecond, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		maxEntries = defaultMaxLimiters
	}

	rl := &RateLimiter{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		limit:      rate.Limit(requestsPerSecond),
		burst:      burst,
		maxEntries: maxEntries,
		logger:     logger,
		stop:       make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// SetAuditor makes the limiter record rejected requests as audit events.
func (rl *RateLimiter) SetAuditor(a *Auditor) {
	rl.auditor = a
}

// SetRejectHook registers fn to run for every request Middleware rejects.
func (rl *RateLimiter) SetRejectHook(fn func(r *http.Request)) {
	rl.onReject = fn
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.entries[key]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if rl.maxEntries > 0 && len(rl.entries) >= rl.maxEntries {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		key:        key,
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	}
	rl.entries[key] = rl.lru.PushFront(entry)
	return entry.limiter.AllowN(now, 1)
}

// Middleware rejects requests whose key (usually the client IP) has exhausted
// its budget with a 429 JSON error.
func (rl *RateLimiter) Middleware(keyFunc func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := keyFunc(r)
		if !rl.Allow(key) {
			rl.auditor.LogRateLimitExceeded(key)
			if rl.onReject != nil {
				rl.onReject(r)
			}
			w.Header().Set("Retry-After", "1")
			apierror.Write(w, rl.logger, apierror.TooManyRequests("Too many requests. Please retry later."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Evictions returns how many keys were evicted to respect maxEntries.
func (rl *RateLimiter) Evictions() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.evictions
}

// evictOldest must be called with mu held.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	rl.lru.Remove(elem)
	delete(rl.entries, entry.key)
	rl.evictions++
	rl.logger.Debug("Rate limiter evicted key", "tracked", len(rl.entries), "evictions", rl.evictions)
}

// Sweep drops keys idle for longer than maxIdle.
func (rl *RateLimiter) Sweep(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	// The back of the list holds the least recently used keys.
	for elem := rl.lru.Back(); elem != nil; {
		entry := elem.Value.(*limiterEntry)
		if entry.lastAccess.After(cutoff) {
			break
		}
		prev := elem.Prev()
		rl.lru.Remove(elem)
		delete(rl.entries, entry.key)
		removed++
		elem = prev
	}
	return removed
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := rl.Sweep(limiterIdleTimeout); n > 0 {
				rl.logger.Debug("Rate limiter sweep completed", "removed", n)
			}
		case <-rl.stop:
			return
		}
	}
}

// Stop stops the background sweeper. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
