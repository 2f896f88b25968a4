package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ingressEntry holds a client's token bucket and its last access time for
// eviction.
type ingressEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IngressInfo describes the state of a client's ingress bucket after an
// admission decision.
type IngressInfo struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// IngressLimiter is a pre-authentication, per-client-IP token bucket guarding
// public endpoints such as health checks. It is independent of the per-key
// quota windows. A background goroutine evicts entries not seen within 2x the
// cleanup interval.
type IngressLimiter struct {
	rate            rate.Limit
	burst           int
	limit           int // requests per minute, surfaced in IngressInfo.Limit
	cleanupInterval time.Duration

	mu      sync.Mutex
	entries map[string]*ingressEntry
	done    chan struct{}
	closed  bool
}

// NewIngressLimiter creates an ingress limiter with the given
// requests-per-minute rate, burst size, and cleanup interval. It starts a
// background goroutine for eviction.
func NewIngressLimiter(requestsPerMinute int, burst int, cleanupInterval time.Duration) *IngressLimiter {
	l := &IngressLimiter{
		rate:            rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:           burst,
		limit:           requestsPerMinute,
		cleanupInterval: cleanupInterval,
		entries:         make(map[string]*ingressEntry),
		done:            make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow checks whether a request from the given client should be admitted.
func (l *IngressLimiter) Allow(clientKey string) (bool, IngressInfo) {
	l.mu.Lock()
	e, exists := l.entries[clientKey]
	if !exists {
		e = &ingressEntry{
			limiter: rate.NewLimiter(l.rate, l.burst),
		}
		l.entries[clientKey] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	allowed := e.limiter.Allow()

	now := time.Now()
	tokens := e.limiter.TokensAt(now)
	remaining := int(math.Max(0, math.Floor(tokens)))

	// Reset is when the bucket refills completely.
	tokensNeeded := float64(l.burst) - tokens
	var resetAt time.Time
	if tokensNeeded > 0 {
		resetDuration := time.Duration(tokensNeeded / float64(l.rate) * float64(time.Second))
		resetAt = now.Add(resetDuration)
	} else {
		resetAt = now
	}

	info := IngressInfo{
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}

	if !allowed {
		// Time until the next token is available.
		reservation := e.limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel()
		info.RetryAfter = delay
	}

	return allowed, info
}

// Close stops the background eviction goroutine.
func (l *IngressLimiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

func (l *IngressLimiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictStale()
		}
	}
}

// evictStale removes entries older than 2x the cleanup interval.
func (l *IngressLimiter) evictStale() {
	cutoff := time.Now().Add(-2 * l.cleanupInterval)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}
