package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limiter is a sliding-window attempt counter keyed by client identifier.
// Windows live in memory only; Sweep drops identifiers that have gone idle.
type Limiter struct {
	mu       sync.Mutex
	maxHits  int
	window   time.Duration
	hitsByID map[string][]time.Time
}

func New(maxHits int, window time.Duration) *Limiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &Limiter{
		maxHits:  maxHits,
		window:   window,
		hitsByID: make(map[string][]time.Time),
	}
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()

		allowed, retryAfter := l.Allow(ClientID(r), now)
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many attempts"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) Allow(id string, now time.Time) (bool, time.Duration) {
	threshold := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hitsByID[id]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= l.maxHits {
		retryAfter := filtered[0].Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		l.hitsByID[id] = filtered
		return false, retryAfter
	}

	filtered = append(filtered, now)
	l.hitsByID[id] = filtered

	return true, 0
}

// Sweep removes identifiers whose last hit predates the window. Called
// periodically by the maintenance scheduler to bound memory.
func (l *Limiter) Sweep(now time.Time) int {
	threshold := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, hits := range l.hitsByID {
		if len(hits) == 0 || hits[len(hits)-1].Before(threshold) {
			delete(l.hitsByID, id)
			removed++
		}
	}

	return removed
}

func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.hitsByID)
}

// ClientID identifies the caller for rate-limiting purposes: the first
// X-Forwarded-For entry when present, else the transport address.
func ClientID(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
