package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const maxRateLimitEntries = 100000

// Limiter is a sliding-window request limiter keyed by client IP.
type Limiter struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu    sync.Mutex
	store map[string][]time.Time
}

func NewLimiter(window time.Duration, max int) *Limiter {
	return &Limiter{
		window: window,
		max:    max,
		now:    time.Now,
		store:  make(map[string][]time.Time),
	}
}

func (l *Limiter) Handler(next http.Handler) http.Handler {
	return l.Except(nil)(next)
}

// Except is Handler for every request exempt does not match.
func (l *Limiter) Except(exempt func(r *http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt != nil && exempt(r) {
				next.ServeHTTP(w, r)
				return
			}
			l.serve(w, r, next)
		})
	}
}

func (l *Limiter) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	allowed, remaining, resetIn := l.allow(clientIP(r))

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.max))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

	if !allowed {
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetIn))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   "Too many requests. Please slow down.",
			"resetIn": resetIn,
		})
		return
	}

	next.ServeHTTP(w, r)
}

// clientIP expects chi's RealIP to have rewritten RemoteAddr already.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *Limiter) allow(ip string) (allowed bool, remaining int, resetIn int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	filtered := l.pruneLocked(ip, now)

	if len(filtered) >= l.max {
		resetSec := int(filtered[0].Add(l.window).Sub(now).Seconds()) + 1
		l.store[ip] = filtered
		return false, 0, resetSec
	}

	if _, known := l.store[ip]; !known && len(l.store) >= maxRateLimitEntries {
		return false, 0, int(l.window.Seconds())
	}

	filtered = append(filtered, now)
	l.store[ip] = filtered
	return true, l.max - len(filtered), 0
}

func (l *Limiter) pruneLocked(ip string, now time.Time) []time.Time {
	windowStart := now.Add(-l.window)
	requests := l.store[ip]
	filtered := requests[:0]
	for _, t := range requests {
		if t.After(windowStart) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// StartCleanup drops idle clients every interval until ctx ends.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for ip := range l.store {
		if filtered := l.pruneLocked(ip, now); len(filtered) == 0 {
			delete(l.store, ip)
		} else {
			l.store[ip] = filtered
		}
	}
}
