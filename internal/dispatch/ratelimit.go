package dispatch

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// rateLimiter applies a per-IP sliding-window request cap to the
// introspection endpoints. The webhook endpoint is exempt: the provider
// contract requires a success answer, never a 429.
type limiterEntry struct {
	windowStart  time.Time
	requestCount int
	lastSeen     time.Time
}

type rateLimiter struct {
	mu           sync.Mutex
	requestLimit int
	maxEntries   int
	staleTTL     time.Duration
	pruneEvery   uint64
	opCount      uint64
	entries      map[string]*limiterEntry
}

func newRateLimiter(requestLimit int) *rateLimiter {
	if requestLimit <= 0 {
		requestLimit = 120
	}
	return &rateLimiter{
		requestLimit: requestLimit,
		maxEntries:   10_000,
		staleTTL:     30 * time.Minute,
		pruneEvery:   256,
		entries:      make(map[string]*limiterEntry),
	}
}

func (r *rateLimiter) allow(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	e, ok := r.entries[ip]
	if !ok {
		e = &limiterEntry{windowStart: now}
		r.entries[ip] = e
	}
	e.lastSeen = now

	if r.shouldPruneLocked() {
		r.pruneLocked(now)
	}

	if now.Sub(e.windowStart) >= time.Minute {
		e.windowStart = now
		e.requestCount = 0
	}
	e.requestCount++
	return e.requestCount <= r.requestLimit
}

func (r *rateLimiter) shouldPruneLocked() bool {
	r.opCount++
	if len(r.entries) > r.maxEntries {
		return true
	}
	return r.opCount%r.pruneEvery == 0
}

func (r *rateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.staleTTL)
	for ip, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(r.entries, ip)
		}
	}
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil {
		return host
	}
	if strings.Count(remoteAddr, ":") == 1 {
		if _, pErr := strconv.Atoi(strings.Split(remoteAddr, ":")[1]); pErr == nil {
			return strings.Split(remoteAddr, ":")[0]
		}
	}
	return remoteAddr
}
