package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter tracks per-client request counts in fixed minute and hour
// windows plus a calendar-day request and byte quota.
type RateLimiter struct {
	mu  sync.Mutex
	cfg RateLimitConfig
	now func() time.Time

	clients map[string]*clientUsage
}

// clientUsage is the usage of one client within the current windows.
type clientUsage struct {
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
	day         time.Time // local midnight of the current day
	dayCount    int
	dayBytes    int64
	lastSeen    time.Time
}

// Usage is a snapshot of a client's counters.
type Usage struct {
	RequestsThisMinute int
	RequestsThisHour   int
	RequestsToday      int
	BytesToday         int64
}

// NewRateLimiter creates a limiter with the given limits.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, now: time.Now, clients: make(map[string]*clientUsage)}
}

// Allow records a request of dataSize bytes from client, or returns a
// *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) Allow(client string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.usage(client, now)
	u.roll(now)

	if l := rl.cfg.RequestsPerMinute; l > 0 && u.minuteCount >= l {
		return &RateLimitError{Type: "minute", Limit: l, RetryAfter: u.minuteStart.Add(time.Minute).Sub(now)}
	}
	if l := rl.cfg.RequestsPerHour; l > 0 && u.hourCount >= l {
		return &RateLimitError{Type: "hour", Limit: l, RetryAfter: u.hourStart.Add(time.Hour).Sub(now)}
	}
	resets := u.day.AddDate(0, 0, 1)
	if l := rl.cfg.MaxRequestsPerDay; l > 0 && u.dayCount >= l {
		return &QuotaExceededError{Type: "requests", Limit: int64(l), Used: int64(u.dayCount), Resets: resets}
	}
	if l := rl.cfg.MaxDataPerDay; l > 0 && u.dayBytes+dataSize > l {
		return &QuotaExceededError{Type: "data", Limit: l, Used: u.dayBytes, Resets: resets}
	}

	u.minuteCount++
	u.hourCount++
	u.dayCount++
	u.dayBytes += dataSize
	u.lastSeen = now
	return nil
}

// Usage returns the current counters for client.
func (rl *RateLimiter) Usage(client string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[client]
	if !ok {
		return Usage{}
	}
	u.roll(rl.now())
	return Usage{
		RequestsThisMinute: u.minuteCount,
		RequestsThisHour:   u.hourCount,
		RequestsToday:      u.dayCount,
		BytesToday:         u.dayBytes,
	}
}

// Prune drops clients idle for longer than maxIdle and returns how many
// were removed.
func (rl *RateLimiter) Prune(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	n := 0
	for id, u := range rl.clients {
		if now.Sub(u.lastSeen) > maxIdle {
			delete(rl.clients, id)
			n++
		}
	}
	return n
}

func (rl *RateLimiter) usage(client string, now time.Time) *clientUsage {
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{minuteStart: now, hourStart: now, day: midnight(now), lastSeen: now}
		rl.clients[client] = u
	}
	return u
}

// roll starts new windows once the current ones have elapsed.
func (u *clientUsage) roll(now time.Time) {
	if now.Sub(u.minuteStart) >= time.Minute {
		u.minuteStart, u.minuteCount = now, 0
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.hourStart, u.hourCount = now, 0
	}
	if d := midnight(now); !d.Equal(u.day) {
		u.day, u.dayCount, u.dayBytes = d, 0, 0
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // until the window resets
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter.Round(time.Second))
}

// QuotaExceededError represents a daily quota violation.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
