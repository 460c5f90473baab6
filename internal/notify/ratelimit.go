package notify

import (
	"context"
	"sync"
	"time"
)

const rateLimitWindow = time.Hour

// SharedCounter is an optional external counter store (Redis) so the hourly
// limit holds across pipeline replicas.
type SharedCounter interface {
	IncrRateLimit(ctx context.Context, adminID string, window time.Duration) (int64, error)
}

// tracker is the in-memory sliding-hour counter for one administrator.
// Once the window reset time has passed, the counter restarts on next
// access.
type tracker struct {
	count         int
	windowResetAt time.Time
}

// rateLimiter enforces the per-administrator hourly notification limit.
type rateLimiter struct {
	mu       sync.Mutex
	limit    int
	trackers map[string]*tracker
	shared   SharedCounter
}

func newRateLimiter(limit int, shared SharedCounter) *rateLimiter {
	return &rateLimiter{
		limit:    limit,
		trackers: make(map[string]*tracker),
		shared:   shared,
	}
}

// Allow consumes one notification pass for the administrator. It returns
// false when the hourly limit is exhausted. The counter is incremented once
// per pass, not once per channel.
func (l *rateLimiter) Allow(ctx context.Context, adminID string) bool {
	if l.limit <= 0 {
		return true
	}

	if l.shared != nil {
		count, err := l.shared.IncrRateLimit(ctx, adminID, rateLimitWindow)
		if err == nil {
			return count <= int64(l.limit)
		}
		// Shared store unreachable: fall through to the local tracker so a
		// Redis outage cannot silence alerts.
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.trackers[adminID]
	now := time.Now()
	if !ok || now.After(t.windowResetAt) {
		t = &tracker{windowResetAt: now.Add(rateLimitWindow)}
		l.trackers[adminID] = t
	}
	if t.count >= l.limit {
		return false
	}
	t.count++
	return true
}
