package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Limiter with a per-key sliding window. Single-node
// only; deployments running more than one replica use the Redis limiter.
type InMemory struct {
	mu        sync.Mutex
	windows   map[string]*slidingWindow
	lastSweep time.Time
}

// slidingWindow tracks request timestamps. A sliding window avoids the
// boundary burst a fixed window would admit.
type slidingWindow struct {
	timestamps []time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{windows: make(map[string]*slidingWindow)}
}

func (l *InMemory) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweep(now, window)

	w := l.windows[key]
	if w == nil {
		w = &slidingWindow{}
		l.windows[key] = w
	}
	w.cleanup(now, window)

	if len(w.timestamps) >= limit {
		return &Result{
			Allowed: false,
			ResetAt: w.timestamps[0].Add(window),
		}, nil
	}

	w.timestamps = append(w.timestamps, now)
	return &Result{
		Allowed:   true,
		Remaining: limit - len(w.timestamps),
		ResetAt:   w.timestamps[0].Add(window),
	}, nil
}

// sweep evicts keys whose timestamps have all lapsed, at most once per
// window, so idle users and IPs do not accumulate forever. Caller holds mu.
func (l *InMemory) sweep(now time.Time, window time.Duration) {
	if now.Sub(l.lastSweep) < window {
		return
	}
	l.lastSweep = now
	for key, w := range l.windows {
		w.cleanup(now, window)
		if len(w.timestamps) == 0 {
			delete(l.windows, key)
		}
	}
}

func (w *slidingWindow) cleanup(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	w.timestamps = w.timestamps[i:]
}
