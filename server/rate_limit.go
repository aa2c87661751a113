package server

import (
	"sync"
	"time"

	"golang.org/x/exp/maps"
)

// rateLimiter counts calls per client in fixed windows.
// A client making more than limit calls in a window is answered with 429 until the window ends.
type rateLimiter struct {
	limit  int
	window time.Duration

	windows map[string]*rateWindow
	lock    sync.Mutex
}

type rateWindow struct {
	resetAt time.Time
	count   int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*rateWindow),
	}
}

// exceeded counts a call from the client and returns how long it must wait, or zero if the call is allowed.
func (r *rateLimiter) exceeded(client string) time.Duration {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := time.Now()

	// Expired windows are dropped so idle clients don't accumulate.
	maps.DeleteFunc(r.windows, func(_ string, w *rateWindow) bool {
		return now.After(w.resetAt)
	})

	w, ok := r.windows[client]
	if !ok {
		w = &rateWindow{resetAt: now.Add(r.window)}
		r.windows[client] = w
	}

	if w.count++; w.count > r.limit {
		return w.resetAt.Sub(now)
	}

	return 0
}
