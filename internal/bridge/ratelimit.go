package bridge

import (
	"sync"
	"time"
)

// bucket holds one trainee's message timestamps, oldest first.
type bucket []time.Time

// trim drops timestamps at or before cutoff in place.
func (b bucket) trim(cutoff time.Time) bucket {
	i := 0
	for i < len(b) && !b[i].After(cutoff) {
		i++
	}
	return append(b[:0], b[i:]...)
}

// RateLimiter caps trainee messages in a sliding window. Buckets are keyed by
// user ID alone so opening more coaching sessions does not raise the cap.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]bucket
	limit   int
	window  time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter starts a limiter allowing limit messages per window.
// Call Stop to end its janitor goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]bucket),
		limit:   limit,
		window:  window,
		stop:    make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

// Allow records a message for key and reports whether it fits the budget.
func (r *RateLimiter) Allow(key string) bool {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.buckets[key].trim(now.Add(-r.window))
	if len(b) >= r.limit {
		r.buckets[key] = b
		return false
	}
	r.buckets[key] = append(b, now)
	return true
}

// Stop ends the janitor. Safe to call more than once.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *RateLimiter) janitor() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.sweep(now.Add(-r.window))
		}
	}
}

func (r *RateLimiter) sweep(cutoff time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, b := range r.buckets {
		if b = b.trim(cutoff); len(b) == 0 {
			delete(r.buckets, key)
		} else {
			r.buckets[key] = b
		}
	}
}
