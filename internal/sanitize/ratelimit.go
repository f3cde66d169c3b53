package sanitize

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiters owns one token bucket per source. Zero rate/burst disables
// limiting entirely.
type RateLimiters struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	rps      float64
	burst    int
	disabled bool
}

func NewRateLimiters(rps float64, burst int) *RateLimiters {
	return &RateLimiters{
		buckets:  make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
		disabled: rps <= 0 || burst <= 0,
	}
}

// Allow reports whether a record from source may pass, consuming a token
// if so. Always true when rate limiting is disabled.
func (r *RateLimiters) Allow(source string) bool {
	if r.disabled {
		return true
	}

	r.mu.Lock()
	lim, ok := r.buckets[source]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.rps), r.burst)
		r.buckets[source] = lim
	}
	r.mu.Unlock()

	return lim.Allow()
}
