package api

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ratingLimiter allows one rating submission per client IP per window.
// Entries expire on their own; there is no unbounded growth for one-off
// visitors.
type ratingLimiter struct {
	seen   *gocache.Cache
	window time.Duration
}

func newRatingLimiter(window time.Duration) *ratingLimiter {
	return &ratingLimiter{
		seen:   gocache.New(window, 2*window),
		window: window,
	}
}

// allow reports whether ip may submit now, and records the attempt if so.
func (l *ratingLimiter) allow(ip string) bool {
	if err := l.seen.Add(ip, struct{}{}, l.window); err != nil {
		return false
	}
	return true
}
