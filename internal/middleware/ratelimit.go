package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// CheckoutRateLimiter caps how many carts one user may open in a window
type CheckoutRateLimiter struct {
	attempts    map[string][]time.Time
	mutex       sync.Mutex
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

// NewCheckoutRateLimiter creates a new limiter. A non positive
// maxAttempts disables it.
func NewCheckoutRateLimiter(maxAttempts int, window time.Duration) *CheckoutRateLimiter {
	return &CheckoutRateLimiter{
		attempts:    make(map[string][]time.Time),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
}

// Allow records an attempt for key and reports whether it is within the
// limit, with the wait before the next allowed attempt otherwise
func (rl *CheckoutRateLimiter) Allow(key string) (bool, time.Duration) {
	if rl.maxAttempts <= 0 {
		return true, 0
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	valid := prune(rl.attempts[key], now.Add(-rl.window))

	if len(valid) >= rl.maxAttempts {
		rl.attempts[key] = valid
		return false, valid[0].Add(rl.window).Sub(now)
	}

	rl.attempts[key] = append(valid, now)
	return true, 0
}

// Cleanup drops keys without recent attempts
func (rl *CheckoutRateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for key, attempts := range rl.attempts {
		if valid := prune(attempts, cutoff); len(valid) == 0 {
			delete(rl.attempts, key)
		} else {
			rl.attempts[key] = valid
		}
	}
}

func prune(attempts []time.Time, cutoff time.Time) []time.Time {
	var valid []time.Time
	for _, attempt := range attempts {
		if attempt.After(cutoff) {
			valid = append(valid, attempt)
		}
	}
	return valid
}

// CheckoutRateLimit limits POST requests per session user, falling back
// to the client IP for anonymous requests
func CheckoutRateLimit(rl *CheckoutRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			key := getClientIP(r)
			if user := GetUserFromContext(r.Context()); user != nil {
				key = "user:" + user.ID
			}

			if ok, wait := rl.Allow(key); !ok {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(wait.Seconds())+1))
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many carts created, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
