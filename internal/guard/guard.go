package guard

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/larlab/bellcore/internal/lab"
)

// Admission-control errors. Both signal "retry later", not a hard
// failure; HTTP handlers map them to 429.
var (
	// ErrRateLimited is returned when a client address exceeds the
	// fixed-window request budget.
	ErrRateLimited = errors.New("guard: rate limited")

	// ErrCooldown is returned when a lab was rung too recently. The
	// cooldown is lab-scoped: it applies regardless of which client rings.
	ErrCooldown = errors.New("guard: lab cooling down")
)

// retryError wraps an admission-control sentinel with the wait hint.
type retryError struct {
	sentinel error
	after    time.Duration
}

func (e *retryError) Error() string {
	return fmt.Sprintf("%s (retry in %v)", e.sentinel, e.after)
}

func (e *retryError) Unwrap() error {
	return e.sentinel
}

// RetryAfter extracts the wait hint from an admission-control error.
func RetryAfter(err error) (time.Duration, bool) {
	var re *retryError
	if errors.As(err, &re) {
		return re.after, true
	}
	return 0, false
}

// rateWindow is one client's counter within the current fixed window.
type rateWindow struct {
	count int
	start time.Time
}

// RateLimiter is a per-client-address fixed-window counter.
//
// When a window has fully elapsed the counter resets and a new window
// starts at the current attempt. The window is a hard reset, not
// sliding: a client can burst up to 2x max straddling a window
// boundary. That is a known, accepted limitation of the fixed-window
// scheme, kept for its simplicity.
//
// All public methods are thread-safe.
type RateLimiter struct {
	window time.Duration
	max    int

	mu      sync.Mutex
	windows map[string]rateWindow
}

// NewRateLimiter creates a rate limiter allowing max attempts per window
// per client address.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		window:  window,
		max:     max,
		windows: make(map[string]rateWindow),
	}
}

// Allow records an attempt for addr at now and rejects with
// ErrRateLimited once the window's budget is exhausted. Rejected
// attempts still count: a client hammering the endpoint stays rejected
// until a full quiet window elapses.
func (r *RateLimiter) Allow(addr string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[addr]
	if !ok || now.Sub(w.start) >= r.window {
		w = rateWindow{start: now}
	}
	w.count++
	r.windows[addr] = w

	if w.count > r.max {
		return &retryError{
			sentinel: ErrRateLimited,
			after:    w.start.Add(r.window).Sub(now),
		}
	}
	return nil
}

// ActiveWindows returns the number of tracked client windows.
func (r *RateLimiter) ActiveWindows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Cooldown enforces minimum spacing between successful rings per lab,
// protecting the physical buzzer from rapid re-triggering.
//
// Check runs before dispatch; Record runs only after a successful bus
// publish, so a failed publish never starts a cooldown.
//
// All public methods are thread-safe.
type Cooldown struct {
	period time.Duration

	mu       sync.Mutex
	lastRing map[lab.ID]time.Time
}

// NewCooldown creates a cooldown gate with the given minimum spacing.
func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{
		period:   period,
		lastRing: make(map[lab.ID]time.Time),
	}
}

// Check rejects with ErrCooldown if the lab was rung less than the
// cooldown period before now.
func (c *Cooldown) Check(id lab.ID, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastRing[id]
	if !ok {
		return nil
	}
	elapsed := now.Sub(last)
	if elapsed < c.period {
		return &retryError{
			sentinel: ErrCooldown,
			after:    c.period - elapsed,
		}
	}
	return nil
}

// Record stores the instant of a successful ring publish for the lab.
func (c *Cooldown) Record(id lab.ID, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRing[id] = now
}

// LastRing returns the last recorded ring instant for a lab.
func (c *Cooldown) LastRing(id lab.ID) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastRing[id]
	return t, ok
}
