package dhcp

import (
	"sync"
	"time"
)

// RateRule configures one named rate-limit window, applied per identifier
// (a MAC address string, an IP, or a relay-agent identifier — the security
// pipeline chooses which).
type RateRule struct {
	Limit       int
	Window      time.Duration
	BlockWindow time.Duration
}

// identifierState is the sliding-window state kept for one identifier.
type identifierState struct {
	blockedUntil time.Time
	hits         []time.Time
}

// RateLimiter enforces a RateRule across a bounded set of identifiers, per
// the original spec's §4.4 stage 4 and §5 "rate-limit tracker maps have
// fixed caps; overflow evicts oldest".
type RateLimiter struct {
	rule  RateRule
	state map[string]*identifierState

	// order tracks insertion order of identifiers for eviction when maxIDs
	// is exceeded, oldest first.
	order []string

	mu     sync.Mutex
	maxIDs int
}

// NewRateLimiter returns a limiter enforcing rule, capped at maxIDs
// concurrently tracked identifiers (0 means unbounded).
func NewRateLimiter(rule RateRule, maxIDs int) (rl *RateLimiter) {
	return &RateLimiter{
		rule:   rule,
		state:  make(map[string]*identifierState),
		maxIDs: maxIDs,
	}
}

// Allow records a hit for id at now and reports whether it should be
// admitted. It returns enteredBlock=true exactly once, on the transition
// into the block window, so the caller can emit a single event per the
// original spec's "Emit one event on transition into block."
func (rl *RateLimiter) Allow(id string, now time.Time) (admitted, enteredBlock bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	st, ok := rl.state[id]
	if !ok {
		st = &identifierState{}
		rl.state[id] = st
		rl.order = append(rl.order, id)
		rl.evictIfNeeded()
	}

	if now.Before(st.blockedUntil) {
		return false, false
	}

	if !st.blockedUntil.IsZero() {
		// The block window has elapsed; start counting fresh.
		st.blockedUntil = time.Time{}
		st.hits = nil
	}

	cutoff := now.Add(-rl.rule.Window)
	kept := st.hits[:0]
	for _, h := range st.hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	st.hits = append(kept, now)

	if len(st.hits) > rl.rule.Limit {
		st.blockedUntil = now.Add(rl.rule.BlockWindow)
		st.hits = nil

		return false, true
	}

	return true, false
}

// evictIfNeeded drops the oldest tracked identifier once rl.maxIDs is
// exceeded. Caller must hold rl.mu.
func (rl *RateLimiter) evictIfNeeded() {
	if rl.maxIDs <= 0 || len(rl.order) <= rl.maxIDs {
		return
	}

	oldest := rl.order[0]
	rl.order = rl.order[1:]
	delete(rl.state, oldest)
}
