package apiclient

import (
	"sync"
	"time"

	applog "stockboard/internal/log"
)

type CircuitState string

const (
	StateClosed   CircuitState = "closed"    // normal operation
	StateOpen     CircuitState = "open"      // failing fast
	StateHalfOpen CircuitState = "half-open" // probing the backend
)

// Breaker guards the backend: after maxFailures consecutive failures it opens
// for cooldown, then lets probes through until probeSuccesses succeed.
type Breaker struct {
	name           string
	maxFailures    int
	cooldown       time.Duration
	probeSuccesses int

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastStateChange time.Time
	now             func() time.Time
}

func NewBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:            name,
		maxFailures:     maxFailures,
		cooldown:        cooldown,
		probeSuccesses:  2,
		state:           StateClosed,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// Allow reports whether a call may proceed, moving open to half-open once the
// cooldown has passed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastStateChange) >= b.cooldown {
		b.transition(StateHalfOpen)
	}
	return b.state != StateOpen
}

func (b *Breaker) Record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if failed {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.transition(StateOpen)
		}
		return
	}
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.probeSuccesses {
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition must be called with mu held.
func (b *Breaker) transition(to CircuitState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.lastStateChange = b.now()
	b.successes = 0
	if to == StateClosed {
		b.failures = 0
	}
	applog.Logger.Warn().
		Str("circuit", b.name).
		Str("from", string(from)).
		Str("to", string(to)).
		Int("failures", b.failures).
		Msg("circuit breaker state change")
}
