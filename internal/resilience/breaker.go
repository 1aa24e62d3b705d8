// Package resilience provides the provider circuit breaker and error
// classification used by the generation retry chain.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State represents the state of a provider's circuit breaker.
type State int

const (
	// StateClosed is the normal operating state — calls flow through.
	StateClosed State = iota
	// StateOpen means too many consecutive failures — the provider is
	// unavailable until the cool-down window elapses.
	StateOpen
	// StateHalfOpen allows a single probe call to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrProviderUnavailable is returned when a call is rejected because the
// provider's circuit is open.
var ErrProviderUnavailable = eris.New("provider circuit is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// provider is marked unavailable. Default: 5.
	FailureThreshold int

	// Cooldown is how long the provider stays unavailable before a probe
	// call is allowed. Default: 60s.
	Cooldown time.Duration

	// OnStateChange is called when a provider transitions between states.
	OnStateChange func(provider string, from, to State)
}

// Breaker tracks consecutive failures for a single provider across the whole
// run. Failures anywhere in the run count; a success anywhere resets.
type Breaker struct {
	provider string
	cfg      BreakerConfig

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBreaker creates a breaker for the named provider.
func NewBreaker(provider string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Breaker{
		provider: provider,
		cfg:      cfg,
		state:    StateClosed,
		nowFunc:  time.Now,
	}
}

// Allow reports whether a call to the provider may proceed. When the
// cool-down has elapsed, one probe call is allowed through in half-open
// state.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		if b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.transition(StateHalfOpen)
			return nil
		}
		return ErrProviderUnavailable
	default:
		return nil
	}
}

// Record feeds a call outcome into the breaker. A nil error resets the
// failure count and closes the circuit; a failure in half-open state reopens
// it immediately.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.consecutiveFailures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.consecutiveFailures++
	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.openedAt = b.nowFunc()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.openedAt = b.nowFunc()
		b.transition(StateOpen)
	}
}

// State returns the current breaker state, accounting for an elapsed
// cool-down.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed. Useful for tests and manual recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// transition updates state and fires the callback. Caller holds b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.provider, from, to)
	}
}

// ProviderSet manages one breaker per provider name.
type ProviderSet struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewProviderSet creates a registry of per-provider circuit breakers.
func NewProviderSet(cfg BreakerConfig) *ProviderSet {
	return &ProviderSet{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for the named provider, creating one if needed.
func (s *ProviderSet) Get(provider string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[provider]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(provider, s.cfg)
	s.breakers[provider] = b
	return b
}

// States returns a snapshot of all provider states for observability.
func (s *ProviderSet) States() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make(map[string]State, len(s.breakers))
	for name, b := range s.breakers {
		states[name] = b.State()
	}
	return states
}
