package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls pass through
	CircuitOpen                         // calls fail fast
	CircuitHalfOpen                     // probing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the per-action circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transport failures that
	// opens the circuit. Zero disables the breaker.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// Cooldown is how long the circuit stays open before a trial call is allowed.
	Cooldown time.Duration `mapstructure:"cooldown"`
	// HalfOpenMax is the number of trial calls allowed while half-open.
	HalfOpenMax int `mapstructure:"half_open_max"`
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second, HalfOpenMax: 1}
}

type circuit struct {
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenAttempts    int
}

// Breaker wraps a Provider with one circuit per action key. Only transport
// errors count as failures; an action the provider reports as unsuccessful
// does not trip the circuit. Calls are never retried.
type Breaker struct {
	next   Provider
	config BreakerConfig
	now    func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// NewBreaker wraps next.
func NewBreaker(next Provider, cfg BreakerConfig) *Breaker {
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{next: next, config: cfg, now: time.Now, circuits: make(map[string]*circuit)}
}

// Run calls the wrapped provider unless the action's circuit is open.
func (b *Breaker) Run(ctx context.Context, call Call) (Response, error) {
	if b.config.FailureThreshold <= 0 {
		return b.next.Run(ctx, call)
	}
	if err := b.allow(call.ActionKey); err != nil {
		return Response{}, err
	}
	resp, err := b.next.Run(ctx, call)
	if err != nil {
		b.recordFailure(call.ActionKey)
		return resp, err
	}
	b.recordSuccess(call.ActionKey)
	return resp, nil
}

// State returns the circuit state for an action key.
func (b *Breaker) State(actionKey string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(actionKey)
	if c.state == CircuitOpen && b.now().Sub(c.lastFailure) >= b.config.Cooldown {
		return CircuitHalfOpen
	}
	return c.state
}

func (b *Breaker) allow(actionKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(actionKey)

	switch c.state {
	case CircuitOpen:
		if b.now().Sub(c.lastFailure) < b.config.Cooldown {
			return schema.NewErrorf(schema.ErrProvider,
				"circuit open for action %q after %d consecutive failures", actionKey, c.consecutiveFailures).
				WithData(map[string]any{
					"action_key":           actionKey,
					"consecutive_failures": c.consecutiveFailures,
					"state":                c.state.String(),
				})
		}
		c.state = CircuitHalfOpen
		c.halfOpenAttempts = 1
	case CircuitHalfOpen:
		if c.halfOpenAttempts >= b.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrProvider, "circuit half-open for action %q: trial call in flight", actionKey)
		}
		c.halfOpenAttempts++
	}
	return nil
}

func (b *Breaker) recordSuccess(actionKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(actionKey)
	c.state = CircuitClosed
	c.consecutiveFailures = 0
	c.halfOpenAttempts = 0
}

func (b *Breaker) recordFailure(actionKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(actionKey)
	c.consecutiveFailures++
	c.lastFailure = b.now()
	if c.state == CircuitHalfOpen || c.consecutiveFailures >= b.config.FailureThreshold {
		c.state = CircuitOpen
	}
}

// circuit must be called with b.mu held.
func (b *Breaker) circuit(actionKey string) *circuit {
	c, ok := b.circuits[actionKey]
	if !ok {
		c = &circuit{}
		b.circuits[actionKey] = c
	}
	return c
}

var _ Provider = (*Breaker)(nil)
