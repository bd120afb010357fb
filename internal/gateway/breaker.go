package gateway

import (
	"context"
	"sync"
	"time"

	"donation-payments/internal/core/ports"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker is a per-gateway circuit breaker. Failures are counted over a
// sliding window; once the threshold is reached the breaker opens and
// rejects calls until the cooldown elapses, then admits a single probe.
type Breaker struct {
	name      string
	threshold int
	window    time.Duration
	cooldown  time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures []time.Time
	openedAt time.Time
	probing  bool

	now     func() time.Time
	onState func(name string, state BreakerState)
}

// NewBreaker creates a closed breaker for the named gateway.
func NewBreaker(name string, threshold int, window, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// OnStateChange registers a listener invoked on every state transition
// (used to export the breaker state as a metric).
func (b *Breaker) OnStateChange(fn func(name string, state BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onState = fn
	fn(b.name, b.state)
}

// Allow reports whether a call may proceed. In half-open state only one
// probe is admitted at a time; its outcome must be reported via Record.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(BreakerHalfOpen)
		b.probing = true
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Record reports the outcome of an allowed call. Provider declines count as
// success here: a decline proves the gateway is reachable and healthy.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.probing = false
		if success {
			b.failures = nil
			b.setState(BreakerClosed)
		} else {
			b.openedAt = b.now()
			b.setState(BreakerOpen)
		}
		return
	}

	if success {
		return
	}

	now := b.now()
	b.failures = append(b.failures, now)
	b.prune(now)
	if len(b.failures) >= b.threshold {
		b.openedAt = now
		b.setState(BreakerOpen)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// prune drops failures that aged out of the sliding window. Callers hold mu.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

func (b *Breaker) setState(next BreakerState) {
	if b.state == next {
		return
	}
	b.state = next
	if b.onState != nil {
		b.onState(b.name, next)
	}
}

// breakerAdapter wraps a gateway adapter with a circuit breaker. Only
// transient failures (timeouts, 5xx, connection errors) count toward
// opening the circuit; declines pass through without tripping it.
type breakerAdapter struct {
	inner   ports.GatewayAdapter
	breaker *Breaker
}

// WithBreaker decorates adapter so every charge and refund call is gated by
// the breaker. Rejected calls return a transient circuit_open error without
// touching the provider.
func WithBreaker(adapter ports.GatewayAdapter, breaker *Breaker) ports.GatewayAdapter {
	return &breakerAdapter{inner: adapter, breaker: breaker}
}

func (a *breakerAdapter) ID() string { return a.inner.ID() }

func (a *breakerAdapter) Charge(ctx context.Context, req ports.ChargeRequest) (*ports.ChargeResult, error) {
	if !a.breaker.Allow() {
		return nil, NewTransient(a.inner.ID(), CodeCircuitOpen, "circuit breaker is open")
	}
	res, err := a.inner.Charge(ctx, req)
	a.breaker.Record(err == nil || !IsTransient(err))
	return res, err
}

func (a *breakerAdapter) Refund(ctx context.Context, req ports.RefundRequest) (*ports.RefundResult, error) {
	if !a.breaker.Allow() {
		return nil, NewTransient(a.inner.ID(), CodeCircuitOpen, "circuit breaker is open")
	}
	res, err := a.inner.Refund(ctx, req)
	a.breaker.Record(err == nil || !IsTransient(err))
	return res, err
}

// GetStatus is a read-only call and bypasses the breaker.
func (a *breakerAdapter) GetStatus(ctx context.Context, externalRef string) (ports.ChargeStatus, error) {
	return a.inner.GetStatus(ctx, externalRef)
}
