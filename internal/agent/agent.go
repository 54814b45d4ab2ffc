package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Agent maintains one control channel to the relay: initial connect,
// request forwarding, reconnection with subdomain affinity, and the
// observable event stream.
type Agent struct {
	cfg    *Config
	dialer *EgressDialer
	events chan Event

	mu        sync.Mutex
	tunnel    *Tunnel
	subdomain string
	url       string
	cancel    context.CancelFunc

	closed    atomic.Bool
	closeEmit sync.Once
}

// New creates an agent from the given configuration.
func New(cfg *Config) (*Agent, error) {
	var dialer *EgressDialer
	if cfg.Egress.Proxy != "" {
		var err error
		dialer, err = NewEgressDialer(cfg.Egress.Proxy, cfg.Egress.DialTimeout)
		if err != nil {
			return nil, err
		}
	}
	return &Agent{
		cfg:    cfg,
		dialer: dialer,
		events: make(chan Event, 32),
	}, nil
}

// Events returns the agent's event stream. the channel is never closed;
// an EventClose entry marks terminal teardown.
func (a *Agent) Events() <-chan Event {
	return a.events
}

// Subdomain returns the currently assigned label. it can change across
// reconnects when the relay declines to honour the previous one.
func (a *Agent) Subdomain() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subdomain
}

// URL returns the currently assigned public url.
func (a *Agent) URL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.url
}

// Run connects to the relay and services the tunnel until a terminal
// condition: caller close, context cancellation, or reconnection
// exhaustion. a failure before the first assignment is returned directly
// as a connect-time error.
func (a *Agent) Run(ctx context.Context) error {
	if a.closed.Load() {
		return errors.New("agent is closed")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	tunnel, err := ConnectTunnel(ctx, a.cfg, a.dialer, a.cfg.Tunnel.Subdomain, a._emit)
	if err != nil {
		return fmt.Errorf("connecting to relay: %w", err)
	}

	for {
		a._adopt(tunnel)

		// the receive loop blocks in a read on a healthy channel, so
		// cancellation has to reach it from outside
		go func(t *Tunnel) {
			select {
			case <-ctx.Done():
				t.Close()
			case <-t.Done():
			}
		}(tunnel)

		runErr := tunnel.Run()
		if a.closed.Load() || ctx.Err() != nil {
			tunnel.Close()
			a._emit_close()
			return nil
		}
		slog.Warn("tunnel disconnected", "err", runErr)

		tunnel, err = a._reconnect(ctx)
		if err != nil {
			if a.closed.Load() || ctx.Err() != nil {
				a._emit_close()
				return nil
			}
			a._emit(Event{Kind: EventError, Err: err})
			a._emit_close()
			return err
		}
	}
}

// Close tears the agent down: reconnection is suppressed, any pending
// backoff wait is cancelled, and the channel is closed if open. calling
// Close twice is equivalent to calling it once.
func (a *Agent) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.mu.Lock()
	cancel := a.cancel
	tunnel := a.tunnel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tunnel != nil {
		tunnel.Close()
	}
}

// _adopt records the tunnel and its assigned identity.
func (a *Agent) _adopt(t *Tunnel) {
	a.mu.Lock()
	a.tunnel = t
	a.subdomain = t.Subdomain()
	a.url = t.URL()
	a.mu.Unlock()

	// a caller-initiated close may have raced the adoption
	if a.closed.Load() {
		t.Close()
	}
}

// _reconnect retries the relay connection with exponential backoff,
// preferring the previously assigned subdomain so the public url is
// regained when still free.
func (a *Agent) _reconnect(ctx context.Context) (*Tunnel, error) {
	b := _reconnect_backoff(&a.cfg.Tunnel)

	attempts := a.cfg.Tunnel.MaxReconnectAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		delay := b.NextBackOff()
		slog.Info("reconnecting to relay", "attempt", attempt, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		tunnel, err := ConnectTunnel(ctx, a.cfg, a.dialer, a.Subdomain(), a._emit)
		if err == nil {
			return tunnel, nil
		}
		slog.Warn("reconnect attempt failed", "attempt", attempt, "err", err)
	}
	return nil, fmt.Errorf("reconnection exhausted after %d attempts", attempts)
}

// _reconnect_backoff builds the delay source for the reconnect loop.
// the first NextBackOff yields exactly InitialInterval, then doubles.
func _reconnect_backoff(cfg *TunnelConfig) *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     cfg.ReconnectDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.MaxReconnectDelay,
	}
}

// _emit delivers an event without ever blocking the tunnel loops.
func (a *Agent) _emit(e Event) {
	select {
	case a.events <- e:
	default:
		slog.Debug("event dropped, stream full", "kind", e.Kind)
	}
}

// _emit_close emits the terminal close event exactly once.
func (a *Agent) _emit_close() {
	a.closeEmit.Do(func() {
		a._emit(Event{Kind: EventClose})
	})
}
