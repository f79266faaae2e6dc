package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bazaar-market/escrow/internal/domainerr"
)

// BreakerConfig tunes the circuit breaker wrapped around a UnitOfWork.
type BreakerConfig struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Breaker fails units of work fast while the underlying store keeps
// reporting transient failures. Domain errors (insufficient funds, invalid
// transition, ...) count as successes: they prove the store is healthy.
type Breaker struct {
	next UnitOfWork
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a consecutive-failure circuit breaker.
func NewBreaker(next UnitOfWork, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "unit-of-work",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domainerr.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Within runs fn through the breaker. An open breaker surfaces as a
// transient error so callers back off and retry.
func (b *Breaker) Within(ctx context.Context, fn Work) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Within(ctx, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domainerr.Wrap(domainerr.KindTransient, err, "store unavailable")
	}
	return err
}

// State reports the breaker state for health checks.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
