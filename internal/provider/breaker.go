package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerSettings returns the gobreaker settings used for every vendor.
func BreakerSettings(name string, logger zerolog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     1 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
}

type breakerProvider struct {
	Provider
	cb *gobreaker.CircuitBreaker
}

// WithBreaker wraps p in a circuit breaker. Only retryable failures count
// against it.
func WithBreaker(p Provider, settings gobreaker.Settings) Provider {
	return &breakerProvider{Provider: p, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerProvider) Send(ctx context.Context, msg Message) Result {
	out, err := b.cb.Execute(func() (interface{}, error) {
		res := b.Provider.Send(ctx, msg)
		if !res.Success && res.Retryable {
			return res, errors.New(res.Error)
		}
		return res, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Failed("%s unavailable: %v", b.Name(), err)
	}
	return out.(Result)
}
