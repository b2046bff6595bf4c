package compass

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/imadgeboyega/kiekky-compass/internal/logging"
)

// breakerSource fails discovery fast while the profile store is down
type breakerSource struct {
	source DiscoverableSource
	cb     *gobreaker.CircuitBreaker[[]*Profile]
}

// NewBreakerSource wraps source in a circuit breaker that opens after
// failures consecutive errors and probes again after timeout
func NewBreakerSource(source DiscoverableSource, failures uint32, timeout time.Duration) DiscoverableSource {
	if failures == 0 {
		failures = 5
	}
	cb := gobreaker.NewCircuitBreaker[[]*Profile](gobreaker.Settings{
		Name:        "compass-candidate-store",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// a caller's deadline says nothing about store health
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return &breakerSource{source: source, cb: cb}
}

func (b *breakerSource) QueryDiscoverable(ctx context.Context, limit int) ([]*Profile, error) {
	return b.cb.Execute(func() ([]*Profile, error) {
		return b.source.QueryDiscoverable(ctx, limit)
	})
}
