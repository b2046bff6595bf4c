package compass

import (
	"context"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	stubSource
	calls int
}

func (s *countingSource) QueryDiscoverable(ctx context.Context, limit int) ([]*Profile, error) {
	s.calls++
	return s.stubSource.QueryDiscoverable(ctx, limit)
}

func TestBreakerSource_OpensAfterFailures(t *testing.T) {
	source := &countingSource{stubSource: stubSource{err: errStoreDown}}
	breaker := NewBreakerSource(source, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := breaker.QueryDiscoverable(ctx, 10)
		assert.ErrorIs(t, err, errStoreDown)
	}

	_, err := breaker.QueryDiscoverable(ctx, 10)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, source.calls)
}

func TestBreakerSource_IgnoresCallerDeadlines(t *testing.T) {
	source := &countingSource{stubSource: stubSource{err: context.DeadlineExceeded}}
	breaker := NewBreakerSource(source, 1, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := breaker.QueryDiscoverable(context.Background(), 10)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Equal(t, 3, source.calls)

	source.err = nil
	source.profiles = []*Profile{newProfile("a", ArchetypeCreator, "hiking")}
	profiles, err := breaker.QueryDiscoverable(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}
