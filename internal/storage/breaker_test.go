package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:                 "test",
		MaxFailures:          3,
		Timeout:              time.Hour,
		HalfOpenMaxSuccesses: 1,
		OnStateChange: func(name, from, to string) {
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
		},
	})
	ctx := context.Background()
	down := errors.New("connection reset")

	for i := 0; i < 3; i++ {
		err := cb.Do(ctx, func(ctx context.Context) error { return down })
		assert.ErrorIs(t, err, down)
	}
	assert.Equal(t, "open", cb.State())
	assert.Equal(t, []string{"test:closed->open"}, transitions)

	called := false
	err := cb.Do(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open circuit must not call through")

	m := cb.Metrics()
	assert.Equal(t, uint64(4), m.TotalRequests)
	assert.Equal(t, uint64(4), m.TotalFailures)
}

func TestCircuitBreaker_NotFoundDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 2, Timeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := cb.Do(ctx, func(ctx context.Context) error {
			return fmt.Errorf("get pattern: %w", ErrNotFound)
		})
		require.ErrorIs(t, err, ErrNotFound)
	}

	assert.Equal(t, "closed", cb.State())
	assert.Equal(t, uint64(5), cb.Metrics().TotalSuccesses)
}

func TestCircuitBreaker_CancelledContextShortCircuits(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Do(ctx, func(ctx context.Context) error {
		t.Fatal("fn must not run on a cancelled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
