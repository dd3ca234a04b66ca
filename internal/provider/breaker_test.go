package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

type flakyProvider struct {
	calls int
	fail  bool
}

func (f *flakyProvider) Run(_ context.Context, _ Call) (Response, error) {
	f.calls++
	if f.fail {
		return Response{}, errors.New("connection refused")
	}
	return Response{Success: true}, nil
}

func newTestBreaker(next Provider) (*Breaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(next, BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute, HalfOpenMax: 1})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	inner := &flakyProvider{fail: true}
	b, _ := newTestBreaker(inner)
	ctx := context.Background()
	call := Call{ActionKey: "slack.sendMessage"}

	for i := 0; i < 2; i++ {
		_, err := b.Run(ctx, call)
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, b.State(call.ActionKey))

	_, err := b.Run(ctx, call)
	require.Error(t, err)
	assert.True(t, schema.IsKind(err, schema.ErrProvider))
	assert.Equal(t, 2, inner.calls, "open circuit fails fast")

	assert.Equal(t, CircuitClosed, b.State("other.action"), "circuits are per action")
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	inner := &flakyProvider{fail: true}
	b, now := newTestBreaker(inner)
	ctx := context.Background()
	call := Call{ActionKey: "a"}

	_, _ = b.Run(ctx, call)
	_, _ = b.Run(ctx, call)
	require.Equal(t, CircuitOpen, b.State("a"))

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, b.State("a"))

	inner.fail = false
	resp, err := b.Run(ctx, call)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, CircuitClosed, b.State("a"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	inner := &flakyProvider{fail: true}
	b, now := newTestBreaker(inner)
	ctx := context.Background()
	call := Call{ActionKey: "a"}

	_, _ = b.Run(ctx, call)
	_, _ = b.Run(ctx, call)
	*now = now.Add(2 * time.Minute)

	_, err := b.Run(ctx, call)
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, b.State("a"))
	assert.Equal(t, 3, inner.calls)
}

func TestBreaker_UnsuccessfulActionDoesNotTrip(t *testing.T) {
	inner := Func(func(context.Context, Call) (Response, error) {
		return Response{Success: false, Error: "bad channel"}, nil
	})
	b, _ := newTestBreaker(inner)

	for i := 0; i < 5; i++ {
		resp, err := b.Run(context.Background(), Call{ActionKey: "a"})
		require.NoError(t, err)
		assert.False(t, resp.Success)
	}
	assert.Equal(t, CircuitClosed, b.State("a"))
}

func TestBreaker_Disabled(t *testing.T) {
	inner := &flakyProvider{fail: true}
	b := NewBreaker(inner, BreakerConfig{})
	for i := 0; i < 10; i++ {
		_, _ = b.Run(context.Background(), Call{ActionKey: "a"})
	}
	assert.Equal(t, 10, inner.calls)
}
