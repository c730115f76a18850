package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-auth-session/internal/autherr"
)

func fixedJitter(v float64) Option {
	return WithJitter(func() float64 { return v })
}

func networkErr() error {
	return autherr.New(autherr.KindNetwork, "test", errors.New("connection refused"))
}

func TestPolicy_Delay(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: time.Second}

	tests := []struct {
		attempt int
		j       float64
		want    time.Duration
	}{
		{attempt: 1, j: 0, want: 500 * time.Millisecond},
		{attempt: 1, j: 1, want: time.Second},
		{attempt: 2, j: 0, want: time.Second},
		{attempt: 3, j: 0.5, want: 3 * time.Second},
		{attempt: 0, j: 0, want: 500 * time.Millisecond},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, p.Delay(tt.attempt, tt.j), "attempt=%d j=%v", tt.attempt, tt.j)
	}

	// Границы [0.5, 1.0) * base * 2^(n-1) для любого джиттера.
	for n := 1; n <= 6; n++ {
		lo := time.Duration(float64(time.Second) * float64(uint(1)<<(n-1)) * 0.5)
		hi := time.Duration(float64(time.Second) * float64(uint(1)<<(n-1)))
		for _, j := range []float64{0, 0.25, 0.999} {
			d := p.Delay(n, j)
			require.GreaterOrEqual(t, d, lo)
			require.Less(t, d, hi)
		}
	}

	require.Positive(t, p.Delay(200, 0.5))
}

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	require.Equal(t, 5, p.MaxRetries)
	require.Equal(t, time.Second, p.BaseDelay)
	require.True(t, p.Retryable(networkErr()))
	require.False(t, p.Retryable(autherr.New(autherr.KindInvalidRefreshToken, "op", nil)))
}

func TestExecute_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	s := New(fixedJitter(0), WithRetryHook(func(_ int, d time.Duration, _ error) {
		delays = append(delays, d)
	}))

	calls := 0
	err := s.Execute(context.Background(), Policy{MaxRetries: 3, BaseDelay: 2 * time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return networkErr()
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestExecute_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	s := New(fixedJitter(0))

	calls := 0
	err := s.Execute(context.Background(), Policy{MaxRetries: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return networkErr()
	})

	require.Error(t, err)
	require.Equal(t, autherr.KindNetwork, autherr.KindOf(err))
	require.Equal(t, 3, calls)
}

func TestExecute_NonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()

	s := New(fixedJitter(0))

	calls := 0
	err := s.Execute(context.Background(), Policy{MaxRetries: 5, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return autherr.New(autherr.KindInvalidRefreshToken, "test", nil)
	})

	require.Equal(t, autherr.KindInvalidRefreshToken, autherr.KindOf(err))
	require.Equal(t, 1, calls)
}

func TestExecute_CanceledDuringWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := New(fixedJitter(0), WithRetryHook(func(int, time.Duration, error) { cancel() }))

	calls := 0
	err := s.Execute(ctx, Policy{MaxRetries: 5, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		return networkErr()
	})

	require.Equal(t, autherr.KindCanceled, autherr.KindOf(err))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDo_ReturnsValue(t *testing.T) {
	t.Parallel()

	v, err := Do(context.Background(), New(), Policy{}, func(context.Context) (string, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestScheduleRetry_Fires(t *testing.T) {
	t.Parallel()

	var fired atomic.Bool
	p := New().ScheduleRetry(context.Background(), time.Millisecond, func(context.Context) error {
		fired.Store(true)
		return nil
	})

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled retry did not fire")
	}

	ran, err := p.Result()
	require.True(t, ran)
	require.NoError(t, err)
	require.True(t, fired.Load())
}

func TestScheduleRetry_Cancel(t *testing.T) {
	t.Parallel()

	var fired atomic.Bool
	p := New().ScheduleRetry(context.Background(), time.Hour, func(context.Context) error {
		fired.Store(true)
		return nil
	})

	p.Cancel()
	p.Cancel()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("canceled retry did not finish")
	}

	ran, err := p.Result()
	require.False(t, ran)
	require.Equal(t, autherr.KindCanceled, autherr.KindOf(err))
	require.False(t, fired.Load())

	var nilPending *Pending
	nilPending.Cancel()
}
