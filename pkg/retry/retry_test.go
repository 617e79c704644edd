package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bmad-method/orchestrator/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRetrySequenceDeterministic(t *testing.T) {
	h := New(Config{
		MaxRetries:        4,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
	})
	seq := h.GetRetrySequence()
	require.Len(t, seq, 4)
	for i, d := range seq {
		want := time.Duration(float64(100*time.Millisecond) * pow2(i))
		if want > time.Second {
			want = time.Second
		}
		assert.Equal(t, want, d)
	}
}

func pow2(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	h := New(DefaultConfig())
	calls := 0
	err := h.Do(context.Background(), "op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	h := New(Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})
	calls := 0
	err := h.Do(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errs.NewRetryable("transient", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustionMessage(t *testing.T) {
	h := New(Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	calls := 0
	err := h.Do(context.Background(), "op", func() error {
		calls++
		return errs.NewRetryable("still failing", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "Operation failed after 2 retries")

	metrics := h.GetErrorMetrics()
	require.Contains(t, metrics, string(errs.KindRetryable))
	assert.GreaterOrEqual(t, metrics[string(errs.KindRetryable)].Count, 3)
}

func TestDoDoesNotRetryFatal(t *testing.T) {
	h := New(DefaultConfig())
	calls := 0
	err := h.Do(context.Background(), "op", func() error {
		calls++
		return errs.NewFatal("unrecoverable", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsShouldRetryOverride(t *testing.T) {
	h := New(Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		ShouldRetry:  func(err error) bool { return false },
	})
	calls := 0
	err := h.Do(context.Background(), "op", func() error {
		calls++
		return errs.NewRetryable("transient", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoFiresOnRetryCallback(t *testing.T) {
	var attempts []int
	h := New(Config{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			attempts = append(attempts, attempt)
		},
	})
	calls := 0
	_ = h.Do(context.Background(), "op", func() error {
		calls++
		return errs.NewRetryable("transient", nil)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	h := New(Config{MaxRetries: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := h.Do(ctx, "op", func() error {
		calls++
		return errs.NewRetryable("transient", nil)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithResultReturnsValue(t *testing.T) {
	h := New(DefaultConfig())
	v, err := DoWithResult(context.Background(), h, "op", func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestResetErrorMetrics(t *testing.T) {
	h := New(Config{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	_ = h.Do(context.Background(), "op", func() error {
		return errs.NewRetryable("x", nil)
	})
	assert.NotEmpty(t, h.GetErrorMetrics())
	h.ResetErrorMetrics()
	assert.Empty(t, h.GetErrorMetrics())
}

func TestClassifyWrappedStandardError(t *testing.T) {
	h := New(Config{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	err := h.Do(context.Background(), "op", func() error {
		return errors.New("connect: ECONNRESET")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Operation failed after 3 retries")
}
