package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTemporary = errors.New("temporary error")

func fastPolicy(attempts uint) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		Multiplier:  2,
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, uint(4), p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
}

func TestBackoffScheduleDoublesAndCaps(t *testing.T) {
	b := Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2}.Backoff()

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
	}, got)
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	v, err := Do(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		attempts++
		return "ok", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, attempts)
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	var notified []uint
	v, err := Do(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errTemporary
		}
		return attempts, nil
	}, func(_ error, attempt uint, _ time.Duration) {
		notified = append(notified, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, []uint{1, 2}, notified)
}

func TestDoStopsAtCeiling(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), fastPolicy(4), func(context.Context) (struct{}, error) {
		attempts++
		return struct{}{}, errTemporary
	}, nil)

	assert.ErrorIs(t, err, errTemporary)
	assert.Equal(t, 4, attempts)
}

func TestDoNonRetryableReturnsImmediately(t *testing.T) {
	fatal := errors.New("bad request")
	p := fastPolicy(5).WithRetryable(func(err error) bool { return !errors.Is(err, fatal) })

	attempts := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		attempts++
		return 0, fatal
	}, nil)

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, attempts)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), Policy{BaseDelay: time.Millisecond}, func(context.Context) (int, error) {
		attempts++
		return 0, errTemporary
	}, nil)

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, func(context.Context) (int, error) {
			attempts++
			return 0, errTemporary
		}, nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}
