package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTryWithTimeout_Completes(t *testing.T) {
	out := TryWithTimeout(context.Background(), "quick", time.Second, func(context.Context) error { return nil })
	assert.True(t, out.OK())
	assert.False(t, out.TimedOut)
	assert.Equal(t, "quick", out.Name)
}

func TestTryWithTimeout_BudgetElapses(t *testing.T) {
	start := time.Now()
	out := TryWithTimeout(context.Background(), "slow", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.False(t, out.OK())
	assert.True(t, out.TimedOut)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTryWithTimeout_ReportsOperationError(t *testing.T) {
	boom := errors.New("element detached")
	out := TryWithTimeout(context.Background(), "click", time.Second, func(context.Context) error { return boom })
	assert.ErrorIs(t, out.Err, boom)
	assert.False(t, out.TimedOut)
}

func TestTryWithTimeout_RecoversPanic(t *testing.T) {
	var out WaitOutcome
	assert.NotPanics(t, func() {
		out = TryWithTimeout(context.Background(), "panicky", time.Second, func(context.Context) error {
			panic("target closed")
		})
	})
	assert.False(t, out.OK())
	assert.Contains(t, out.Err.Error(), "target closed")
}

func TestTryWithTimeout_BoundedByParent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	out := TryWithTimeout(ctx, "parent", time.Minute, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, out.TimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPollUntil(t *testing.T) {
	n := 0
	ok := pollUntil(context.Background(), time.Second, time.Millisecond, func(context.Context) bool {
		n++
		return n == 3
	})
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	ok = pollUntil(context.Background(), 20*time.Millisecond, 5*time.Millisecond, func(context.Context) bool { return false })
	assert.False(t, ok)
}

func TestSleepContext(t *testing.T) {
	assert.True(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepContext(ctx, time.Minute))
	assert.False(t, sleepContext(ctx, 0))
}
