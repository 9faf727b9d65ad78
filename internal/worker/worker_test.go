package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	wp := NewWorkerPool(3, time.Second, zap.NewNop())

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		ok := wp.Submit("count", func(ctx context.Context) error {
			done.Add(1)
			return nil
		})
		assert.True(t, ok)
	}
	wp.Shutdown()

	assert.Equal(t, int32(10), done.Load())
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	wp := NewWorkerPool(1, 20*time.Millisecond, zap.NewNop())

	result := make(chan error, 1)
	wp.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	})
	wp.Shutdown()

	assert.ErrorIs(t, <-result, context.DeadlineExceeded)
}

func TestWorkerPool_LogsFailuresAndPanics(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	wp := NewWorkerPool(1, 0, zap.New(core))

	wp.Submit("fails", func(ctx context.Context) error { return errors.New("boom") })
	wp.Submit("panics", func(ctx context.Context) error { panic("oops") })
	wp.Shutdown()

	assert.Equal(t, 1, logs.FilterMessage("task failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("task panicked").Len())
}

func TestWorkerPool_RejectsAfterShutdown(t *testing.T) {
	wp := NewWorkerPool(1, 0, zap.NewNop())
	wp.Shutdown()
	wp.Shutdown()

	assert.False(t, wp.Submit("late", func(ctx context.Context) error { return nil }))
}
