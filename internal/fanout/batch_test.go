package fanout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-article-push-service/internal/fanout"
	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

func TestPartition(t *testing.T) {
	t.Run("250 tokens make 100/100/50", func(t *testing.T) {
		batches := fanout.Partition(expoTokens(250), 100)

		require.Len(t, batches, 3)
		assert.Len(t, batches[0].Tokens, 100)
		assert.Len(t, batches[1].Tokens, 100)
		assert.Len(t, batches[2].Tokens, 50)
		for i, b := range batches {
			assert.Equal(t, i, b.Index)
		}
		assert.Equal(t, "ExponentPushToken[0100]", batches[1].Tokens[0])
	})

	t.Run("Oversized batch size is capped at provider limit", func(t *testing.T) {
		batches := fanout.Partition(expoTokens(150), 500)
		require.Len(t, batches, 2)
		assert.Len(t, batches[0].Tokens, notification.MaxBatchSize)
	})

	t.Run("No tokens - no batches", func(t *testing.T) {
		assert.Empty(t, fanout.Partition(nil, 100))
	})
}

func TestDispatcher_Dispatch(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	msg := notification.Message{Title: "From Test", Body: "Fall Collection"}

	t.Run("Batches are in flight at the same time", func(t *testing.T) {
		var mu sync.Mutex
		arrived := 0
		allArrived := make(chan struct{})

		transport := &fakeTransport{
			respond: func(ctx context.Context, b notification.Batch) notification.BatchResult {
				mu.Lock()
				arrived++
				if arrived == 3 {
					close(allArrived)
				}
				mu.Unlock()

				// A serial dispatcher would never get past the first batch.
				select {
				case <-allArrived:
					return allOK(b)
				case <-ctx.Done():
					return notification.BatchFailed(b, ctx.Err())
				}
			},
		}
		dispatcher := fanout.NewDispatcher(transport, fanout.DispatcherConfig{BatchTimeout: 2 * time.Second}, logger)

		results := dispatcher.Dispatch(ctx, expoTokens(250), msg)

		require.Len(t, results, 3)
		for i, res := range results {
			assert.False(t, res.Failed(), "batch %d should succeed", i)
			assert.Equal(t, i, res.Batch.Index)
		}
		assert.Len(t, transport.Batches(), 3)
	})

	t.Run("Transport failure is isolated to its batch", func(t *testing.T) {
		transport := &fakeTransport{
			respond: func(_ context.Context, b notification.Batch) notification.BatchResult {
				if b.Index == 1 {
					return notification.BatchFailed(b, errors.New("gateway unreachable"))
				}
				return allOK(b)
			},
		}
		dispatcher := fanout.NewDispatcher(transport, fanout.DispatcherConfig{}, logger)

		results := dispatcher.Dispatch(ctx, expoTokens(250), msg)

		require.Len(t, results, 3)
		assert.False(t, results[0].Failed())
		assert.True(t, results[1].Failed())
		assert.False(t, results[2].Failed())
	})

	t.Run("Per-batch timeout becomes a batch failure", func(t *testing.T) {
		transport := &fakeTransport{
			respond: func(ctx context.Context, b notification.Batch) notification.BatchResult {
				<-ctx.Done()
				return notification.BatchFailed(b, ctx.Err())
			},
		}
		dispatcher := fanout.NewDispatcher(transport, fanout.DispatcherConfig{BatchTimeout: 20 * time.Millisecond}, logger)

		results := dispatcher.Dispatch(ctx, expoTokens(10), msg)

		require.Len(t, results, 1)
		require.True(t, results[0].Failed())
		assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	})

	t.Run("Panicking transport fails only its batch", func(t *testing.T) {
		transport := &fakeTransport{
			respond: func(_ context.Context, b notification.Batch) notification.BatchResult {
				if b.Index == 0 {
					panic("boom")
				}
				return allOK(b)
			},
		}
		dispatcher := fanout.NewDispatcher(transport, fanout.DispatcherConfig{}, logger)

		results := dispatcher.Dispatch(ctx, expoTokens(150), msg)

		require.Len(t, results, 2)
		assert.True(t, results[0].Failed())
		assert.Contains(t, results[0].Err.Error(), "panic: boom")
		assert.Len(t, results[0].Batch.Tokens, 100)
		assert.False(t, results[1].Failed())
	})

	t.Run("Concurrency limit still sends every batch", func(t *testing.T) {
		transport := &fakeTransport{}
		dispatcher := fanout.NewDispatcher(transport, fanout.DispatcherConfig{
			BatchSize:            10,
			MaxConcurrentBatches: 2,
			RatePerSecond:        1000,
			Burst:                10,
		}, logger)

		results := dispatcher.Dispatch(ctx, expoTokens(55), msg)

		require.Len(t, results, 6)
		assert.Len(t, transport.Batches(), 6)
		assert.Len(t, results[5].Batch.Tokens, 5)
	})
}
