package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tinywideclouds/go-article-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

const defaultBatchTimeout = 10 * time.Second

// DispatcherConfig tunes batch size, per-batch deadline and gateway pacing.
type DispatcherConfig struct {
	// BatchSize is capped at notification.MaxBatchSize.
	BatchSize    int
	BatchTimeout time.Duration
	// MaxConcurrentBatches limits in-flight batches; zero means no limit.
	MaxConcurrentBatches int
	// RatePerSecond paces batch starts; zero disables pacing.
	RatePerSecond float64
	Burst         int
}

// Dispatcher sends batches of tokens to a single transport concurrently.
type Dispatcher struct {
	transport dispatch.Transport
	cfg       DispatcherConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewDispatcher applies defaults to cfg and binds it to the transport.
func NewDispatcher(transport dispatch.Transport, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 || cfg.BatchSize > notification.MaxBatchSize {
		cfg.BatchSize = notification.MaxBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	d := &Dispatcher{
		transport: transport,
		cfg:       cfg,
		logger:    logger.With("component", "BatchDispatcher", "provider", transport.Name()),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return d
}

// Partition splits tokens into consecutive batches of at most size tokens.
func Partition(tokens []string, size int) []notification.Batch {
	if size <= 0 || size > notification.MaxBatchSize {
		size = notification.MaxBatchSize
	}
	batches := make([]notification.Batch, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		batches = append(batches, notification.Batch{
			Index:  len(batches),
			Tokens: tokens[start:end],
		})
	}
	return batches
}

// Dispatch sends every batch concurrently and waits for all of them. Results
// are in batch order. A failing batch never stops its siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, msg notification.Message) []notification.BatchResult {
	batches := Partition(tokens, d.cfg.BatchSize)
	results := make([]notification.BatchResult, len(batches))

	var g errgroup.Group
	if d.cfg.MaxConcurrentBatches > 0 {
		g.SetLimit(d.cfg.MaxConcurrentBatches)
	}
	for i, batch := range batches {
		g.Go(func() error {
			results[i] = d.send(ctx, batch, msg)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Dispatcher) send(ctx context.Context, batch notification.Batch, msg notification.Message) (result notification.BatchResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = notification.BatchFailed(batch, &notification.TransportError{
				Provider: d.transport.Name(),
				Err:      fmt.Errorf("panic: %v", r),
			})
		}
		result.Batch = batch
		d.observe(result, time.Since(start))
	}()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return notification.BatchFailed(batch, &notification.TransportError{Provider: d.transport.Name(), Err: err})
		}
	}

	bctx, cancel := context.WithTimeout(ctx, d.cfg.BatchTimeout)
	defer cancel()

	return d.transport.Send(bctx, batch, msg)
}

func (d *Dispatcher) observe(result notification.BatchResult, elapsed time.Duration) {
	receiptErrors := 0
	for _, r := range result.Receipts {
		if !r.OK() {
			receiptErrors++
		}
	}
	recordBatch(d.transport.Name(), len(result.Batch.Tokens), receiptErrors, result.Failed(), elapsed)

	if result.Failed() {
		d.logger.Warn("Batch failed at transport level",
			"batch", result.Batch.Index, "tokens", len(result.Batch.Tokens), "err", result.Err)
		return
	}
	d.logger.Debug("Batch sent",
		"batch", result.Batch.Index, "tokens", len(result.Batch.Tokens),
		"receipt_errors", receiptErrors, "elapsed", elapsed)
}
