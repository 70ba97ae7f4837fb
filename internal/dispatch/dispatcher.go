package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quote-engine/internal/pricing"
)

const DefaultTimeout = 2 * time.Second

// Outcome is what a caller gets back. Result is always usable. Err records
// why the offload path was not taken and is informational only.
type Outcome struct {
	Result    pricing.PriceResult
	Offloaded bool
	Err       error
}

// Dispatcher prices configurations through an Executor when one is available
// and falls back to the in-process calculator otherwise.
type Dispatcher struct {
	table    pricing.RateTable
	executor Executor
	timeout  time.Duration
	logger   *zap.Logger
}

// New builds a dispatcher. A nil executor disables offloading; a non-positive
// timeout uses DefaultTimeout.
func New(table pricing.RateTable, executor Executor, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		table:    table,
		executor: executor,
		timeout:  timeout,
		logger:   logger,
	}
}

// OffloadSupported reports whether calculations can currently leave the
// calling goroutine.
func (d *Dispatcher) OffloadSupported() bool {
	return d.executor != nil && d.executor.Available()
}

func (d *Dispatcher) Table() pricing.RateTable {
	return d.table
}

// CalculatePrice blocks until a result is available. It never fails: any
// offload problem is logged and answered by the synchronous calculation.
func (d *Dispatcher) CalculatePrice(ctx context.Context, cfg pricing.ServiceConfiguration) Outcome {
	if !d.OffloadSupported() {
		return Outcome{Result: pricing.Calculate(d.table, cfg), Err: ErrOffloadUnavailable}
	}

	started := time.Now()
	result, err := d.offload(ctx, cfg.Clone())
	if err != nil {
		d.logger.Warn("Offloaded calculation failed, calculating in process",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(started)),
		)
		return Outcome{Result: pricing.Calculate(d.table, cfg), Err: err}
	}

	d.logger.Debug("Offloaded calculation finished",
		zap.String("total", result.Total.StringFixed(2)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return Outcome{Result: result, Offloaded: true}
}

// Go runs CalculatePrice on its own goroutine. The configuration is copied
// before Go returns, so the caller may keep mutating its own value.
func (d *Dispatcher) Go(ctx context.Context, cfg pricing.ServiceConfiguration) <-chan Outcome {
	out := make(chan Outcome, 1)
	snapshot := cfg.Clone()
	go func() {
		defer close(out)
		out <- d.CalculatePrice(ctx, snapshot)
	}()
	return out
}

func (d *Dispatcher) offload(ctx context.Context, cfg pricing.ServiceConfiguration) (pricing.PriceResult, error) {
	const operation = "dispatch.offload"

	req := Request{
		ID:            uuid.NewString(),
		Scheme:        d.table.Scheme(),
		RateVersion:   d.table.Version(),
		Configuration: cfg,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return pricing.PriceResult{}, fmt.Errorf("%s: encode request: %w", operation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	data, err := d.executor.Execute(ctx, payload)
	if err != nil {
		return pricing.PriceResult{}, fmt.Errorf("%s: execute %s: %w", operation, req.ID, err)
	}
	result, err := decodeResponse(data, req)
	if err != nil {
		return pricing.PriceResult{}, fmt.Errorf("%s: %w", operation, err)
	}
	return result, nil
}
