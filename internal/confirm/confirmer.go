// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package confirm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/observability"
	"sentinel-scan/internal/resilience"
)

// Options controls how candidates are sent to the adapter
type Options struct {
	Concurrency      int
	Timeout          time.Duration
	Retry            resilience.RetryConfig
	BreakerThreshold int
}

// DefaultOptions returns the confirmation defaults
func DefaultOptions() Options {
	return Options{
		Concurrency:      2,
		Timeout:          120 * time.Second,
		Retry:            resilience.DefaultRetryConfig(),
		BreakerThreshold: 5,
	}
}

// Stats counts confirmation outcomes for one run
type Stats struct {
	Candidates   int
	Confirmed    int
	Rejected     int
	Reclassified int
	Fallback     int
	Skipped      int
	Unavailable  int
	Timeouts     int
	Failures     int
	BreakerOpen  bool
	ModelVersion string
}

// Confirmer applies an adapter to flagged events. A nil adapter means a
// keyword-only run: events keep DetectionMode KEYWORD.
type Confirmer struct {
	adapter Adapter
	opts    Options
	logger  *zap.Logger
}

// NewConfirmer creates a confirmer for one run. adapter may be nil.
func NewConfirmer(adapter Adapter, opts Options, logger *zap.Logger) *Confirmer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = DefaultOptions().BreakerThreshold
	}
	return &Confirmer{adapter: adapter, opts: opts, logger: observability.OrNop(logger)}
}

// Enabled reports whether an adapter was injected
func (c *Confirmer) Enabled() bool {
	return c.adapter != nil
}

// Confirm resolves events in place. Supportive-category events are not
// sent. On any adapter failure, or once the run's breaker opens, the
// event stays unconfirmed and is marked AI_FALLBACK. The returned error
// is only the context error when the run is canceled.
func (c *Confirmer) Confirm(ctx context.Context, events []detector.FlaggedEvent, extractor *detector.ContextExtractor) (Stats, error) {
	var stats Stats
	if c.adapter == nil {
		return stats, nil
	}

	var targets []int
	for i := range events {
		if events[i].Supportive {
			stats.Skipped++
			continue
		}
		targets = append(targets, i)
	}
	stats.Candidates = len(targets)
	if len(targets) == 0 {
		return stats, nil
	}

	name := c.adapter.Name()
	if !c.adapter.IsAvailable(ctx) {
		err := &AdapterUnavailableError{Adapter: name}
		c.logger.Warn("inference adapter unavailable, keeping keyword results",
			zap.String("adapter", name), zap.Int("candidates", len(targets)))
		for _, i := range targets {
			_ = events[i].Fallback(err.Error())
		}
		stats.Unavailable = len(targets)
		stats.Fallback = len(targets)
		return stats, ctx.Err()
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig(name)
	breakerCfg.FailureThreshold = c.opts.BreakerThreshold
	breakerCfg.OnStateChange = func(name string, from, to resilience.CircuitBreakerState) {
		c.logger.Warn("inference circuit breaker opened for the rest of the run",
			zap.String("adapter", name), zap.Stringer("from", from), zap.Stringer("to", to))
	}
	breaker := resilience.NewCircuitBreaker(breakerCfg)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for _, i := range targets {
		if gctx.Err() != nil {
			break
		}
		ev := &events[i]
		g.Go(func() error {
			window, ok := extractor.Extract(*ev)
			if !ok {
				window = Window{Target: detector.ContextLine{RecordID: ev.RecordID, Direction: ev.Direction, TimestampMs: ev.TimestampMs}}
			}

			out, err := c.analyze(gctx, breaker, *ev, window)
			if err == nil {
				var conf detector.Confirmation
				conf, err = toConfirmation(*ev, out)
				if err == nil {
					err = ev.Resolve(conf)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				c.recordFailure(&stats, ev, err)
				return nil
			}
			if stats.ModelVersion == "" {
				stats.ModelVersion = out.ModelVersion
			}
			switch {
			case ev.Rejected():
				stats.Rejected++
			case out.Verdict == VerdictReclassify:
				stats.Reclassified++
			default:
				stats.Confirmed++
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.BreakerOpen = breaker.GetState() == resilience.StateOpen
	return stats, ctx.Err()
}

// analyze wraps one adapter call with per-attempt timeout, retries and the
// run's breaker
func (c *Confirmer) analyze(ctx context.Context, breaker *resilience.CircuitBreaker, ev detector.FlaggedEvent, window Window) (Outcome, error) {
	name := c.adapter.Name()
	return resilience.RetryWithResult(ctx, c.opts.Retry, breaker, func(ctx context.Context) (Outcome, error) {
		callCtx := ctx
		cancel := func() {}
		if c.opts.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		}
		defer cancel()

		out, err := c.adapter.Analyze(callCtx, ev, window)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Outcome{}, &AdapterTimeoutError{Adapter: name, Timeout: c.opts.Timeout, Cause: context.DeadlineExceeded}
		}
		return out, err
	})
}

func (c *Confirmer) recordFailure(stats *Stats, ev *detector.FlaggedEvent, err error) {
	var timeout *AdapterTimeoutError
	var unavailable *AdapterUnavailableError
	switch {
	case resilience.IsCircuitBreakerError(err):
		stats.Unavailable++
	case errors.As(err, &timeout):
		stats.Timeouts++
	case errors.As(err, &unavailable):
		stats.Unavailable++
	default:
		stats.Failures++
	}
	if ev.Fallback(err.Error()) == nil {
		stats.Fallback++
	}
	c.logger.Debug("confirmation fell back to keyword result",
		zap.String("event_id", ev.ID), zap.String("category", ev.Category), zap.Error(err))
}
