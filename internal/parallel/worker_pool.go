// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package parallel

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"sentinel-scan/internal/decoder"
	"sentinel-scan/internal/normalize"
	"sentinel-scan/internal/observability"
	"sentinel-scan/internal/record"
)

// maxFieldErrors caps the MissingFieldErrors kept per file; the rest are
// only counted
const maxFieldErrors = 50

// WorkerPool decodes and normalizes export files on a fixed set of workers
type WorkerPool struct {
	workers  int
	jobs     chan *Job
	results  chan *Result
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	observer *observability.StandardObserver
}

// Job is one export file to read
type Job struct {
	FilePath string
	Index    int
	Config   *JobConfig
}

// JobConfig holds the per-run settings shared by every job
type JobConfig struct {
	Decoder   decoder.Options
	Normalize normalize.Options
	// Filter drops records outside the input selection; nil keeps all
	Filter *normalize.Filter
	// Logger receives one warning per file with dropped records
	Logger *zap.Logger
}

// Result is the outcome of one file
type Result struct {
	Index    int
	FilePath string
	Records  []record.Record
	Decode   decoder.FileStats
	// Missing holds the first normalization failures of the file
	Missing []*normalize.MissingFieldError
	// MissingCount counts every record dropped by normalization
	MissingCount int
	// Filtered counts records dropped by the input selection
	Filtered int
	// Error is a *decoder.DecodeError for unreadable files, or the context
	// error when the run was cancelled
	Error    error
	Duration time.Duration
}

// Skipped is the number of elements of this file that produced no record,
// excluding filtered ones
func (r *Result) Skipped() int {
	return r.Decode.Skipped + r.MissingCount
}

// NewWorkerPool creates a worker pool bound to ctx
func NewWorkerPool(ctx context.Context, workers int, observer *observability.StandardObserver) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		workers:  workers,
		jobs:     make(chan *Job, workers*2),
		results:  make(chan *Result, workers*2),
		ctx:      ctx,
		cancel:   cancel,
		observer: observer,
	}
}

// Start initializes worker goroutines
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop waits for the workers and releases the pool. The job channel must
// be closed first.
func (wp *WorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()
	close(wp.results)
}

// Submit adds a job to the queue. It gives up when the pool's context ends.
func (wp *WorkerPool) Submit(job *Job) bool {
	select {
	case wp.jobs <- job:
		return true
	case <-wp.ctx.Done():
		return false
	}
}

// Close signals that no more jobs will be submitted
func (wp *WorkerPool) Close() {
	close(wp.jobs)
}

// Results returns the results channel
func (wp *WorkerPool) Results() <-chan *Result {
	return wp.results
}

// Workers returns the pool size
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobs {
		result := wp.processJob(job, normalize.New(job.Config.Normalize), id)

		select {
		case wp.results <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

// processJob streams one file through the decoder and normalizer. A file
// that cannot be decoded at all keeps the records read before the failure.
func (wp *WorkerPool) processJob(job *Job, n *normalize.Normalizer, workerID int) *Result {
	start := time.Now()

	var finishTiming func(bool, map[string]interface{})
	if wp.observer != nil {
		finishTiming = wp.observer.StartTiming("worker_pool", "process_file", job.FilePath)
	}

	result := &Result{Index: job.Index, FilePath: job.FilePath}
	if err := wp.ctx.Err(); err != nil {
		result.Error = err
		return result
	}

	stats, err := decoder.DecodeFile(job.FilePath, job.Config.Decoder, func(el decoder.RawElement) error {
		if err := wp.ctx.Err(); err != nil {
			return err
		}
		r, err := n.Normalize(el)
		if err != nil {
			var missing *normalize.MissingFieldError
			if !errors.As(err, &missing) {
				return err
			}
			result.MissingCount++
			if len(result.Missing) < maxFieldErrors {
				result.Missing = append(result.Missing, missing)
			}
			return nil
		}
		if !job.Config.Filter.Accept(r) {
			result.Filtered++
			return nil
		}
		result.Records = append(result.Records, r)
		return nil
	})
	result.Decode = stats
	result.Error = err
	result.Duration = time.Since(start)

	if result.MissingCount > 0 {
		first := result.Missing[0]
		observability.OrNop(job.Config.Logger).Warn("records dropped for missing fields",
			zap.String("file", job.FilePath),
			zap.Int("count", result.MissingCount),
			zap.String("first_field", first.Field),
			zap.Int("first_ordinal", first.Ordinal))
	}

	if finishTiming != nil {
		finishTiming(err == nil, map[string]interface{}{
			"worker_id":    workerID,
			"encoding":     string(stats.Encoding),
			"elements":     stats.Elements,
			"records":      len(result.Records),
			"skipped":      result.Skipped(),
			"filtered":     result.Filtered,
			"duration_ms":  result.Duration.Milliseconds(),
			"decode_error": err != nil,
		})
	}
	return result
}
