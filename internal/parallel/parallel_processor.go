// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package parallel

import (
	"context"
	"time"

	"sentinel-scan/internal/observability"
)

// ParallelProcessor reads a batch of export files concurrently
type ParallelProcessor struct {
	workers  int
	observer *observability.StandardObserver
}

// ProcessingStats tracks parallel processing statistics
type ProcessingStats struct {
	TotalFiles     int           `json:"total_files"`
	ProcessedFiles int           `json:"processed_files"`
	FailedFiles    int           `json:"failed_files"`
	TotalRecords   int           `json:"total_records"`
	TotalDuration  time.Duration `json:"total_duration_ms"`
	WorkerCount    int           `json:"worker_count"`
	AvgFileTime    time.Duration `json:"avg_file_time_ms"`
}

// NewParallelProcessor creates a processor with the given worker count;
// values below one fall back to a single worker
func NewParallelProcessor(workers int, observer *observability.StandardObserver) *ParallelProcessor {
	if workers < 1 {
		workers = 1
	}
	return &ParallelProcessor{workers: workers, observer: observer}
}

// ProgressCallback is called when a file is completed
type ProgressCallback func(completed, total int, currentFile string)

// ProcessFiles reads every file and returns one Result per input, in input
// order. Per-file decode failures are reported on their Result; the error
// return is only set when ctx ends first.
func (pp *ParallelProcessor) ProcessFiles(ctx context.Context, filePaths []string, config *JobConfig, progress ProgressCallback) ([]*Result, *ProcessingStats, error) {
	start := time.Now()

	workers := pp.workers
	if workers > len(filePaths) && len(filePaths) > 0 {
		workers = len(filePaths)
	}

	var finishTiming func(bool, map[string]interface{})
	if pp.observer != nil {
		finishTiming = pp.observer.StartTiming("parallel_processor", "process_files", "batch")
	}

	pool := NewWorkerPool(ctx, workers, pp.observer)
	pool.Start()
	defer pool.Stop()

	// Submit jobs in a separate goroutine to prevent deadlock
	jobCount := len(filePaths)
	go func() {
		defer pool.Close()
		for i, path := range filePaths {
			if !pool.Submit(&Job{FilePath: path, Index: i, Config: config}) {
				return
			}
		}
	}()

	results := make([]*Result, jobCount)
	stats := &ProcessingStats{TotalFiles: jobCount, WorkerCount: workers}
	var fileTime time.Duration

	for i := 0; i < jobCount; i++ {
		var result *Result
		select {
		case result = <-pool.Results():
		case <-ctx.Done():
			stats.TotalDuration = time.Since(start)
			if finishTiming != nil {
				finishTiming(false, map[string]interface{}{"completed_files": i, "total_files": jobCount})
			}
			return nil, stats, ctx.Err()
		}

		results[result.Index] = result
		fileTime += result.Duration
		if result.Error != nil {
			stats.FailedFiles++
			if pp.observer != nil {
				pp.observer.LogOperation(observability.StandardObservabilityData{
					Component: "parallel_processor",
					Operation: "file_processing",
					FilePath:  result.FilePath,
					Success:   false,
					Error:     result.Error.Error(),
				})
			}
		} else {
			stats.ProcessedFiles++
		}
		stats.TotalRecords += len(result.Records)

		if progress != nil {
			progress(i+1, jobCount, result.FilePath)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	stats.TotalDuration = time.Since(start)
	stats.AvgFileTime = fileTime / time.Duration(max(jobCount, 1))

	if finishTiming != nil {
		finishTiming(true, map[string]interface{}{
			"total_files":     jobCount,
			"processed_files": stats.ProcessedFiles,
			"failed_files":    stats.FailedFiles,
			"total_records":   stats.TotalRecords,
			"worker_count":    workers,
			"duration_ms":     stats.TotalDuration.Milliseconds(),
		})
	}
	return results, stats, nil
}
