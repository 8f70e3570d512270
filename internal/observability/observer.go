// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"time"

	"go.uber.org/zap"
)

// StandardObserver records timed pipeline operations through zap
type StandardObserver struct {
	level  ObservabilityLevel
	logger *zap.Logger
}

type ObservabilityLevel int

const (
	ObservabilityOff     ObservabilityLevel = 0
	ObservabilityMetrics ObservabilityLevel = 1
	ObservabilityDebug   ObservabilityLevel = 2
)

// NewStandardObserver creates observability component
func NewStandardObserver(level ObservabilityLevel, logger *zap.Logger) *StandardObserver {
	return &StandardObserver{
		level:  level,
		logger: OrNop(logger),
	}
}

// StartTiming returns a function to complete timing
func (o *StandardObserver) StartTiming(component, operation, filePath string) func(success bool, metadata map[string]interface{}) {
	start := time.Now()

	return func(success bool, metadata map[string]interface{}) {
		o.LogOperation(StandardObservabilityData{
			Component:  component,
			Operation:  operation,
			FilePath:   filePath,
			DurationMs: time.Since(start).Milliseconds(),
			Success:    success,
			Metadata:   metadata,
		})
	}
}

// LogOperation logs operation data
func (o *StandardObserver) LogOperation(data StandardObservabilityData) {
	if o == nil || o.level == ObservabilityOff {
		return
	}

	fields := []zap.Field{
		zap.String("component", data.Component),
		zap.String("operation", data.Operation),
		zap.Int64("duration_ms", data.DurationMs),
		zap.Bool("success", data.Success),
	}
	if data.FilePath != "" {
		fields = append(fields, zap.String("file", data.FilePath))
	}
	if data.Error != "" {
		fields = append(fields, zap.String("error", data.Error))
	}
	if o.level == ObservabilityDebug && len(data.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", data.Metadata))
	}

	if o.level == ObservabilityDebug {
		o.logger.Debug("operation", fields...)
		return
	}
	o.logger.Info("operation", fields...)
}

// StandardObservabilityData for all components
type StandardObservabilityData struct {
	Component  string
	Operation  string
	FilePath   string
	DurationMs int64
	Success    bool
	Error      string
	Metadata   map[string]interface{}
}
