// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package shared

import (
	"time"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/formatters"
	"sentinel-scan/internal/ledger"
	"sentinel-scan/internal/pipeline"
	"sentinel-scan/internal/risk"
)

// ReportVersion identifies the JSON report layout
const ReportVersion = "1"

// Report is the top-level structure of structured output
type Report struct {
	Version  string             `json:"version"`
	Run      ledger.AnalysisRun `json:"run"`
	Summary  pipeline.Summary   `json:"summary"`
	Profiles []risk.RiskProfile `json:"profiles"`
	Events   []JSONEvent        `json:"events,omitempty"`
}

// JSONEvent is one flagged event in structured output
type JSONEvent struct {
	ID                string  `json:"id"`
	RecordID          string  `json:"record_id"`
	Counterparty      string  `json:"counterparty"`
	Direction         string  `json:"direction"`
	Timestamp         string  `json:"timestamp"`
	Category          string  `json:"category"`
	Tier              string  `json:"tier"`
	EffectiveCategory string  `json:"effective_category"`
	EffectiveTier     string  `json:"effective_tier"`
	Term              string  `json:"term"`
	Supportive        bool    `json:"supportive,omitempty"`
	Mode              string  `json:"mode"`
	Status            string  `json:"status"`
	Confidence        float64 `json:"confidence,omitempty"`
	ModelVersion      string  `json:"model_version,omitempty"`
	Summary           string  `json:"summary,omitempty"`
}

// FormatTimestamp renders epoch milliseconds as RFC 3339 in UTC
func FormatTimestamp(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// ConvertEvent converts a flagged event. Model summaries are only kept in
// verbose output.
func ConvertEvent(e detector.FlaggedEvent, options formatters.FormatterOptions) JSONEvent {
	je := JSONEvent{
		ID:                e.ID,
		RecordID:          e.RecordID,
		Counterparty:      e.Counterparty,
		Direction:         string(e.Direction),
		Timestamp:         FormatTimestamp(e.TimestampMs),
		Category:          e.Category,
		Tier:              e.Tier.String(),
		EffectiveCategory: e.EffectiveCategory(),
		EffectiveTier:     e.EffectiveTier().String(),
		Term:              e.Span.Term,
		Supportive:        e.Supportive,
		Mode:              string(e.Mode),
		Status:            string(e.Confirmation.Status),
		Confidence:        e.Confirmation.Confidence,
		ModelVersion:      e.Confirmation.ModelVersion,
	}
	if options.Verbose {
		je.Summary = e.Confirmation.Summary
	}
	return je
}

// ConvertResult builds the structured report of a run. Events are listed
// only in verbose output.
func ConvertResult(result *pipeline.Result, options formatters.FormatterOptions) Report {
	report := Report{
		Version:  ReportVersion,
		Run:      result.Run,
		Summary:  result.Summary,
		Profiles: result.Profiles,
	}
	if report.Profiles == nil {
		report.Profiles = []risk.RiskProfile{}
	}
	if options.Verbose {
		for _, e := range result.Events {
			report.Events = append(report.Events, ConvertEvent(e, options))
		}
	}
	return report
}
