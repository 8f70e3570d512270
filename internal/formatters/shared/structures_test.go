// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/formatters"
	"sentinel-scan/internal/pipeline"
	"sentinel-scan/internal/record"
)

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "", FormatTimestamp(0))
	assert.Equal(t, "2023-11-14T22:13:20Z", FormatTimestamp(1700000000000))
}

func TestConvertResult(t *testing.T) {
	ev := detector.FlaggedEvent{
		ID:           "e1",
		RecordID:     "r1",
		Counterparty: "+15550102000",
		Direction:    record.DirectionReceived,
		TimestampMs:  1700000000000,
		Category:     "INSULT",
		Tier:         detector.TierHigh,
		Span:         detector.Span{Term: "worthless", Start: 8, End: 17},
		Mode:         detector.ModeAI,
		Confirmation: detector.Confirmation{
			Status:       detector.StatusConfirmed,
			Confidence:   0.8,
			ModelVersion: "m1",
			Summary:      "hostile",
		},
	}
	result := &pipeline.Result{Events: []detector.FlaggedEvent{ev}}

	report := ConvertResult(result, formatters.FormatterOptions{})
	assert.Equal(t, ReportVersion, report.Version)
	assert.NotNil(t, report.Profiles)
	assert.Empty(t, report.Events)

	report = ConvertResult(result, formatters.FormatterOptions{Verbose: true})
	if assert.Len(t, report.Events, 1) {
		je := report.Events[0]
		assert.Equal(t, "high", je.Tier)
		assert.Equal(t, "INSULT", je.EffectiveCategory)
		assert.Equal(t, "worthless", je.Term)
		assert.Equal(t, "confirmed", je.Status)
		assert.Equal(t, "hostile", je.Summary)
		assert.Equal(t, "2023-11-14T22:13:20Z", je.Timestamp)
	}
}
