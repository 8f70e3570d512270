// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package confirm

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/record"
	"sentinel-scan/internal/resilience"
)

type fakeAdapter struct {
	available bool
	calls     atomic.Int32
	analyze   func(ev detector.FlaggedEvent, w Window) (Outcome, error)
}

func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) IsAvailable(ctx context.Context) bool { return f.available }
func (f *fakeAdapter) Analyze(ctx context.Context, ev detector.FlaggedEvent, w Window) (Outcome, error) {
	f.calls.Add(1)
	return f.analyze(ev, w)
}

func fixture(n int) ([]detector.FlaggedEvent, *detector.ContextExtractor) {
	var records []record.Record
	var events []detector.FlaggedEvent
	for i := 0; i < n; i++ {
		r := record.Record{
			ID:           fmt.Sprintf("r%02d", i),
			Kind:         record.KindMessage,
			Direction:    record.DirectionReceived,
			Counterparty: "+15551234567",
			TimestampMs:  1_700_000_000_000 + int64(i)*60_000,
			Body:         fmt.Sprintf("message %d", i),
		}
		records = append(records, r)
		events = append(events, detector.NewEvent(r, "THREAT", detector.TierHigh, detector.Span{Term: "message"}, "v1"))
	}
	return events, detector.NewContextExtractor(records, 2, 1500)
}

func testOptions() Options {
	return Options{
		Concurrency:      2,
		Timeout:          time.Second,
		Retry:            resilience.RetryConfig{MaxRetries: 1, InitialInterval: time.Millisecond, Multiplier: 2},
		BreakerThreshold: 3,
	}
}

func TestConfirmer_KeywordOnly(t *testing.T) {
	events, ce := fixture(3)
	stats, err := NewConfirmer(nil, testOptions(), nil).Confirm(context.Background(), events, ce)
	require.NoError(t, err)
	assert.Zero(t, stats.Candidates)
	for _, ev := range events {
		assert.Equal(t, detector.ModeKeyword, ev.Mode)
		assert.Equal(t, detector.StatusUnconfirmed, ev.Confirmation.Status)
	}
}

func TestConfirmer_UnavailableKeepsCandidates(t *testing.T) {
	events, ce := fixture(4)
	adapter := &fakeAdapter{available: false}

	stats, err := NewConfirmer(adapter, testOptions(), nil).Confirm(context.Background(), events, ce)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Candidates)
	assert.Equal(t, 4, stats.Unavailable)
	assert.Equal(t, 4, stats.Fallback)
	assert.Zero(t, adapter.calls.Load())

	for _, ev := range events {
		assert.Equal(t, detector.ModeAIFallback, ev.Mode)
		assert.Equal(t, detector.StatusUnconfirmed, ev.Confirmation.Status)
		assert.Equal(t, detector.TierHigh, ev.EffectiveTier())
		assert.True(t, ev.Adverse())
	}
}

func TestConfirmer_Verdicts(t *testing.T) {
	events, ce := fixture(3)
	adapter := &fakeAdapter{available: true, analyze: func(ev detector.FlaggedEvent, w Window) (Outcome, error) {
		switch ev.RecordID {
		case "r00":
			return Outcome{Verdict: VerdictConfirm, Confidence: 0.8, ModelVersion: "llama3:8b"}, nil
		case "r01":
			return Outcome{Verdict: VerdictReject, ModelVersion: "llama3:8b"}, nil
		default:
			return Outcome{Verdict: VerdictReclassify, Category: "MANIPULATION", Tier: detector.TierMedium, ModelVersion: "llama3:8b"}, nil
		}
	}}

	stats, err := NewConfirmer(adapter, testOptions(), nil).Confirm(context.Background(), events, ce)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.Reclassified)
	assert.Equal(t, "llama3:8b", stats.ModelVersion)

	assert.Equal(t, detector.ModeAI, events[0].Mode)
	assert.Equal(t, detector.StatusConfirmed, events[0].Confirmation.Status)
	assert.True(t, events[1].Rejected())
	assert.Equal(t, "MANIPULATION", events[2].EffectiveCategory())
	assert.Equal(t, detector.TierMedium, events[2].EffectiveTier())
	assert.Equal(t, "THREAT", events[2].Category, "keyword category is preserved")
}

func TestConfirmer_PassesContextWindow(t *testing.T) {
	events, ce := fixture(5)
	var before, after atomic.Int32
	adapter := &fakeAdapter{available: true, analyze: func(ev detector.FlaggedEvent, w Window) (Outcome, error) {
		if ev.RecordID == "r02" {
			before.Store(int32(len(w.Before)))
			after.Store(int32(len(w.After)))
		}
		return Outcome{Verdict: VerdictConfirm}, nil
	}}

	_, err := NewConfirmer(adapter, testOptions(), nil).Confirm(context.Background(), events, ce)
	require.NoError(t, err)
	assert.EqualValues(t, 2, before.Load())
	assert.EqualValues(t, 2, after.Load())
}

func TestConfirmer_BreakerOpensForRun(t *testing.T) {
	events, ce := fixture(10)
	adapter := &fakeAdapter{available: true, analyze: func(ev detector.FlaggedEvent, w Window) (Outcome, error) {
		return Outcome{}, resilience.NewTransientError("connection reset", nil)
	}}
	opts := testOptions()
	opts.Concurrency = 1

	stats, err := NewConfirmer(adapter, opts, nil).Confirm(context.Background(), events, ce)
	require.NoError(t, err)
	assert.True(t, stats.BreakerOpen)
	assert.Equal(t, 10, stats.Fallback)
	assert.EqualValues(t, 3, adapter.calls.Load(), "no calls after the breaker opens")

	for _, ev := range events {
		assert.Equal(t, detector.ModeAIFallback, ev.Mode)
		assert.Equal(t, detector.StatusUnconfirmed, ev.Confirmation.Status)
	}
}

func TestConfirmer_Timeout(t *testing.T) {
	events, ce := fixture(1)
	adapter := &fakeAdapter{available: true}
	adapter.analyze = func(ev detector.FlaggedEvent, w Window) (Outcome, error) {
		time.Sleep(50 * time.Millisecond)
		return Outcome{}, context.DeadlineExceeded
	}
	opts := testOptions()
	opts.Timeout = 10 * time.Millisecond
	opts.Retry.MaxRetries = 0

	stats, err := NewConfirmer(adapter, opts, nil).Confirm(context.Background(), events, ce)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Timeouts)
	assert.Equal(t, detector.ModeAIFallback, events[0].Mode)
}

func TestConfirmer_SkipsSupportive(t *testing.T) {
	events, ce := fixture(2)
	events[1].Supportive = true
	adapter := &fakeAdapter{available: true, analyze: func(ev detector.FlaggedEvent, w Window) (Outcome, error) {
		return Outcome{Verdict: VerdictConfirm}, nil
	}}

	stats, err := NewConfirmer(adapter, testOptions(), nil).Confirm(context.Background(), events, ce)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Candidates)
	assert.Equal(t, detector.ModeKeyword, events[1].Mode)
}

func TestConfirmer_UnknownVerdictFallsBack(t *testing.T) {
	events, ce := fixture(1)
	adapter := &fakeAdapter{available: true, analyze: func(ev detector.FlaggedEvent, w Window) (Outcome, error) {
		return Outcome{Verdict: "maybe"}, nil
	}}

	stats, err := NewConfirmer(adapter, testOptions(), nil).Confirm(context.Background(), events, ce)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, detector.ModeAIFallback, events[0].Mode)
}
