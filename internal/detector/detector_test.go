// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package detector

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-scan/internal/record"
)

func rec(i int, counterparty, body string) record.Record {
	r := record.Record{
		Kind:         record.KindMessage,
		Direction:    record.DirectionReceived,
		Counterparty: counterparty,
		TimestampMs:  1_700_000_000_000 + int64(i)*1000,
		Body:         body,
	}
	r.ID = fmt.Sprintf("%s-%d", counterparty, i)
	return r
}

func TestFlaggedEvent_ResolvesOnce(t *testing.T) {
	ev := NewEvent(rec(1, "a", "x"), "THREAT", TierMedium, Span{Term: "x", End: 1}, "v1")
	require.Equal(t, StatusUnconfirmed, ev.Confirmation.Status)

	err := ev.Resolve(Confirmation{Status: StatusConfirmed, Confidence: 0.9, ModelVersion: "m1", Tier: TierHigh})
	require.NoError(t, err)
	assert.Equal(t, ModeAI, ev.Mode)
	assert.Equal(t, TierHigh, ev.EffectiveTier())
	assert.Equal(t, TierMedium, ev.Tier, "keyword tier is preserved")
	assert.Equal(t, "THREAT", ev.EffectiveCategory())

	assert.ErrorIs(t, ev.Resolve(Confirmation{Status: StatusRejected}), ErrAlreadyResolved)
	assert.ErrorIs(t, ev.Fallback("late"), ErrAlreadyResolved)
	assert.Equal(t, StatusConfirmed, ev.Confirmation.Status)
}

func TestFlaggedEvent_Fallback(t *testing.T) {
	ev := NewEvent(rec(1, "a", "x"), "INSULT", TierLow, Span{}, "v1")
	require.NoError(t, ev.Fallback("adapter unavailable"))

	assert.Equal(t, ModeAIFallback, ev.Mode)
	assert.Equal(t, StatusUnconfirmed, ev.Confirmation.Status)
	assert.Equal(t, TierLow, ev.EffectiveTier())
	assert.ErrorIs(t, ev.Resolve(Confirmation{Status: StatusConfirmed}), ErrAlreadyResolved)
}

func TestFlaggedEvent_RejectAndAdverse(t *testing.T) {
	ev := NewEvent(rec(1, "a", "x"), "INSULT", TierLow, Span{}, "v1")
	assert.True(t, ev.Adverse())
	assert.Error(t, ev.Resolve(Confirmation{Status: StatusUnconfirmed}))

	require.NoError(t, ev.Resolve(Confirmation{Status: StatusRejected, Tier: TierHigh}))
	assert.True(t, ev.Rejected())
	assert.False(t, ev.Adverse())
	assert.Equal(t, TierLow, ev.EffectiveTier(), "rejected verdicts never rescale")
}

func TestDeriveEventID_Deterministic(t *testing.T) {
	a := DeriveEventID("r1", "THREAT", TierHigh, Span{Term: "or else", Start: 3, End: 10})
	b := DeriveEventID("r1", "THREAT", TierHigh, Span{Term: "or else", Start: 3, End: 10})
	c := DeriveEventID("r1", "THREAT", TierMedium, Span{Term: "or else", Start: 3, End: 10})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestTier_TextRoundTrip(t *testing.T) {
	out, err := json.Marshal(struct{ T Tier }{TierMedium})
	require.NoError(t, err)
	assert.JSONEq(t, `{"T":"medium"}`, string(out))

	var back struct{ T Tier }
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, TierMedium, back.T)

	_, err = ParseTier("extreme")
	assert.Error(t, err)
}

func TestContextExtractor(t *testing.T) {
	records := []record.Record{
		rec(1, "a", "one"),
		rec(2, "b", "other contact"),
		rec(3, "a", ""),
		rec(4, "a", "two"),
		rec(5, "a", "target"),
		rec(6, "a", "three"),
		rec(7, "a", "four is long"),
		rec(8, "a", "five"),
	}

	ce := NewContextExtractor(records, 2, 4)
	ev := NewEvent(records[4], "THREAT", TierLow, Span{}, "v1")

	w, ok := ce.Extract(ev)
	require.True(t, ok)
	assert.Equal(t, "targ", w.Target.Text)

	var before, after []string
	for _, l := range w.Before {
		before = append(before, l.Text)
	}
	for _, l := range w.After {
		after = append(after, l.Text)
	}
	assert.Equal(t, []string{"one", "two"}, before, "ghost and other-contact records are excluded")
	assert.Equal(t, []string{"thre", "four"}, after)

	_, ok = ce.WithContextLines(1).Extract(NewEvent(records[2], "THREAT", TierLow, Span{}, "v1"))
	assert.False(t, ok)
}
