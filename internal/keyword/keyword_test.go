// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package keyword

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/record"
)

func msg(id, body string) record.Record {
	return record.Record{
		ID:           id,
		Kind:         record.KindMessage,
		Direction:    record.DirectionReceived,
		Counterparty: "+15550102000",
		TimestampMs:  1_700_000_000_000,
		Body:         body,
	}
}

func TestDetect_HighTierPhraseIsUnconfirmed(t *testing.T) {
	det := NewDetector(DefaultDictionary())

	events := det.Detect(msg("r1", "You will REGRET this."))
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "THREAT", ev.Category)
	assert.Equal(t, detector.TierHigh, ev.Tier)
	assert.Equal(t, detector.StatusUnconfirmed, ev.Confirmation.Status)
	assert.Equal(t, detector.ModeKeyword, ev.Mode)
	assert.Equal(t, "r1", ev.RecordID)
	assert.Equal(t, DefaultVersion, ev.DictionaryVersion)
	assert.Equal(t, "You will REGRET", "You will REGRET this."[ev.Span.Start:ev.Span.End])
}

func TestDetect_Matching(t *testing.T) {
	det := NewDetector(DefaultDictionary())

	type want struct {
		category string
		tier     detector.Tier
	}

	tests := []struct {
		name string
		body string
		want []want
	}{
		{"punctuation around term", "idiot!!!", []want{{"INSULT", detector.TierMedium}}},
		{"no partial word match", "Courtney said hi", nil},
		{"highest tier wins", "my lawyer will call. you will regret it", []want{{"THREAT", detector.TierHigh}}},
		{"hyphenated term", "Drop-off is at 5", []want{{"CUSTODY", detector.TierLow}}},
		{"curly apostrophe", "I’ll take the kids", []want{{"CUSTODY", detector.TierLow}, {"THREAT", detector.TierMedium}}},
		{"several categories", "you are so stupid, I'll take the kids", []want{
			{"CUSTODY", detector.TierLow}, {"INSULT", detector.TierMedium}, {"THREAT", detector.TierMedium},
		}},
		{"supportive category", "thank you, proud of you", []want{{"POSITIVE", detector.TierHigh}}},
		{"no match", "see you at six", nil},
		{"empty body", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []want
			for _, ev := range det.Detect(msg("r", tt.body)) {
				got = append(got, want{ev.Category, ev.Tier})
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetect_SkipsCallsAndGhosts(t *testing.T) {
	det := NewDetector(DefaultDictionary())

	call := msg("c", "you will regret")
	call.Kind = record.KindCall
	assert.Empty(t, det.Detect(call))

	ghost := msg("g", "you will regret")
	ghost.TimestampMs = 0
	assert.Empty(t, det.Detect(ghost))
}

func TestDetect_SupportiveFlag(t *testing.T) {
	det := NewDetector(DefaultDictionary())
	events := det.Detect(msg("r", "love you"))
	require.Len(t, events, 1)
	assert.True(t, events[0].Supportive)
	assert.False(t, events[0].Adverse())
}

func TestDetectAll_Deterministic(t *testing.T) {
	records := []record.Record{
		msg("b", "you are worthless and the kids know it"),
		msg("a", "shut up. see what happens"),
		msg("c", "nothing to see"),
	}
	records[1].TimestampMs--

	render := func() []byte {
		out, err := json.Marshal(NewDetector(DefaultDictionary()).DetectAll(records))
		require.NoError(t, err)
		return out
	}

	first := render()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, render())
	}

	events := NewDetector(DefaultDictionary()).DetectAll(records)
	require.NotEmpty(t, events)
	assert.Equal(t, "a", events[0].RecordID, "events are time ordered")
}

func TestParseDictionary(t *testing.T) {
	data := []byte(`
version: "test-1"
categories:
  threat:
    high: ["Watch yourself!"]
    low: ["watch yourself", "court"]
  kindness:
    supportive: true
    low: ["thanks"]
`)
	d, err := ParseDictionary(data)
	require.NoError(t, err)

	assert.Equal(t, "test-1", d.Version())
	assert.Equal(t, []string{"KINDNESS", "THREAT"}, d.Categories())
	assert.Equal(t, []string{"watch yourself"}, d.Terms("THREAT", detector.TierHigh))
	assert.Equal(t, []string{"court"}, d.Terms("THREAT", detector.TierLow), "duplicate keeps highest tier only")
	assert.True(t, d.Supportive("KINDNESS"))

	terms := d.Terms("THREAT", detector.TierLow)
	terms[0] = "mutated"
	assert.Equal(t, []string{"court"}, d.Terms("THREAT", detector.TierLow), "accessors return copies")

	again, err := ParseDictionary(data)
	require.NoError(t, err)
	assert.Equal(t, d.Digest(), again.Digest())
}

func TestParseDictionary_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no categories", `version: x`},
		{"category without terms", "categories:\n  threat: {}"},
		{"blank term", "categories:\n  threat:\n    low: [\"!!\"]"},
		{"bad yaml", "categories: ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDictionary([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadDictionary_RoundTripsDefault(t *testing.T) {
	def := DefaultDictionary()
	path := filepath.Join(t.TempDir(), "dictionary.yaml")

	out, err := yaml.Marshal(def)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, out, 0600))

	loaded, err := LoadDictionary(path)
	require.NoError(t, err)
	assert.Equal(t, def.Version(), loaded.Version())
	assert.Equal(t, def.Digest(), loaded.Digest())
}

func TestDefaultDictionary_Shape(t *testing.T) {
	d := DefaultDictionary()
	cats := d.Categories()
	assert.GreaterOrEqual(t, len(cats), 5)
	for _, c := range cats {
		for _, tier := range detector.Tiers {
			assert.NotEmpty(t, d.Terms(c, tier), "%s %s", c, tier)
		}
	}
	assert.Empty(t, d.Terms("MISSING", detector.TierLow))
}
