// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package detector

import (
	"sentinel-scan/internal/record"
)

// ContextLine is one neighbouring message handed to the confirmation layer
type ContextLine struct {
	RecordID    string           `json:"record_id"`
	Direction   record.Direction `json:"direction"`
	TimestampMs int64            `json:"timestamp_ms"`
	Text        string           `json:"text"`
}

// Window is the same-contact conversation around a flagged record
type Window struct {
	Target ContextLine   `json:"target"`
	Before []ContextLine `json:"before"`
	After  []ContextLine `json:"after"`
}

// ContextExtractor builds context windows from per-contact message
// timelines. Ghost records (empty body or non-positive timestamp) never
// appear in a window.
type ContextExtractor struct {
	ContextLines int
	MaxChars     int

	timelines map[string][]record.Record
	positions map[string]int
}

// NewContextExtractor indexes messages by counterparty. Records must be
// time-ordered.
func NewContextExtractor(records []record.Record, contextLines, maxChars int) *ContextExtractor {
	ce := &ContextExtractor{
		ContextLines: contextLines,
		MaxChars:     maxChars,
		timelines:    make(map[string][]record.Record),
		positions:    make(map[string]int),
	}
	for _, r := range records {
		if !r.IsMessage() || r.Body == "" || r.TimestampMs <= 0 {
			continue
		}
		ce.positions[r.ID] = len(ce.timelines[r.Counterparty])
		ce.timelines[r.Counterparty] = append(ce.timelines[r.Counterparty], r)
	}
	return ce
}

// WithContextLines sets the number of messages taken on each side
func (ce *ContextExtractor) WithContextLines(n int) *ContextExtractor {
	ce.ContextLines = n
	return ce
}

// Extract returns the window around the event's record. ok is false when
// the record is not an indexed message.
func (ce *ContextExtractor) Extract(e FlaggedEvent) (Window, bool) {
	timeline := ce.timelines[e.Counterparty]
	pos, ok := ce.positions[e.RecordID]
	if !ok || pos >= len(timeline) || timeline[pos].ID != e.RecordID {
		return Window{}, false
	}

	w := Window{Target: ce.line(timeline[pos])}
	for _, r := range timeline[max(0, pos-ce.ContextLines):pos] {
		w.Before = append(w.Before, ce.line(r))
	}
	end := min(len(timeline), pos+1+ce.ContextLines)
	for _, r := range timeline[pos+1 : end] {
		w.After = append(w.After, ce.line(r))
	}
	return w, true
}

func (ce *ContextExtractor) line(r record.Record) ContextLine {
	text := r.Body
	if ce.MaxChars > 0 {
		runes := []rune(text)
		if len(runes) > ce.MaxChars {
			text = string(runes[:ce.MaxChars])
		}
	}
	return ContextLine{
		RecordID:    r.ID,
		Direction:   r.Direction,
		TimestampMs: r.TimestampMs,
		Text:        text,
	}
}
