// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package keyword is the deterministic keyword severity layer.
package keyword

import (
	"sort"
	"strings"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/record"
)

type termRef struct {
	category   int
	tier       detector.Tier
	tokens     []string
	phrase     string
	supportive bool
}

// Detector matches message bodies against a Dictionary. It keeps no
// mutable state after construction and is safe for concurrent use.
type Detector struct {
	dict  *Dictionary
	names []string
	index map[string][]termRef
}

// NewDetector indexes the dictionary terms by their first word
func NewDetector(dict *Dictionary) *Detector {
	d := &Detector{dict: dict, names: dict.Categories(), index: make(map[string][]termRef)}
	for ci, c := range dict.categories {
		for _, tier := range detector.Tiers {
			for _, phrase := range c.terms[tier] {
				toks := strings.Split(phrase, " ")
				d.index[toks[0]] = append(d.index[toks[0]], termRef{
					category:   ci,
					tier:       tier,
					tokens:     toks,
					phrase:     phrase,
					supportive: c.supportive,
				})
			}
		}
	}
	return d
}

// Version returns the dictionary version events are tagged with
func (d *Detector) Version() string {
	return d.dict.Version()
}

type hit struct {
	tier       detector.Tier
	span       detector.Span
	supportive bool
}

// Detect returns at most one candidate per category for r: the highest
// tier matched, spanning its earliest occurrence. Output is sorted by
// category name. Calls and ghost records yield nothing.
func (d *Detector) Detect(r record.Record) []detector.FlaggedEvent {
	if !r.IsMessage() || r.TimestampMs <= 0 || !hasText(r.Body) {
		return nil
	}

	toks := tokenize(r.Body)
	best := make(map[int]hit)
	for i, tk := range toks {
		for _, ref := range d.index[tk.text] {
			if !matchAt(toks, i, ref.tokens) {
				continue
			}
			last := toks[i+len(ref.tokens)-1]
			span := detector.Span{Term: ref.phrase, Start: tk.start, End: last.end}
			cur, ok := best[ref.category]
			if !ok || ref.tier > cur.tier || (ref.tier == cur.tier && earlier(span, cur.span)) {
				best[ref.category] = hit{tier: ref.tier, span: span, supportive: ref.supportive}
			}
		}
	}
	if len(best) == 0 {
		return nil
	}

	cats := make([]int, 0, len(best))
	for ci := range best {
		cats = append(cats, ci)
	}
	sort.Ints(cats)

	events := make([]detector.FlaggedEvent, 0, len(cats))
	for _, ci := range cats {
		h := best[ci]
		ev := detector.NewEvent(r, d.names[ci], h.tier, h.span, d.dict.Version())
		ev.Supportive = h.supportive
		events = append(events, ev)
	}
	return events
}

// DetectAll runs Detect over records and returns the events in
// time order
func (d *Detector) DetectAll(records []record.Record) []detector.FlaggedEvent {
	var out []detector.FlaggedEvent
	for _, r := range records {
		out = append(out, d.Detect(r)...)
	}
	detector.SortEvents(out)
	return out
}

func matchAt(toks []token, i int, phrase []string) bool {
	if i+len(phrase) > len(toks) {
		return false
	}
	for j, p := range phrase {
		if toks[i+j].text != p {
			return false
		}
	}
	return true
}

func earlier(a, b detector.Span) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.End != b.End {
		return a.End > b.End
	}
	return a.Term < b.Term
}
