// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package patterns

import (
	"math"
	"sort"
	"unicode/utf8"

	"sentinel-scan/internal/record"
)

const msPerDay = float64(24 * 60 * 60 * 1000)

// frequencyDelta compares the message rate in the trailing window with the
// baseline window before it. The baseline is only observed when the
// history starts before the trailing window.
func (a *Aggregator) frequencyDelta(c *Contact) (PatternSignal, bool) {
	msgs := c.Msgs
	if len(msgs) == 0 || a.t.TrailingWindow <= 0 || a.t.BaselineWindow <= 0 {
		return PatternSignal{}, false
	}
	end := msgs[len(msgs)-1].TimestampMs
	trailStart := end - a.t.TrailingWindow.Milliseconds()
	baseStart := trailStart - a.t.BaselineWindow.Milliseconds()
	if msgs[0].TimestampMs > trailStart {
		return PatternSignal{}, false
	}

	var trailing []string
	baseline := 0
	for _, r := range msgs {
		switch {
		case r.TimestampMs > trailStart:
			trailing = append(trailing, r.ID)
		case r.TimestampMs > baseStart:
			baseline++
		}
	}
	if len(trailing) == 0 {
		return PatternSignal{}, false
	}

	rateT := float64(len(trailing)) / (float64(a.t.TrailingWindow.Milliseconds()) / msPerDay)
	rateB := float64(baseline) / (float64(a.t.BaselineWindow.Milliseconds()) / msPerDay)

	score := 1.0
	if rateB > 0 {
		ratio := rateT / rateB
		span := a.t.EscalationRatio - 1
		if span <= 0 {
			span = 1
		}
		score = clamp01((ratio - 1) / span)
	}
	return PatternSignal{
		Type:     SignalFrequency,
		Score:    score,
		Evidence: trailing,
		Detail: map[string]float64{
			"trailing_count":   float64(len(trailing)),
			"baseline_count":   float64(baseline),
			"trailing_per_day": rateT,
			"baseline_per_day": rateB,
			"escalation_ratio": a.t.EscalationRatio,
		},
	}, true
}

// temporalClustering measures burstiness of message counts per band over
// the whole history
func (a *Aggregator) temporalClustering(c *Contact) (PatternSignal, bool) {
	msgs := c.Msgs
	band := a.t.ClusterBand.Milliseconds()
	if len(msgs) < max(a.t.MinRecords, 2) || band <= 0 {
		return PatternSignal{}, false
	}

	first := msgs[0].TimestampMs
	bands := (msgs[len(msgs)-1].TimestampMs-first)/band + 1
	counts := make(map[int64]int)
	for _, r := range msgs {
		counts[(r.TimestampMs-first)/band]++
	}

	n := float64(bands)
	mean := float64(len(msgs)) / n
	var sumSq float64
	for _, k := range counts {
		sumSq += float64(k) * float64(k)
	}
	variance := sumSq/n - mean*mean
	sigma := math.Sqrt(math.Max(variance, 0))
	if sigma+mean == 0 {
		return PatternSignal{}, false
	}
	burstiness := (sigma - mean) / (sigma + mean)

	var evidence []string
	limit := mean + sigma
	for _, r := range msgs {
		if float64(counts[(r.TimestampMs-first)/band]) > limit {
			evidence = append(evidence, r.ID)
		}
	}
	return PatternSignal{
		Type:     SignalClustering,
		Score:    clamp01(burstiness),
		Evidence: evidence,
		Detail: map[string]float64{
			"bands":      n,
			"mean":       mean,
			"stddev":     sigma,
			"burstiness": burstiness,
		},
	}, true
}

// responseLatency looks at received messages that follow the
// counterparty's own unanswered message, and counts the short ones sent
// just before the response window closes
func (a *Aggregator) responseLatency(c *Contact) (PatternSignal, bool) {
	window := a.t.ResponseWindow.Milliseconds()
	if window <= 0 {
		return PatternSignal{}, false
	}
	lo := int64(float64(window) * (1 - a.t.CloseFraction))

	candidates := 0
	var exploiting []string
	for i := 1; i < len(c.Msgs); i++ {
		prev, cur := c.Msgs[i-1], c.Msgs[i]
		if cur.Direction != record.DirectionReceived || prev.Direction != record.DirectionReceived {
			continue
		}
		candidates++
		gap := cur.TimestampMs - prev.TimestampMs
		if gap >= lo && gap <= window && utf8.RuneCountInString(cur.Body) <= a.t.ShortMessageRunes {
			exploiting = append(exploiting, cur.ID)
		}
	}
	if candidates == 0 || candidates < a.t.MinCandidates {
		return PatternSignal{}, false
	}
	return PatternSignal{
		Type:     SignalLatency,
		Score:    float64(len(exploiting)) / float64(candidates),
		Evidence: exploiting,
		Detail: map[string]float64{
			"candidates": float64(candidates),
			"exploiting": float64(len(exploiting)),
		},
	}, true
}

// segmenter splits a contact's message span into equal time segments
type segmenter struct {
	first int64
	span  int64
	n     int
}

func (a *Aggregator) segmenter(c *Contact) (segmenter, bool) {
	if len(c.Msgs) == 0 || a.t.Segments < 2 {
		return segmenter{}, false
	}
	first := c.Msgs[0].TimestampMs
	return segmenter{first: first, span: c.Msgs[len(c.Msgs)-1].TimestampMs - first + 1, n: a.t.Segments}, true
}

func (s segmenter) index(ts int64) int {
	i := int(float64(ts-s.first) * float64(s.n) / float64(s.span))
	return min(max(i, 0), s.n-1)
}

// semanticDrift compares the category mix of adjacent segments with
// Jensen-Shannon divergence
func (a *Aggregator) semanticDrift(c *Contact) (PatternSignal, bool) {
	events := c.adverse()
	seg, ok := a.segmenter(c)
	if !ok || len(events) == 0 {
		return PatternSignal{}, false
	}

	flagged := make(map[string]bool)
	catSet := make(map[string]bool)
	for _, e := range events {
		flagged[e.RecordID] = true
		catSet[e.EffectiveCategory()] = true
	}
	categories := make([]string, 0, len(catSet))
	for k := range catSet {
		categories = append(categories, k)
	}
	sort.Strings(categories)
	slot := make(map[string]int, len(categories))
	for i, k := range categories {
		slot[k] = i
	}
	unflagged := len(categories)

	vectors := make([][]float64, seg.n)
	segEvents := make([][]string, seg.n)
	for i := range vectors {
		vectors[i] = make([]float64, len(categories)+1)
	}
	for _, r := range c.Msgs {
		if !flagged[r.ID] {
			vectors[seg.index(r.TimestampMs)][unflagged]++
		}
	}
	for _, e := range events {
		i := seg.index(e.TimestampMs)
		vectors[i][slot[e.EffectiveCategory()]]++
		segEvents[i] = append(segEvents[i], e.ID)
	}

	best, bestA, bestB := -1.0, -1, -1
	prev := -1
	for i, v := range vectors {
		if sum(v) == 0 {
			continue
		}
		if prev >= 0 {
			if d := jensenShannon(vectors[prev], v); d > best {
				best, bestA, bestB = d, prev, i
			}
		}
		prev = i
	}
	if bestA < 0 {
		return PatternSignal{}, false
	}

	evidence := append(append([]string{}, segEvents[bestA]...), segEvents[bestB]...)
	return PatternSignal{
		Type:     SignalDrift,
		Score:    clamp01(best),
		Evidence: evidence,
		Detail: map[string]float64{
			"divergence":   best,
			"segment_from": float64(bestA),
			"segment_to":   float64(bestB),
			"categories":   float64(len(categories)),
		},
	}, true
}

// severityTrajectory fits a least-squares line through the mean tier of
// each non-empty segment. x runs from 0 to 1 across the history, so a
// rise from low to high over the whole history has slope 2 and scores 1.
func (a *Aggregator) severityTrajectory(c *Contact) (PatternSignal, bool) {
	events := c.adverse()
	seg, ok := a.segmenter(c)
	if !ok || len(events) == 0 {
		return PatternSignal{}, false
	}

	tierSum := make([]float64, seg.n)
	tierCount := make([]int, seg.n)
	evidence := make([]string, 0, len(events))
	for _, e := range events {
		i := seg.index(e.TimestampMs)
		tierSum[i] += float64(e.EffectiveTier())
		tierCount[i]++
		evidence = append(evidence, e.ID)
	}

	var xs, ys []float64
	for i := range tierSum {
		if tierCount[i] == 0 {
			continue
		}
		xs = append(xs, float64(i)/float64(seg.n-1))
		ys = append(ys, tierSum[i]/float64(tierCount[i]))
	}
	if len(xs) < 2 {
		return PatternSignal{}, false
	}

	slope := leastSquaresSlope(xs, ys)
	return PatternSignal{
		Type:     SignalTrajectory,
		Score:    clamp01(slope / 2),
		Evidence: evidence,
		Detail: map[string]float64{
			"slope":    slope,
			"segments": float64(len(xs)),
		},
	}, true
}

func leastSquaresSlope(xs, ys []float64) float64 {
	n := float64(len(xs))
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n
	var num, den float64
	for i := range xs {
		num += (xs[i] - mx) * (ys[i] - my)
		den += (xs[i] - mx) * (xs[i] - mx)
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

// jensenShannon returns the base-2 Jensen-Shannon divergence of two
// unnormalized count vectors, in [0,1]
func jensenShannon(p, q []float64) float64 {
	sp, sq := sum(p), sum(q)
	if sp == 0 || sq == 0 {
		return 0
	}
	var d float64
	for i := range p {
		pi, qi := p[i]/sp, q[i]/sq
		m := (pi + qi) / 2
		if pi > 0 {
			d += 0.5 * pi * math.Log2(pi/m)
		}
		if qi > 0 {
			d += 0.5 * qi * math.Log2(qi/m)
		}
	}
	return clamp01(d)
}

