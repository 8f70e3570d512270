// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package risk combines pattern signals and flag counts into an advisory
// per-contact risk profile.
package risk

import (
	"math"
	"sort"
	"strings"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/patterns"
)

// Label is the banded risk score
type Label string

const (
	LabelLow      Label = "LOW"
	LabelMedium   Label = "MEDIUM"
	LabelHigh     Label = "HIGH"
	LabelCritical Label = "CRITICAL"
)

// Trend compares the flag rate of the two halves of a history
type Trend string

const (
	TrendEscalating   Trend = "ESCALATING"
	TrendDeescalating Trend = "DE-ESCALATING"
	TrendStable       Trend = "STABLE"
	TrendUnknown      Trend = "UNKNOWN"
)

// Weights holds the per-signal weights of the composite score
type Weights struct {
	Frequency  float64 `yaml:"frequency"`
	Clustering float64 `yaml:"clustering"`
	Latency    float64 `yaml:"latency"`
	Drift      float64 `yaml:"drift"`
	Trajectory float64 `yaml:"trajectory"`
}

// DefaultWeights favours the severity trajectory
func DefaultWeights() Weights {
	return Weights{Frequency: 0.15, Clustering: 0.15, Latency: 0.15, Drift: 0.20, Trajectory: 0.35}
}

// For returns the weight of one signal type
func (w Weights) For(t patterns.SignalType) float64 {
	switch t {
	case patterns.SignalFrequency:
		return w.Frequency
	case patterns.SignalClustering:
		return w.Clustering
	case patterns.SignalLatency:
		return w.Latency
	case patterns.SignalDrift:
		return w.Drift
	case patterns.SignalTrajectory:
		return w.Trajectory
	}
	return 0
}

// Total is the sum of all weights
func (w Weights) Total() float64 {
	return w.Frequency + w.Clustering + w.Latency + w.Drift + w.Trajectory
}

// LabelThresholds are the lower bounds of the MEDIUM, HIGH and CRITICAL
// bands on the 0-100 scale
type LabelThresholds struct {
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// DefaultLabelThresholds returns 15 / 35 / 60
func DefaultLabelThresholds() LabelThresholds {
	return LabelThresholds{Medium: 15, High: 35, Critical: 60}
}

// Classify bands a score
func (l LabelThresholds) Classify(score float64) Label {
	switch {
	case score < l.Medium:
		return LabelLow
	case score < l.High:
		return LabelMedium
	case score < l.Critical:
		return LabelHigh
	default:
		return LabelCritical
	}
}

// Options configures a Builder
type Options struct {
	Weights          Weights
	Labels           LabelThresholds
	EscalationChange float64
	MinTrendMessages int
	// Relationships maps contact names, or their first word, to tags
	Relationships map[string][]string
	// EscalationThreshold is the trajectory score treated as escalating
	EscalationThreshold float64
}

// DefaultOptions returns the default builder configuration
func DefaultOptions() Options {
	return Options{
		Weights:             DefaultWeights(),
		Labels:              DefaultLabelThresholds(),
		EscalationChange:    0.25,
		MinTrendMessages:    5,
		EscalationThreshold: patterns.DefaultThresholds().TrajectoryEscalation,
	}
}

// Component is one signal's share of the composite score
type Component struct {
	Signal       patterns.SignalType `json:"signal"`
	Weight       float64             `json:"weight"`
	Score        float64             `json:"score"`
	Contribution float64             `json:"contribution"`
	Evidence     []string            `json:"evidence,omitempty"`
	Present      bool                `json:"present"`
}

// RiskProfile is the advisory summary for one contact
type RiskProfile struct {
	ContactID        string                   `json:"contact_id"`
	ContactName      string                   `json:"contact_name,omitempty"`
	Score            float64                  `json:"score"`
	Label            Label                    `json:"label"`
	Breakdown        []Component              `json:"breakdown"`
	Signals          []patterns.PatternSignal `json:"signals,omitempty"`
	SeverityScore    float64                  `json:"severity_score"`
	Messages         int                      `json:"messages"`
	Calls            int                      `json:"calls"`
	Flags            int                      `json:"flags"`
	FlagRate         float64                  `json:"flag_rate"`
	High             int                      `json:"high"`
	Medium           int                      `json:"medium"`
	Low              int                      `json:"low"`
	Categories       map[string]int           `json:"categories,omitempty"`
	FirstContactMs   int64                    `json:"first_contact_ms,omitempty"`
	LastContactMs    int64                    `json:"last_contact_ms,omitempty"`
	EscalationTrend  Trend                    `json:"escalation_trend"`
	Escalating       bool                     `json:"escalating"`
	RelationshipTags []string                 `json:"relationship_tags,omitempty"`
}

// Builder turns a contact and its signals into a RiskProfile
type Builder struct {
	opts Options
}

// NewBuilder creates a builder
func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

// Build computes the profile. Supportive and rejected events do not count
// as flags.
func (b *Builder) Build(c *patterns.Contact, signals []patterns.PatternSignal) RiskProfile {
	p := RiskProfile{
		ContactID:        c.ID,
		ContactName:      c.Name,
		Signals:          signals,
		Messages:         len(c.Msgs),
		Calls:            len(c.Calls),
		Categories:       make(map[string]int),
		RelationshipTags: resolveRelationshipTags(c.Name, b.opts.Relationships),
	}

	p.Score, p.Breakdown = b.composite(signals)
	p.Label = b.opts.Labels.Classify(p.Score)

	var flagTimes []int64
	for _, e := range c.Events {
		if !e.Adverse() {
			continue
		}
		p.Flags++
		switch e.EffectiveTier() {
		case detector.TierHigh:
			p.High++
		case detector.TierMedium:
			p.Medium++
		default:
			p.Low++
		}
		p.Categories[e.EffectiveCategory()]++
		flagTimes = append(flagTimes, e.TimestampMs)
	}
	if p.Messages > 0 {
		p.FlagRate = round(float64(p.Flags)/float64(p.Messages), 4)
	}
	p.SeverityScore = SeverityScore(p.High, p.Medium, p.Low, p.Messages)

	records := c.Records()
	if len(records) > 0 {
		p.FirstContactMs = records[0].TimestampMs
		p.LastContactMs = records[len(records)-1].TimestampMs
	}

	msgTimes := make([]int64, len(c.Msgs))
	for i, r := range c.Msgs {
		msgTimes[i] = r.TimestampMs
	}
	p.EscalationTrend = b.trend(msgTimes, flagTimes)

	for _, s := range signals {
		if s.Type == patterns.SignalTrajectory && s.Score >= b.opts.EscalationThreshold {
			p.Escalating = true
		}
	}
	return p
}

// composite returns the weighted mean of signal scores on a 0-100 scale.
// Signals that were not emitted contribute zero with full weight. The
// score is rounded once from the unrounded contributions, and the
// breakdown is apportioned so its contributions add up to the score.
func (b *Builder) composite(signals []patterns.PatternSignal) (float64, []Component) {
	byType := make(map[patterns.SignalType]patterns.PatternSignal, len(signals))
	for _, s := range signals {
		byType[s.Type] = s
	}

	total := b.opts.Weights.Total()
	var sum float64
	raw := make([]float64, 0, len(patterns.SignalTypes))
	breakdown := make([]Component, 0, len(patterns.SignalTypes))
	for _, t := range patterns.SignalTypes {
		w := b.opts.Weights.For(t)
		s, ok := byType[t]
		comp := Component{Signal: t, Weight: w, Present: ok}
		var contribution float64
		if ok {
			comp.Score = s.Score
			comp.Evidence = s.Evidence
			if total > 0 {
				contribution = w * s.Score / total * 100
			}
		}
		sum += contribution
		raw = append(raw, contribution)
		breakdown = append(breakdown, comp)
	}
	if total <= 0 {
		return 0, breakdown
	}

	score := round(sum, 2)
	for i, c := range apportion(raw, score) {
		breakdown[i].Contribution = c
	}
	return score, breakdown
}

// apportion rounds parts to hundredths so they add up to total. Parts are
// floored and the leftover hundredths go to the largest remainders.
func apportion(parts []float64, total float64) []float64 {
	cents := make([]int64, len(parts))
	order := make([]int, 0, len(parts))
	var assigned int64
	for i, p := range parts {
		cents[i] = int64(math.Floor(p*100 + 1e-9))
		assigned += cents[i]
		if p > 0 {
			order = append(order, i)
		}
	}
	remainder := func(i int) float64 { return parts[i]*100 - float64(cents[i]) }
	sort.SliceStable(order, func(a, b int) bool { return remainder(order[a]) > remainder(order[b]) })

	left := int64(math.Round(total*100)) - assigned
	for _, i := range order {
		if left <= 0 {
			break
		}
		cents[i]++
		left--
	}

	out := make([]float64, len(parts))
	for i, c := range cents {
		out[i] = float64(c) / 100
	}
	return out
}

// SeverityScore is the flag-count score: (3H + 2M + L) / messages * 100,
// capped at 100
func SeverityScore(high, medium, low, messages int) float64 {
	score := float64(high*3+medium*2+low) / float64(max(messages, 1)) * 100
	return round(math.Min(score, 100), 2)
}

// trend splits the history at the median message timestamp and compares
// the flag rate of the two halves
func (b *Builder) trend(msgTimes, flagTimes []int64) Trend {
	if len(msgTimes) < max(b.opts.MinTrendMessages, 1) {
		return TrendUnknown
	}
	sorted := append([]int64(nil), msgTimes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := sorted[len(sorted)/2]

	var firstMsgs, secondMsgs, firstFlags, secondFlags int
	for _, t := range sorted {
		if t < mid {
			firstMsgs++
		} else {
			secondMsgs++
		}
	}
	for _, t := range flagTimes {
		if t < mid {
			firstFlags++
		} else {
			secondFlags++
		}
	}

	r1 := float64(firstFlags) / float64(max(firstMsgs, 1))
	r2 := float64(secondFlags) / float64(max(secondMsgs, 1))
	switch {
	case r1 == 0 && r2 == 0:
		return TrendStable
	case r1 == 0:
		return TrendEscalating
	}
	change := (r2 - r1) / r1
	switch {
	case change > b.opts.EscalationChange:
		return TrendEscalating
	case change < -b.opts.EscalationChange:
		return TrendDeescalating
	default:
		return TrendStable
	}
}

// resolveRelationshipTags matches the full name or its first word,
// ignoring case. Keys are tried in sorted order.
func resolveRelationshipTags(name string, relationships map[string][]string) []string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || len(relationships) == 0 {
		return nil
	}
	first := strings.Fields(name)[0]

	keys := make([]string, 0, len(relationships))
	for k := range relationships {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == name || key == first {
			return append([]string(nil), relationships[k]...)
		}
	}
	return nil
}

// SortProfiles orders profiles by descending score, then contact ID
func SortProfiles(profiles []RiskProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		if profiles[i].Score != profiles[j].Score {
			return profiles[i].Score > profiles[j].Score
		}
		return profiles[i].ContactID < profiles[j].ContactID
	})
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
