// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package patterns derives per-contact behavioral signals from a
// contact's time-ordered records and flagged events.
package patterns

import (
	"sort"
	"time"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/record"
)

// SignalType names one of the five behavioral signals
type SignalType string

const (
	SignalFrequency  SignalType = "frequency_delta"
	SignalClustering SignalType = "temporal_clustering"
	SignalLatency    SignalType = "response_latency"
	SignalDrift      SignalType = "semantic_drift"
	SignalTrajectory SignalType = "severity_trajectory"
)

// SignalTypes lists every signal in report order
var SignalTypes = []SignalType{SignalFrequency, SignalClustering, SignalLatency, SignalDrift, SignalTrajectory}

// PatternSignal is one scored signal for one contact. Evidence is never
// empty and holds record IDs or flagged event IDs.
type PatternSignal struct {
	Type     SignalType         `json:"type"`
	Score    float64            `json:"score"`
	Evidence []string           `json:"evidence"`
	Detail   map[string]float64 `json:"detail,omitempty"`
}

// Thresholds holds every tunable used by the signals
type Thresholds struct {
	TrailingWindow  time.Duration `yaml:"trailing_window"`
	BaselineWindow  time.Duration `yaml:"baseline_window"`
	EscalationRatio float64       `yaml:"escalation_ratio"`

	ClusterBand time.Duration `yaml:"cluster_band"`
	MinRecords  int           `yaml:"min_records"`

	ResponseWindow    time.Duration `yaml:"response_window"`
	CloseFraction     float64       `yaml:"close_fraction"`
	ShortMessageRunes int           `yaml:"short_message_runes"`
	MinCandidates     int           `yaml:"min_candidates"`

	Segments int `yaml:"segments"`

	// TrajectoryEscalation is the trajectory score at or above which a
	// contact is reported as escalating
	TrajectoryEscalation float64 `yaml:"trajectory_escalation"`
}

// DefaultThresholds returns the default signal tuning
func DefaultThresholds() Thresholds {
	return Thresholds{
		TrailingWindow:       7 * 24 * time.Hour,
		BaselineWindow:       28 * 24 * time.Hour,
		EscalationRatio:      2.0,
		ClusterBand:          time.Hour,
		MinRecords:           10,
		ResponseWindow:       30 * time.Minute,
		CloseFraction:        0.25,
		ShortMessageRunes:    40,
		MinCandidates:        5,
		Segments:             3,
		TrajectoryEscalation: 0.5,
	}
}

// Contact owns one counterparty's time-ordered history
type Contact struct {
	ID     string
	Name   string
	Calls  []record.Record
	Msgs   []record.Record
	Events []detector.FlaggedEvent
}

// Records returns messages and calls merged in time order
func (c *Contact) Records() []record.Record {
	out := make([]record.Record, 0, len(c.Msgs)+len(c.Calls))
	out = append(out, c.Msgs...)
	out = append(out, c.Calls...)
	record.SortByTime(out)
	return out
}

// adverse returns the events that count toward severity
func (c *Contact) adverse() []detector.FlaggedEvent {
	var out []detector.FlaggedEvent
	for _, e := range c.Events {
		if e.Adverse() {
			out = append(out, e)
		}
	}
	return out
}

// GroupContacts splits time-ordered records and events by counterparty.
// Contacts are returned sorted by ID.
func GroupContacts(records []record.Record, events []detector.FlaggedEvent) []*Contact {
	byID := make(map[string]*Contact)
	get := func(id string) *Contact {
		c, ok := byID[id]
		if !ok {
			c = &Contact{ID: id}
			byID[id] = c
		}
		return c
	}

	for _, r := range records {
		c := get(r.Counterparty)
		if c.Name == "" && r.ContactName != "" {
			c.Name = r.ContactName
		}
		if r.IsMessage() {
			c.Msgs = append(c.Msgs, r)
		} else {
			c.Calls = append(c.Calls, r)
		}
	}
	for _, e := range events {
		c := get(e.Counterparty)
		c.Events = append(c.Events, e)
	}

	out := make([]*Contact, 0, len(byID))
	for _, c := range byID {
		detector.SortEvents(c.Events)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Aggregator computes the five signals for a contact
type Aggregator struct {
	t Thresholds
}

// NewAggregator creates an aggregator with the given thresholds
func NewAggregator(t Thresholds) *Aggregator {
	return &Aggregator{t: t}
}

// Thresholds returns the tuning in use
func (a *Aggregator) Thresholds() Thresholds {
	return a.t
}

// Aggregate returns the signals that have evidence, in SignalTypes order
func (a *Aggregator) Aggregate(c *Contact) []PatternSignal {
	var out []PatternSignal
	for _, fn := range []func(*Contact) (PatternSignal, bool){
		a.frequencyDelta,
		a.temporalClustering,
		a.responseLatency,
		a.semanticDrift,
		a.severityTrajectory,
	} {
		if s, ok := fn(c); ok && len(s.Evidence) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Escalating reports whether a trajectory signal crosses the configured
// escalation threshold
func (a *Aggregator) Escalating(signals []PatternSignal) bool {
	for _, s := range signals {
		if s.Type == SignalTrajectory && s.Score >= a.t.TrajectoryEscalation {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
