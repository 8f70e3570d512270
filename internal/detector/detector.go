// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package detector defines flagged events and the detector contract.
package detector

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"sentinel-scan/internal/record"
)

// Tier is an ordered severity level
type Tier int

const (
	TierNone   Tier = 0
	TierLow    Tier = 1
	TierMedium Tier = 2
	TierHigh   Tier = 3
)

// Tiers lists the tiers from lowest to highest
var Tiers = []Tier{TierLow, TierMedium, TierHigh}

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "none"
	}
}

// ParseTier accepts tier names in any case
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return TierLow, nil
	case "medium":
		return TierMedium, nil
	case "high":
		return TierHigh, nil
	}
	return TierNone, fmt.Errorf("unknown severity tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Status is the confirmation state of an event
type Status string

const (
	StatusUnconfirmed Status = "unconfirmed"
	StatusConfirmed   Status = "confirmed"
	StatusRejected    Status = "rejected"
)

// Mode records which layer produced the final classification
type Mode string

const (
	ModeKeyword    Mode = "KEYWORD"
	ModeAI         Mode = "AI"
	ModeAIFallback Mode = "AI_FALLBACK"
)

// ErrAlreadyResolved is returned when an event's confirmation state is
// changed a second time
var ErrAlreadyResolved = errors.New("flagged event confirmation already resolved")

// Span is the matched trigger inside the record body
type Span struct {
	Term  string `json:"term"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Confirmation is the optional second-phase verdict
type Confirmation struct {
	Status       Status  `json:"status"`
	Confidence   float64 `json:"confidence,omitempty"`
	ModelVersion string  `json:"model_version,omitempty"`
	Category     string  `json:"category,omitempty"`
	Tier         Tier    `json:"tier,omitempty"`
	Summary      string  `json:"summary,omitempty"`
}

// FlaggedEvent is one keyword-layer candidate on one record
type FlaggedEvent struct {
	ID                string           `json:"id"`
	RecordID          string           `json:"record_id"`
	Counterparty      string           `json:"counterparty"`
	Direction         record.Direction `json:"direction"`
	TimestampMs       int64            `json:"timestamp_ms"`
	Category          string           `json:"category"`
	Tier              Tier             `json:"tier"`
	Span              Span             `json:"span"`
	DictionaryVersion string           `json:"dictionary_version"`
	Supportive        bool             `json:"supportive,omitempty"`
	Mode              Mode             `json:"mode"`
	Confirmation      Confirmation     `json:"confirmation"`
}

// Detector produces keyword-layer candidates for one record
type Detector interface {
	Detect(r record.Record) []FlaggedEvent
	Version() string
}

var eventNamespace = uuid.MustParse("0b8e3d6a-41c2-5f7e-9a1d-3c5b7e9f1a2b")

// DeriveEventID returns a deterministic ID for a candidate
func DeriveEventID(recordID, category string, tier Tier, span Span) string {
	name := recordID + "|" + category + "|" + tier.String() + "|" + span.Term + "|" +
		strconv.Itoa(span.Start) + "|" + strconv.Itoa(span.End)
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// NewEvent builds an unconfirmed keyword-layer event for r
func NewEvent(r record.Record, category string, tier Tier, span Span, dictVersion string) FlaggedEvent {
	return FlaggedEvent{
		ID:                DeriveEventID(r.ID, category, tier, span),
		RecordID:          r.ID,
		Counterparty:      r.Counterparty,
		Direction:         r.Direction,
		TimestampMs:       r.TimestampMs,
		Category:          category,
		Tier:              tier,
		Span:              span,
		DictionaryVersion: dictVersion,
		Mode:              ModeKeyword,
		Confirmation:      Confirmation{Status: StatusUnconfirmed},
	}
}

// Resolve applies an inference verdict. It succeeds once; later calls
// return ErrAlreadyResolved.
func (e *FlaggedEvent) Resolve(c Confirmation) error {
	if e.Mode != ModeKeyword || e.Confirmation.Status != StatusUnconfirmed {
		return ErrAlreadyResolved
	}
	if c.Status != StatusConfirmed && c.Status != StatusRejected {
		return fmt.Errorf("invalid confirmation status %q", c.Status)
	}
	e.Confirmation = c
	e.Mode = ModeAI
	return nil
}

// Fallback marks an event whose confirmation was attempted but failed.
// The keyword-layer fields are left as they were.
func (e *FlaggedEvent) Fallback(reason string) error {
	if e.Mode != ModeKeyword || e.Confirmation.Status != StatusUnconfirmed {
		return ErrAlreadyResolved
	}
	e.Mode = ModeAIFallback
	e.Confirmation.Summary = reason
	return nil
}

// Adverse reports whether the event counts toward severity: it is not
// from a supportive category and inference did not reject it
func (e FlaggedEvent) Adverse() bool {
	return !e.Supportive && !e.Rejected()
}

// Rejected reports whether inference rejected the candidate
func (e FlaggedEvent) Rejected() bool {
	return e.Confirmation.Status == StatusRejected
}

// EffectiveCategory is the reclassified category when inference supplied
// one, otherwise the keyword category
func (e FlaggedEvent) EffectiveCategory() string {
	if e.Confirmation.Status == StatusConfirmed && e.Confirmation.Category != "" {
		return e.Confirmation.Category
	}
	return e.Category
}

// EffectiveTier mirrors EffectiveCategory for the tier
func (e FlaggedEvent) EffectiveTier() Tier {
	if e.Confirmation.Status == StatusConfirmed && e.Confirmation.Tier != TierNone {
		return e.Confirmation.Tier
	}
	return e.Tier
}

// SortEvents orders events by time, then record, category and tier
func SortEvents(events []FlaggedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.TimestampMs != b.TimestampMs {
			return a.TimestampMs < b.TimestampMs
		}
		if a.RecordID != b.RecordID {
			return a.RecordID < b.RecordID
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Tier < b.Tier
	})
}
