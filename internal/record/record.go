// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package record defines the canonical message and call record shared by
// every pipeline stage.
package record

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// Kind distinguishes messages from calls
type Kind string

const (
	KindMessage Kind = "message"
	KindCall    Kind = "call"
)

// Direction is the canonical direction relative to the device owner
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
)

// Channel is the transport the record came from
type Channel string

const (
	ChannelSMS  Channel = "SMS"
	ChannelMMS  Channel = "MMS"
	ChannelCall Channel = "CALL"
)

// Source locates the element a record was decoded from
type Source struct {
	File    string `json:"file" yaml:"file"`
	Ordinal int    `json:"ordinal" yaml:"ordinal"`
}

func (s Source) String() string {
	return fmt.Sprintf("%s#%d", s.File, s.Ordinal)
}

// Record is one normalized message or call. Values are never mutated
// after the normalizer returns them.
type Record struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Channel      Channel   `json:"channel"`
	Direction    Direction `json:"direction"`
	RawType      string    `json:"raw_type,omitempty"`
	Counterparty string    `json:"counterparty"`
	ContactName  string    `json:"contact_name,omitempty"`
	TimestampMs  int64     `json:"timestamp_ms"`
	Body         string    `json:"body,omitempty"`
	DurationSec  int64     `json:"duration_sec,omitempty"`
	Source       Source    `json:"source"`
}

// namespace for deterministic record IDs
var recordNamespace = uuid.MustParse("6f1c2a44-9d0e-5b7a-8c3f-2e4d5a6b7c8d")

// Key returns the dedup key: timestamp, counterparty, kind and, for
// calls, duration.
func (r Record) Key() string {
	key := strconv.FormatInt(r.TimestampMs, 10) + "|" + r.Counterparty + "|" + string(r.Kind)
	if r.Kind == KindCall {
		key += "|" + strconv.FormatInt(r.DurationSec, 10)
	}
	return key
}

// DeriveID returns the UUIDv5 of the record's dedup key
func DeriveID(r Record) string {
	return uuid.NewSHA1(recordNamespace, []byte(r.Key())).String()
}

// IsMessage reports whether the record is a message
func (r Record) IsMessage() bool {
	return r.Kind == KindMessage
}

// SortByTime orders records by timestamp, then source file and ordinal,
// giving a total order that is stable across runs.
func SortByTime(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return Less(records[i], records[j])
	})
}

// Less is the ordering used by SortByTime
func Less(a, b Record) bool {
	if a.TimestampMs != b.TimestampMs {
		return a.TimestampMs < b.TimestampMs
	}
	if a.Source.File != b.Source.File {
		return a.Source.File < b.Source.File
	}
	if a.Source.Ordinal != b.Source.Ordinal {
		return a.Source.Ordinal < b.Source.Ordinal
	}
	return a.ID < b.ID
}
