// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	msg := Record{Kind: KindMessage, Counterparty: "+15550102000", TimestampMs: 1700000000000, DurationSec: 9}
	call := Record{Kind: KindCall, Counterparty: "+15550102000", TimestampMs: 1700000000000, DurationSec: 30}

	assert.Equal(t, "1700000000000|+15550102000|message", msg.Key())
	assert.Equal(t, "1700000000000|+15550102000|call|30", call.Key())

	other := call
	other.DurationSec = 31
	assert.NotEqual(t, call.Key(), other.Key())
}

func TestDeriveID(t *testing.T) {
	a := Record{Kind: KindMessage, Counterparty: "+15550102000", TimestampMs: 1, Body: "a"}
	b := a
	b.Body = "different body"
	b.Source = Source{File: "other.xml", Ordinal: 4}

	assert.Equal(t, DeriveID(a), DeriveID(b))
	assert.Len(t, DeriveID(a), 36)

	c := a
	c.TimestampMs = 2
	assert.NotEqual(t, DeriveID(a), DeriveID(c))
}

func TestSortByTime(t *testing.T) {
	records := []Record{
		{ID: "c", TimestampMs: 2, Source: Source{File: "a.xml", Ordinal: 0}},
		{ID: "b", TimestampMs: 1, Source: Source{File: "b.xml", Ordinal: 0}},
		{ID: "a", TimestampMs: 1, Source: Source{File: "a.xml", Ordinal: 5}},
		{ID: "d", TimestampMs: 1, Source: Source{File: "a.xml", Ordinal: 1}},
	}
	SortByTime(records)

	var ids []string
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids)
	assert.Equal(t, "a.xml#1", records[0].Source.String())
	assert.True(t, Record{Kind: KindMessage}.IsMessage())
	assert.False(t, Record{Kind: KindCall}.IsMessage())
}
