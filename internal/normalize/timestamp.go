// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"Jan 2, 2006 3:04:05 PM",
	"Jan 2, 2006 15:04:05",
	"02/01/2006 15:04:05",
}

// ParseTimestamp converts an export timestamp to epoch milliseconds.
// Integers are read as seconds, milliseconds, microseconds or
// nanoseconds by magnitude; strings are tried against known layouts in UTC.
func ParseTimestamp(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return 0, false
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return scaleEpoch(n), true
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		// fractional seconds, e.g. "1700000000.250"
		if f < 1e11 {
			return int64(f * 1000), true
		}
		return scaleEpoch(int64(f)), true
	}

	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

func scaleEpoch(n int64) int64 {
	switch {
	case n <= 0:
		return n
	case n < 1e11:
		return n * 1000
	case n < 1e14:
		return n
	case n < 1e17:
		return n / 1000
	default:
		return n / 1_000_000
	}
}
