// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"strings"

	"sentinel-scan/internal/record"
)

// Filter restricts which records enter the analysis
type Filter struct {
	messagesOnly bool
	callsOnly    bool
	ids          map[string]bool
	names        map[string]bool
}

// NewFilter builds a filter. Contacts may be numbers in any format or
// contact names; names match case-insensitively.
func NewFilter(messagesOnly, callsOnly bool, contacts []string, countryCode string) *Filter {
	f := &Filter{
		messagesOnly: messagesOnly,
		callsOnly:    callsOnly,
		ids:          make(map[string]bool),
		names:        make(map[string]bool),
	}
	for _, c := range contacts {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if id := CanonicalIdentifier(c, countryCode); id != "" {
			f.ids[id] = true
		}
		f.names[strings.ToLower(c)] = true
	}
	return f
}

// Accept reports whether r passes the filter
func (f *Filter) Accept(r record.Record) bool {
	if f == nil {
		return true
	}
	if f.messagesOnly && r.Kind != record.KindMessage {
		return false
	}
	if f.callsOnly && r.Kind != record.KindCall {
		return false
	}
	if len(f.ids) == 0 && len(f.names) == 0 {
		return true
	}
	return f.ids[r.Counterparty] || f.names[strings.ToLower(r.ContactName)]
}
