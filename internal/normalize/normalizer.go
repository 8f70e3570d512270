// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package normalize maps raw export elements onto canonical records.
package normalize

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"sentinel-scan/internal/decoder"
	"sentinel-scan/internal/record"
)

// Options configures normalization
type Options struct {
	// CountryCode is prefixed to national numbers; empty leaves them bare
	CountryCode string
	// MaxBodyRunes truncates message bodies
	MaxBodyRunes int
}

// DefaultOptions returns the normalizer defaults
func DefaultOptions() Options {
	return Options{CountryCode: "1", MaxBodyRunes: 50000}
}

var smsTypes = map[string]string{
	"1": "Received", "2": "Sent", "3": "Draft",
	"4": "Outbox", "5": "Failed", "6": "Queued",
}

var mmsBoxes = map[string]string{
	"1": "Received", "2": "Sent", "3": "Draft", "4": "Outbox",
}

var callTypes = map[string]string{
	"1": "Incoming", "2": "Outgoing", "3": "Missed", "4": "Voicemail",
	"5": "Rejected", "6": "Blocked", "7": "Answered Externally",
}

// Normalizer converts decoder output into records. It holds no state
// between calls and is safe for concurrent use.
type Normalizer struct {
	opts Options
}

// New creates a normalizer
func New(opts Options) *Normalizer {
	if opts.MaxBodyRunes <= 0 {
		opts.MaxBodyRunes = DefaultOptions().MaxBodyRunes
	}
	return &Normalizer{opts: opts}
}

// Normalize maps one element. Elements without a usable timestamp or
// counterparty yield a *MissingFieldError and must be dropped.
func (n *Normalizer) Normalize(el decoder.RawElement) (record.Record, error) {
	r := record.Record{
		Source:      record.Source{File: el.File, Ordinal: el.Ordinal},
		ContactName: contactName(el.Attr("contact_name")),
	}

	ts, ok := ParseTimestamp(el.Attr("date"))
	if !ok {
		ts, ok = ParseTimestamp(el.Attr("readable_date"))
	}
	if !ok || ts <= 0 {
		return record.Record{}, &MissingFieldError{File: el.File, Ordinal: el.Ordinal, Field: "date", Value: el.Attr("date")}
	}
	r.TimestampMs = ts

	switch el.Tag {
	case decoder.TagSMS:
		r.Kind = record.KindMessage
		r.Channel = record.ChannelSMS
		r.Counterparty = CanonicalIdentifier(el.Attr("address"), n.opts.CountryCode)
		r.RawType, r.Direction = messageDirection(el.Attr("type"), smsTypes)
		r.Body = Sanitize(el.Attr("body"), n.opts.MaxBodyRunes)
	case decoder.TagMMS:
		r.Kind = record.KindMessage
		r.Channel = record.ChannelMMS
		r.Counterparty = CanonicalIdentifier(el.Attr("address"), n.opts.CountryCode)
		r.RawType, r.Direction = messageDirection(el.Attr("msg_box"), mmsBoxes)
		r.Body = mmsBody(el.Parts, n.opts.MaxBodyRunes)
	case decoder.TagCall:
		r.Kind = record.KindCall
		r.Channel = record.ChannelCall
		address := el.Attr("number")
		if address == "" {
			address = el.Attr("address")
		}
		r.Counterparty = CanonicalIdentifier(address, n.opts.CountryCode)
		r.RawType, r.Direction = callDirection(el.Attr("type"))
		if d, err := strconv.ParseInt(strings.TrimSpace(el.Attr("duration")), 10, 64); err == nil && d > 0 {
			r.DurationSec = d
		}
	default:
		return record.Record{}, &MissingFieldError{File: el.File, Ordinal: el.Ordinal, Field: "tag", Value: el.Tag}
	}

	if r.Counterparty == "" {
		return record.Record{}, &MissingFieldError{File: el.File, Ordinal: el.Ordinal, Field: "address"}
	}

	r.ID = record.DeriveID(r)
	return r, nil
}

func messageDirection(code string, labels map[string]string) (string, record.Direction) {
	code = strings.TrimSpace(code)
	if label, ok := labels[code]; ok {
		if code == "1" {
			return label, record.DirectionReceived
		}
		return label, record.DirectionSent
	}
	return textualDirection(code)
}

func callDirection(code string) (string, record.Direction) {
	code = strings.TrimSpace(code)
	if label, ok := callTypes[code]; ok {
		if code == "2" {
			return label, record.DirectionSent
		}
		return label, record.DirectionReceived
	}
	return textualDirection(code)
}

func textualDirection(raw string) (string, record.Direction) {
	switch strings.ToLower(raw) {
	case "outgoing", "sent", "outbox", "out":
		return raw, record.DirectionSent
	case "incoming", "received", "inbox", "in":
		return raw, record.DirectionReceived
	}
	if raw == "" {
		raw = "Unknown"
	}
	return raw, record.DirectionReceived
}

func mmsBody(parts []decoder.RawPart, maxRunes int) string {
	var texts []string
	for _, p := range parts {
		if !strings.EqualFold(p.ContentType, "text/plain") {
			continue
		}
		t := strings.TrimSpace(p.Text)
		if t == "" || strings.EqualFold(t, "null") {
			continue
		}
		texts = append(texts, t)
	}
	return Sanitize(strings.Join(texts, " "), maxRunes)
}

func contactName(raw string) string {
	name := Sanitize(raw, 200)
	if name == "(Unknown)" || strings.EqualFold(name, "null") {
		return ""
	}
	return strings.TrimSpace(name)
}

// Sanitize drops non-printable runes other than \n, \r and \t and caps
// the result at maxRunes.
func Sanitize(s string, maxRunes int) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	count := 0
	for _, r := range s {
		if r == utf8.RuneError {
			continue
		}
		if !unicode.IsPrint(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if maxRunes > 0 && count >= maxRunes {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}
