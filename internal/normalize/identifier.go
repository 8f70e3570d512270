// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package normalize

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// CanonicalIdentifier reduces a counterparty address to a stable form so
// that the same number compares equal across exports. A leading "+" or
// "00" marks an explicit country code; national numbers are parsed in the
// region of countryCode. Numbers with a full national length are
// returned in E.164. Short codes and anything else that does not parse
// keep their bare digits. Sender IDs with letters are lower-cased.
// Multi-recipient MMS addresses ("a~b") are canonicalized per part and
// joined in sorted order.
func CanonicalIdentifier(raw, countryCode string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") || strings.EqualFold(raw, "insert-address-token") {
		return ""
	}

	if strings.Contains(raw, "~") {
		return canonicalGroup(strings.Split(raw, "~"), countryCode)
	}

	if isSenderID(raw) {
		return strings.ToLower(strings.Join(strings.Fields(raw), ""))
	}

	plus := strings.HasPrefix(raw, "+")
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if d == "" {
		return ""
	}

	explicit := plus || (strings.HasPrefix(d, "00") && len(d) > 4)
	if !plus && explicit {
		d = d[2:]
	}
	if explicit {
		if e164, ok := parseE164("+"+d, unknownRegion); ok {
			return e164
		}
		return "+" + d
	}
	if countryCode == "" {
		return d
	}
	if e164, ok := parseE164(d, regionFor(countryCode)); ok {
		return e164
	}
	return d
}

// unknownRegion lets phonenumbers take the region from a "+" prefix
const unknownRegion = "ZZ"

// parseE164 formats number as E.164 when it has a full national length.
// Local-only lengths are rejected so short codes are not given a country
// code.
func parseE164(number, region string) (string, bool) {
	num, err := phonenumbers.Parse(number, region)
	if err != nil || phonenumbers.IsPossibleNumberWithReason(num) != phonenumbers.IS_POSSIBLE {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

// regionFor maps a calling code such as "44" to its main region
func regionFor(countryCode string) string {
	cc, err := strconv.Atoi(strings.TrimPrefix(countryCode, "+"))
	if err != nil {
		return unknownRegion
	}
	return phonenumbers.GetRegionCodeForCountryCode(cc)
}

// isSenderID reports whether raw is an alphanumeric sender rather than a number
func isSenderID(raw string) bool {
	letters := 0
	for _, r := range raw {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters > 1
}

func canonicalGroup(parts []string, countryCode string) string {
	seen := make(map[string]bool, len(parts))
	var out []string
	for _, p := range parts {
		c := CanonicalIdentifier(p, countryCode)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return strings.Join(out, "~")
}
