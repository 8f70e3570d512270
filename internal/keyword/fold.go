// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package keyword

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// token is one folded word with its byte range in the original text
type token struct {
	text       string
	start, end int
}

// tokenize lower-cases s and splits it on anything that is not a letter,
// digit or in-word apostrophe. Offsets refer to s.
func tokenize(s string) []token {
	var out []token
	var b strings.Builder
	start := -1

	flush := func(end int) {
		if start < 0 {
			return
		}
		text := strings.Trim(b.String(), "'")
		if text != "" {
			out = append(out, token{text: text, start: start, end: end})
		}
		b.Reset()
		start = -1
	}

	for i, r := range s {
		if r == '’' || r == '‘' {
			r = '\''
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			if start < 0 {
				start = i
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush(i)
	}
	flush(len(s))
	return out
}

// foldTerm returns the token texts of a trigger phrase
func foldTerm(term string) []string {
	toks := tokenize(term)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.text
	}
	return out
}

// hasText reports whether s has any letter or digit
func hasText(s string) bool {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
		s = s[size:]
	}
	return false
}
