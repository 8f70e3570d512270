// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package decoder

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Recognized element tags
const (
	TagSMS  = "sms"
	TagMMS  = "mms"
	TagCall = "call"
)

var recordTags = map[string]bool{TagSMS: true, TagMMS: true, TagCall: true}

// RawElement is one undecoded record element with lower-cased attribute names
type RawElement struct {
	Tag     string
	Attrs   map[string]string
	Parts   []RawPart
	Ordinal int
	File    string
}

// RawPart is one <part> child of an <mms> element
type RawPart struct {
	ContentType string
	Text        string
}

// Attr returns the named attribute or ""
func (e RawElement) Attr(name string) string {
	return e.Attrs[strings.ToLower(name)]
}

// surrogatePair matches UTF-16 surrogate halves written as two numeric
// character references, which phone exports use for emoji.
var surrogatePair = regexp.MustCompile(`&#(5[5-6][0-9]{3});&#(5[6-7][0-9]{3});`)

func joinSurrogateRefs(raw []byte) []byte {
	if !bytes.Contains(raw, []byte("&#5")) {
		return raw
	}
	return surrogatePair.ReplaceAllFunc(raw, func(m []byte) []byte {
		sub := surrogatePair.FindSubmatch(m)
		hi, err1 := strconv.Atoi(string(sub[1]))
		lo, err2 := strconv.Atoi(string(sub[2]))
		if err1 != nil || err2 != nil || !utf16.IsSurrogate(rune(hi)) || !utf16.IsSurrogate(rune(lo)) {
			return m
		}
		r := utf16.DecodeRune(rune(hi), rune(lo))
		if r == '\uFFFD' {
			return m
		}
		return []byte(fmt.Sprintf("&#%d;", r))
	})
}

// parseElement decodes the raw bytes of one element cut by the scanner
func parseElement(tag string, raw []byte) (RawElement, error) {
	d := xml.NewDecoder(bytes.NewReader(joinSurrogateRefs(raw)))
	d.Strict = true
	d.Entity = xml.HTMLEntity

	el := RawElement{Tag: tag}
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return RawElement{}, ErrTruncated
			}
			return RawElement{}, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			name := strings.ToLower(t.Name.Local)
			if depth == 1 {
				el.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					el.Attrs[strings.ToLower(a.Name.Local)] = a.Value
				}
				continue
			}
			if tag == TagMMS && name == "part" {
				var part RawPart
				for _, a := range t.Attr {
					switch strings.ToLower(a.Name.Local) {
					case "ct":
						part.ContentType = a.Value
					case "text":
						part.Text = a.Value
					}
				}
				el.Parts = append(el.Parts, part)
			}
		case xml.EndElement:
			depth--
			if depth == 0 {
				return el, nil
			}
		}
	}
}
