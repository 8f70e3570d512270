// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package decoder

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding identifies the text encoding of an export file
type Encoding string

const (
	EncodingUTF8    Encoding = "utf-8"
	EncodingUTF8BOM Encoding = "utf-8-bom"
	EncodingUTF16LE Encoding = "utf-16le"
	EncodingUTF16BE Encoding = "utf-16be"
	// EncodingWindows1252 is the fallback for unmarked files that are not valid UTF-8
	EncodingWindows1252 Encoding = "windows-1252"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// sniffLen is how many leading bytes are inspected for encoding detection
const sniffLen = 512

// DetectEncoding inspects the leading bytes of a file and returns the
// detected encoding and the length of its byte-order mark.
func DetectEncoding(prefix []byte) (Encoding, int) {
	switch {
	case bytes.HasPrefix(prefix, bomUTF8):
		return EncodingUTF8BOM, len(bomUTF8)
	case bytes.HasPrefix(prefix, bomUTF16LE):
		return EncodingUTF16LE, len(bomUTF16LE)
	case bytes.HasPrefix(prefix, bomUTF16BE):
		return EncodingUTF16BE, len(bomUTF16BE)
	}
	if enc, ok := detectUnmarkedUTF16(prefix); ok {
		return enc, 0
	}
	return EncodingUTF8, 0
}

// detectUnmarkedUTF16 looks for the interleaved zero bytes that ASCII
// markup produces in UTF-16 without a byte-order mark.
func detectUnmarkedUTF16(p []byte) (Encoding, bool) {
	if len(p) > sniffLen {
		p = p[:sniffLen]
	}
	n := len(p) &^ 1
	if n < 4 {
		return "", false
	}

	var evenZero, oddZero int
	for i := 0; i < n; i += 2 {
		if p[i] == 0 {
			evenZero++
		}
		if p[i+1] == 0 {
			oddZero++
		}
	}

	pairs := n / 2
	switch {
	case oddZero*10 >= pairs*4 && evenZero*10 < pairs:
		return EncodingUTF16LE, true
	case evenZero*10 >= pairs*4 && oddZero*10 < pairs:
		return EncodingUTF16BE, true
	}
	return "", false
}

// validUTF8Prefix reports whether p is valid UTF-8, allowing a rune cut
// off at the end of the sniffed window.
func validUTF8Prefix(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	for i := 0; i < utf8.UTFMax && i < len(p); i++ {
		if utf8.Valid(p[:len(p)-i]) {
			return true
		}
	}
	return false
}

// decodingReader wraps r so that it yields UTF-8 for the given encoding.
// The byte-order mark must already have been consumed.
func decodingReader(r io.Reader, enc Encoding) io.Reader {
	switch enc {
	case EncodingUTF16LE:
		return transform.NewReader(r, unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder())
	case EncodingUTF16BE:
		return transform.NewReader(r, unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder())
	case EncodingWindows1252:
		return charmap.Windows1252.NewDecoder().Reader(r)
	default:
		return r
	}
}
