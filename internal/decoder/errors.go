// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package decoder

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is the cause recorded for an element cut off by end of input
	ErrTruncated = errors.New("truncated element")
	// ErrElementTooLarge is the cause recorded for an element over the size limit
	ErrElementTooLarge = errors.New("element exceeds size limit")
	// ErrNotXML is the cause of a DecodeError for content that is not markup
	ErrNotXML = errors.New("content is not XML under any candidate encoding")
)

// DecodeError fails one input file. Other files in the run are unaffected.
type DecodeError struct {
	File     string
	Encoding Encoding
	Cause    error
}

func (e *DecodeError) Error() string {
	if e.Encoding != "" {
		return fmt.Sprintf("decode %s (encoding=%s): %v", e.File, e.Encoding, e.Cause)
	}
	return fmt.Sprintf("decode %s: %v", e.File, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// MalformedElementError describes one skipped element
type MalformedElementError struct {
	File    string
	Ordinal int
	Tag     string
	Cause   error
}

func (e *MalformedElementError) Error() string {
	return fmt.Sprintf("malformed <%s> element #%d in %s: %v", e.Tag, e.Ordinal, e.File, e.Cause)
}

func (e *MalformedElementError) Unwrap() error {
	return e.Cause
}
