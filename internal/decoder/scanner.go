// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package decoder

import (
	"bufio"
	"bytes"
	"io"
)

// elementScanner cuts recognized record elements out of a UTF-8 markup
// stream. Working memory is the bufio buffer, one pending prefix and one
// element. The prefix and the element are each capped at maxElement bytes.
type elementScanner struct {
	r          *bufio.Reader
	maxElement int
	tags       map[string]bool

	// pending holds pushed-back bytes served before r
	pending     []byte
	pos         int
	fromPending bool
}

func newElementScanner(r io.Reader, bufSize, maxElement int, tags map[string]bool) *elementScanner {
	return &elementScanner{
		r:          bufio.NewReaderSize(r, bufSize),
		maxElement: maxElement,
		tags:       tags,
	}
}

func (s *elementScanner) readByte() (byte, error) {
	if s.pos < len(s.pending) {
		c := s.pending[s.pos]
		s.pos++
		s.fromPending = true
		return c, nil
	}
	if s.pending != nil {
		s.pending, s.pos = nil, 0
	}
	s.fromPending = false
	return s.r.ReadByte()
}

// unreadByte steps back over the last byte returned by readByte
func (s *elementScanner) unreadByte() error {
	if s.fromPending {
		s.pos--
		s.fromPending = false
		return nil
	}
	return s.r.UnreadByte()
}

// next returns the tag and raw bytes of the next recognized element.
// A non-nil raw with a non-nil error is a broken element the caller
// should count and skip. io.EOF means the input is exhausted.
func (s *elementScanner) next() (string, []byte, error) {
	for {
		if err := s.skipPastByte('<'); err != nil {
			return "", nil, err
		}

		c, err := s.readByte()
		if err != nil {
			return "", nil, err
		}

		switch c {
		case '?':
			if err := s.skipPast("?>"); err != nil {
				return "", nil, err
			}
			continue
		case '!':
			if err := s.skipDeclaration(); err != nil {
				return "", nil, err
			}
			continue
		case '/':
			if err := s.skipPastByte('>'); err != nil {
				return "", nil, err
			}
			continue
		}

		if err := s.unreadByte(); err != nil {
			return "", nil, err
		}
		name, err := s.readName()
		if err != nil {
			return "", nil, err
		}
		tag := string(bytes.ToLower(name))
		if !s.tags[tag] {
			if err := s.skipTag(); err != nil {
				return "", nil, err
			}
			continue
		}

		raw, err := s.capture(tag, name)
		return tag, raw, err
	}
}

// pushBack makes b the next bytes the scanner reads. The underlying
// reader is never wrapped again; unread pending bytes stay after b.
func (s *elementScanner) pushBack(b []byte) {
	rest := make([]byte, 0, len(b)+len(s.pending)-s.pos)
	rest = append(rest, b...)
	rest = append(rest, s.pending[s.pos:]...)
	s.pending, s.pos, s.fromPending = rest, 0, false
}

func (s *elementScanner) readName() ([]byte, error) {
	var name []byte
	for {
		c, err := s.readByte()
		if err != nil {
			if err == io.EOF && len(name) > 0 {
				return name, nil
			}
			return nil, err
		}
		if !isNameByte(c) {
			return name, s.unreadByte()
		}
		name = append(name, c)
	}
}

// capture reads one element whose start tag name has already been
// consumed. Self-closing elements end at "/>", others at "</tag>".
func (s *elementScanner) capture(tag string, name []byte) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, '<')
	buf = append(buf, name...)
	oversize := false

	add := func(c byte) {
		if oversize {
			return
		}
		buf = append(buf, c)
		if len(buf) > s.maxElement {
			oversize = true
			buf = buf[:0]
		}
	}

	var quote, prev byte
	for {
		c, err := s.readByte()
		if err != nil {
			return s.finish(buf, oversize, ErrTruncated)
		}
		add(c)
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			continue
		}
		if c == '>' {
			if prev == '/' {
				return s.finish(buf, oversize, nil)
			}
			break
		}
		prev = c
	}

	closing := []byte("</" + tag + ">")
	tail := make([]byte, 0, len(closing))
	for {
		c, err := s.readByte()
		if err != nil {
			return s.finish(buf, oversize, ErrTruncated)
		}
		add(c)
		if len(tail) == len(closing) {
			copy(tail, tail[1:])
			tail = tail[:len(tail)-1]
		}
		tail = append(tail, lowerByte(c))
		if bytes.Equal(tail, closing) {
			return s.finish(buf, oversize, nil)
		}
	}
}

func (s *elementScanner) finish(buf []byte, oversize bool, err error) ([]byte, error) {
	if oversize {
		return []byte{}, ErrElementTooLarge
	}
	return buf, err
}

// skipTag discards the rest of an uninteresting start or end tag
func (s *elementScanner) skipTag() error {
	var quote byte
	for {
		c, err := s.readByte()
		if err != nil {
			return err
		}
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '>':
			return nil
		case '<':
			// unterminated tag, let the outer loop see this '<'
			return s.unreadByte()
		}
	}
}

func (s *elementScanner) skipDeclaration() error {
	c, err := s.readByte()
	if err != nil {
		return err
	}
	if c == '-' {
		if c, err = s.readByte(); err != nil {
			return err
		}
		if c == '-' {
			return s.skipPast("-->")
		}
	}
	if c == '>' {
		return nil
	}
	return s.skipPastByte('>')
}

func (s *elementScanner) skipPastByte(b byte) error {
	for {
		c, err := s.readByte()
		if err != nil {
			return err
		}
		if c == b {
			return nil
		}
	}
}

func (s *elementScanner) skipPast(marker string) error {
	tail := make([]byte, 0, len(marker))
	for {
		c, err := s.readByte()
		if err != nil {
			return err
		}
		if len(tail) == len(marker) {
			copy(tail, tail[1:])
			tail = tail[:len(tail)-1]
		}
		tail = append(tail, c)
		if string(tail) == marker {
			return nil
		}
	}
}

// resyncOffset finds the next recognized start tag inside raw after its
// first byte, or -1.
func resyncOffset(raw []byte, tags map[string]bool) int {
	for i := 1; i < len(raw); i++ {
		if raw[i] != '<' {
			continue
		}
		j := i + 1
		for j < len(raw) && isNameByte(raw[j]) {
			j++
		}
		if j == i+1 || j >= len(raw) {
			continue
		}
		if !tags[string(bytes.ToLower(raw[i+1:j]))] {
			continue
		}
		if c := raw[j]; c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '/' || c == '>' {
			return i
		}
	}
	return -1
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' || c == ':' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func lowerByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
