// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package decoder turns phone export files of unknown encoding into a
// lazy sequence of raw record elements in bounded memory.
package decoder

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
)

// Options bounds the decoder's working memory
type Options struct {
	// BufferSize is the read buffer in bytes
	BufferSize int
	// MaxElementBytes caps a single element; larger ones are skipped
	MaxElementBytes int
	// MaxErrors caps how many MalformedElementErrors are kept per file
	MaxErrors int
}

// DefaultOptions returns the decoder defaults
func DefaultOptions() Options {
	return Options{
		BufferSize:      64 * 1024,
		MaxElementBytes: 16 * 1024 * 1024,
		MaxErrors:       50,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.BufferSize < sniffLen {
		o.BufferSize = sniffLen
	}
	if o.MaxElementBytes <= 0 {
		o.MaxElementBytes = d.MaxElementBytes
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = d.MaxErrors
	}
	return o
}

// FileStats summarizes one decoded file
type FileStats struct {
	File     string
	Encoding Encoding
	Elements int
	Skipped  int
	Errors   []*MalformedElementError
}

// Stream yields the record elements of one file. It is not safe for
// concurrent use; reopen the file to restart.
type Stream struct {
	name    string
	opts    Options
	closer  io.Closer
	scanner *elementScanner
	stats   FileStats
	ordinal int
	done    bool
}

// Open opens path and prepares a stream over its elements. The returned
// error, if any, is a *DecodeError.
func Open(path string, opts Options) (*Stream, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, &DecodeError{File: path, Cause: err}
	}
	s, err := NewStream(f, path, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// NewStream detects the encoding of r and prepares a stream over it
func NewStream(r io.Reader, name string, opts Options) (*Stream, error) {
	opts = opts.withDefaults()
	s := &Stream{name: name, opts: opts, stats: FileStats{File: name}}

	raw := bufio.NewReaderSize(r, opts.BufferSize)
	prefix, err := raw.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, &DecodeError{File: name, Cause: err}
	}

	enc, bomLen := DetectEncoding(prefix)
	if _, err := raw.Discard(bomLen); err != nil {
		return nil, &DecodeError{File: name, Encoding: enc, Cause: err}
	}
	if enc == EncodingUTF8 && !validUTF8Prefix(prefix) {
		enc = EncodingWindows1252
	}
	s.stats.Encoding = enc

	text := bufio.NewReaderSize(decodingReader(raw, enc), opts.BufferSize)
	if err := checkMarkup(text); err != nil {
		if errors.Is(err, io.EOF) {
			s.done = true
			return s, nil
		}
		return nil, &DecodeError{File: name, Encoding: enc, Cause: err}
	}

	s.scanner = newElementScanner(text, opts.BufferSize, opts.MaxElementBytes, recordTags)
	return s, nil
}

// checkMarkup verifies that the first non-blank character is '<'.
// io.EOF means the content is empty.
func checkMarkup(r *bufio.Reader) error {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '<':
			return r.UnreadByte()
		default:
			return ErrNotXML
		}
	}
}

// Encoding returns the detected encoding
func (s *Stream) Encoding() Encoding {
	return s.stats.Encoding
}

// Stats returns the counters gathered so far
func (s *Stream) Stats() FileStats {
	return s.stats
}

// Next returns the next well-formed element, or io.EOF at the end.
// Malformed elements are skipped and counted.
func (s *Stream) Next() (RawElement, error) {
	for !s.done {
		tag, raw, err := s.scanner.next()
		if raw == nil && err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				break
			}
			return RawElement{}, &DecodeError{File: s.name, Encoding: s.stats.Encoding, Cause: err}
		}

		s.ordinal++
		if err == nil {
			el, perr := parseElement(tag, raw)
			if perr == nil {
				el.Ordinal = s.ordinal
				el.File = s.name
				s.stats.Elements++
				return el, nil
			}
			err = perr
		}
		// a broken element may have swallowed the start of the next one
		if off := resyncOffset(raw, recordTags); off > 0 {
			s.scanner.pushBack(raw[off:])
		}
		s.skip(tag, err)
	}
	return RawElement{}, io.EOF
}

func (s *Stream) skip(tag string, cause error) {
	s.stats.Skipped++
	if len(s.stats.Errors) < s.opts.MaxErrors {
		s.stats.Errors = append(s.stats.Errors, &MalformedElementError{
			File:    s.name,
			Ordinal: s.ordinal,
			Tag:     tag,
			Cause:   cause,
		})
	}
}

// Close releases the underlying file, if any
func (s *Stream) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// DecodeFile streams every element of path into fn. It stops at the first
// error returned by fn.
func DecodeFile(path string, opts Options, fn func(RawElement) error) (FileStats, error) {
	s, err := Open(path, opts)
	if err != nil {
		return FileStats{File: path}, err
	}
	defer s.Close()

	for {
		el, err := s.Next()
		if errors.Is(err, io.EOF) {
			return s.Stats(), nil
		}
		if err != nil {
			return s.Stats(), err
		}
		if err := fn(el); err != nil {
			return s.Stats(), err
		}
	}
}
