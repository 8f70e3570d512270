// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"errors"

	"sentinel-scan/internal/confirm"
	"sentinel-scan/internal/decoder"
	"sentinel-scan/internal/dedup"
	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/parallel"
	"sentinel-scan/internal/store"
)

// FileSummary is the per-file part of the run summary
type FileSummary struct {
	File      string `json:"file"`
	Encoding  string `json:"encoding,omitempty"`
	Records   int    `json:"records"`
	Malformed int    `json:"malformed"`
	Missing   int    `json:"missing_fields"`
	Filtered  int    `json:"filtered"`
	Error     string `json:"error,omitempty"`
}

// Skipped is the number of elements of the file that produced no record
func (f FileSummary) Skipped() int {
	return f.Malformed + f.Missing
}

// Summary aggregates every degraded outcome of a run by kind. Nothing that
// was skipped or demoted goes uncounted.
type Summary struct {
	Files        []FileSummary `json:"files"`
	DecodeErrors int           `json:"decode_errors"`
	Malformed    int           `json:"malformed_elements"`
	Missing      int           `json:"missing_fields"`
	Filtered     int           `json:"filtered"`

	Elements   int `json:"elements"`
	Normalized int `json:"normalized"`
	Records    int `json:"records"`
	Messages   int `json:"messages"`
	Calls      int `json:"calls"`
	Duplicates int `json:"duplicates"`
	Conflicts  int `json:"duplicate_conflicts"`

	Flagged      int           `json:"flagged"`
	Supportive   int           `json:"supportive"`
	Mode         string        `json:"mode"`
	Confirmation confirm.Stats `json:"confirmation"`

	Contacts int              `json:"contacts"`
	Stored   store.WriteStats `json:"stored"`
}

func (s *Summary) addFile(r *parallel.Result) {
	fs := FileSummary{
		File:      r.FilePath,
		Encoding:  string(r.Decode.Encoding),
		Records:   len(r.Records),
		Malformed: r.Decode.Skipped,
		Missing:   r.MissingCount,
		Filtered:  r.Filtered,
	}
	if r.Error != nil {
		fs.Error = r.Error.Error()
		var de *decoder.DecodeError
		if errors.As(r.Error, &de) {
			s.DecodeErrors++
		}
	}
	s.Elements += r.Decode.Elements
	s.Malformed += fs.Malformed
	s.Missing += fs.Missing
	s.Filtered += fs.Filtered
	s.Normalized += fs.Records
	s.Files = append(s.Files, fs)
}

func (s *Summary) addDedup(st dedup.Stats) {
	s.Records = st.Kept
	s.Duplicates = st.Duplicates
	s.Conflicts = st.Conflicts
}

func (s *Summary) addEvents(events []detector.FlaggedEvent) {
	s.Flagged = len(events)
	for _, e := range events {
		if e.Supportive {
			s.Supportive++
		}
	}
}

// Skipped returns the total number of elements dropped across all files
func (s *Summary) Skipped() int {
	return s.Malformed + s.Missing
}
