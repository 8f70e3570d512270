// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package ledger records what a run consumed and produced so the run can be
// reproduced and its keyword layer verified later.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/record"
	"sentinel-scan/internal/version"
)

// ErrDigestMismatch is returned by Verify when the recomputed keyword-layer
// digest differs from the recorded one
var ErrDigestMismatch = errors.New("flagged event digest mismatch")

// InputFile is one hashed input export
type InputFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// AnalysisRun is the reproducibility record of one run
type AnalysisRun struct {
	RunID             string            `json:"run_id"`
	StartedAt         time.Time         `json:"started_at"`
	FinishedAt        time.Time         `json:"finished_at"`
	ConfigSnapshot    string            `json:"config_snapshot"`
	ConfigHash        string            `json:"config_hash"`
	DictionaryVersion string            `json:"dictionary_version"`
	AdapterModel      string            `json:"adapter_model,omitempty"`
	Inputs            []InputFile       `json:"inputs"`
	FlaggedDigest     string            `json:"flagged_digest"`
	FlaggedCount      int               `json:"flagged_count"`
	Components        map[string]string `json:"components"`
}

// Ledger accumulates an AnalysisRun. It is safe for concurrent use.
type Ledger struct {
	mu  sync.Mutex
	run AnalysisRun
	now func() time.Time
}

// Begin opens a ledger for a new run
func Begin(cfgSnapshot []byte, dictVersion string) *Ledger {
	return begin(cfgSnapshot, dictVersion, time.Now)
}

func begin(cfgSnapshot []byte, dictVersion string, now func() time.Time) *Ledger {
	started := now().UTC()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(started.UnixNano())), 0)
	sum := sha256.Sum256(cfgSnapshot)
	return &Ledger{
		now: now,
		run: AnalysisRun{
			RunID:             ulid.MustNew(ulid.Timestamp(started), entropy).String(),
			StartedAt:         started,
			ConfigSnapshot:    string(cfgSnapshot),
			ConfigHash:        hex.EncodeToString(sum[:]),
			DictionaryVersion: dictVersion,
			Components:        version.Components(),
		},
	}
}

// RunID returns the run's ULID
func (l *Ledger) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.run.RunID
}

// HashFile streams a file through SHA-256
func HashFile(path string) (InputFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return InputFile{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return InputFile{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return InputFile{Path: path, SHA256: hex.EncodeToString(h.Sum(nil)), Bytes: n}, nil
}

// RecordInput adds a hashed input. Recording the same path twice keeps
// the latest hash.
func (l *Ledger) RecordInput(f InputFile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.run.Inputs {
		if l.run.Inputs[i].Path == f.Path {
			l.run.Inputs[i] = f
			return
		}
	}
	l.run.Inputs = append(l.run.Inputs, f)
}

// SetAdapterModel records the inference model that produced verdicts
func (l *Ledger) SetAdapterModel(model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.AdapterModel = model
}

// SealFlagged records the digest of the keyword-layer event set
func (l *Ledger) SealFlagged(events []detector.FlaggedEvent) (string, error) {
	digest, err := DigestFlagged(events)
	if err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.FlaggedDigest = digest
	l.run.FlaggedCount = len(events)
	return digest, nil
}

// Finish stamps the finish time and returns the completed run
func (l *Ledger) Finish() AnalysisRun {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.FinishedAt = l.now().UTC()
	sort.Slice(l.run.Inputs, func(i, j int) bool { return l.run.Inputs[i].Path < l.run.Inputs[j].Path })
	return l.snapshot()
}

// Run returns a copy of the run as recorded so far
func (l *Ledger) Run() AnalysisRun {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

func (l *Ledger) snapshot() AnalysisRun {
	run := l.run
	run.Inputs = append([]InputFile(nil), l.run.Inputs...)
	run.Components = make(map[string]string, len(l.run.Components))
	for k, v := range l.run.Components {
		run.Components[k] = v
	}
	return run
}

// keywordView is the part of an event the keyword layer alone decides.
// Confirmation fields are excluded so the digest is stable whether or not
// inference ran.
type keywordView struct {
	ID                string           `json:"id"`
	RecordID          string           `json:"record_id"`
	Counterparty      string           `json:"counterparty"`
	Direction         record.Direction `json:"direction"`
	TimestampMs       int64            `json:"timestamp_ms"`
	Category          string           `json:"category"`
	Tier              detector.Tier    `json:"tier"`
	Span              detector.Span    `json:"span"`
	DictionaryVersion string           `json:"dictionary_version"`
	Supportive        bool             `json:"supportive"`
}

// DigestFlagged returns the SHA-256 over canonical JSON lines of the
// keyword-layer fields, sorted by event ID
func DigestFlagged(events []detector.FlaggedEvent) (string, error) {
	views := make([]keywordView, len(events))
	for i, e := range events {
		views[i] = keywordView{
			ID:                e.ID,
			RecordID:          e.RecordID,
			Counterparty:      e.Counterparty,
			Direction:         e.Direction,
			TimestampMs:       e.TimestampMs,
			Category:          e.Category,
			Tier:              e.Tier,
			Span:              e.Span,
			DictionaryVersion: e.DictionaryVersion,
			Supportive:        e.Supportive,
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	h := sha256.New()
	for _, v := range views {
		line, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode event %s: %w", v.ID, err)
		}
		h.Write(line)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the keyword-layer digest for events and compares it
// with the run's record
func Verify(run AnalysisRun, events []detector.FlaggedEvent) error {
	digest, err := DigestFlagged(events)
	if err != nil {
		return err
	}
	if digest != run.FlaggedDigest {
		return fmt.Errorf("%w: run %s recorded %s, recomputed %s", ErrDigestMismatch, run.RunID, run.FlaggedDigest, digest)
	}
	return nil
}
