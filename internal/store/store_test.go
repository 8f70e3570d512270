// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/ledger"
	"sentinel-scan/internal/patterns"
	"sentinel-scan/internal/record"
	"sentinel-scan/internal/risk"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.db")
	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func fixture() ([]record.Record, []detector.FlaggedEvent) {
	msg := record.Record{
		Kind: record.KindMessage, Channel: record.ChannelSMS, Direction: record.DirectionReceived,
		Counterparty: "+15551234567", ContactName: "Sam", TimestampMs: 1_700_000_000_000,
		Body: "you will regret this", Source: record.Source{File: "sms-1.xml", Ordinal: 3},
	}
	msg.ID = record.DeriveID(msg)
	call := record.Record{
		Kind: record.KindCall, Channel: record.ChannelCall, Direction: record.DirectionReceived, RawType: "Missed",
		Counterparty: "+15551234567", TimestampMs: 1_700_000_100_000, DurationSec: 0,
		Source: record.Source{File: "calls-1.xml", Ordinal: 1},
	}
	call.ID = record.DeriveID(call)
	ev := detector.NewEvent(msg, "THREAT", detector.TierMedium, detector.Span{Term: "regret", Start: 9, End: 15}, "builtin")
	return []record.Record{msg, call}, []detector.FlaggedEvent{ev}
}

func TestOpen_SchemaVersion(t *testing.T) {
	s, path := openTemp(t)
	var v int
	require.NoError(t, s.db.Get(&v, `SELECT version FROM schema_info`))
	assert.Equal(t, SchemaVersion, v)

	// reopening keeps a single version row
	require.NoError(t, s.Close())
	s2, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	var rows int
	require.NoError(t, s2.db.Get(&rows, `SELECT COUNT(*) FROM schema_info`))
	assert.Equal(t, 1, rows)

	_, err = s2.db.Exec(`UPDATE schema_info SET version = ?`, SchemaVersion+1)
	require.NoError(t, err)
	require.NoError(t, s2.Close())

	_, err = Open(context.Background(), path, nil)
	var verr *SchemaVersionError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, SchemaVersion+1, verr.Found)
}

func TestSaveRecords_Idempotent(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	records, events := fixture()

	ws, err := s.SaveRecords(ctx, records, events)
	require.NoError(t, err)
	assert.Equal(t, WriteStats{Messages: 1, Calls: 1, Events: 1}, ws)

	ws, err = s.SaveRecords(ctx, records, events)
	require.NoError(t, err)
	assert.Equal(t, WriteStats{}, ws)

	m, c, e, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1}, []int{m, c, e})

	stored, err := s.FlaggedEvents(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, events[0], stored[0])
}

func runFor(t *testing.T, events []detector.FlaggedEvent, model string) ledger.AnalysisRun {
	t.Helper()
	l := ledger.Begin([]byte("patterns:\n  segments: 3\n"), "builtin")
	l.SetAdapterModel(model)
	_, err := l.SealFlagged(events)
	require.NoError(t, err)
	return l.Finish()
}

func TestSaveRun_EventOutcomesPerRun(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	records, events := fixture()
	_, err := s.SaveRecords(ctx, records, events)
	require.NoError(t, err)

	first := append([]detector.FlaggedEvent(nil), events...)
	require.NoError(t, first[0].Resolve(detector.Confirmation{
		Status: detector.StatusConfirmed, Confidence: 0.75, ModelVersion: "llama3:8b",
		Category: "MANIPULATION", Tier: detector.TierHigh, Summary: "pressure",
	}))
	runA := runFor(t, first, "llama3:8b")
	require.NoError(t, s.SaveRun(ctx, runA, nil, first))

	// a later run over the same records falls back without touching run A
	second := append([]detector.FlaggedEvent(nil), events...)
	require.NoError(t, second[0].Fallback("adapter unavailable"))
	runB := runFor(t, second, "")
	require.NotEqual(t, runA.RunID, runB.RunID)
	require.NoError(t, s.SaveRun(ctx, runB, nil, second))

	gotA, err := s.RunEvents(ctx, runA.RunID)
	require.NoError(t, err)
	require.Len(t, gotA, 1)
	assert.Equal(t, first[0], gotA[0])
	assert.Equal(t, detector.ModeAI, gotA[0].Mode)
	assert.Equal(t, "llama3:8b", gotA[0].Confirmation.ModelVersion)
	assert.Equal(t, detector.TierMedium, gotA[0].Tier)

	gotB, err := s.RunEvents(ctx, runB.RunID)
	require.NoError(t, err)
	require.Len(t, gotB, 1)
	assert.Equal(t, detector.ModeAIFallback, gotB[0].Mode)
	assert.Equal(t, "adapter unavailable", gotB[0].Confirmation.Summary)

	require.NoError(t, ledger.Verify(runA, gotA))
	require.NoError(t, ledger.Verify(runB, gotB))

	// the keyword layer is shared and unchanged
	stored, err := s.FlaggedEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, events, stored)

	none, err := s.RunEvents(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaveRun_EventMustBeStored(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	_, events := fixture()
	run := runFor(t, events, "")

	require.Error(t, s.SaveRun(ctx, run, nil, events))
	_, err := s.Run(ctx, run.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound, "run row rolls back with its events")
}

const schemaV1Events = `
CREATE TABLE IF NOT EXISTS schema_info (version INTEGER NOT NULL);
INSERT INTO schema_info (version) VALUES (1);
CREATE TABLE flagged_events (
	id                 TEXT PRIMARY KEY,
	record_id          TEXT NOT NULL,
	counterparty       TEXT NOT NULL,
	direction          TEXT NOT NULL,
	timestamp_ms       INTEGER NOT NULL,
	category           TEXT NOT NULL,
	tier               INTEGER NOT NULL,
	span_term          TEXT NOT NULL,
	span_start         INTEGER NOT NULL,
	span_end           INTEGER NOT NULL,
	dictionary_version TEXT NOT NULL,
	supportive         INTEGER NOT NULL DEFAULT 0,
	mode               TEXT NOT NULL,
	status             TEXT NOT NULL,
	confidence         REAL NOT NULL DEFAULT 0,
	model_version      TEXT NOT NULL DEFAULT '',
	confirmed_category TEXT NOT NULL DEFAULT '',
	confirmed_tier     INTEGER NOT NULL DEFAULT 0,
	summary            TEXT NOT NULL DEFAULT ''
);
INSERT INTO flagged_events VALUES
	('ev1', 'rec1', '+15551234567', 'received', 5, 'THREAT', 2, 'regret', 9, 15, 'builtin', 0,
	 'AI', 'confirmed', 0.9, 'llama3:8b', '', 0, '');
`

func TestOpen_UpgradesVersion1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")
	db, err := sqlx.Open("sqlite", dsn(path))
	require.NoError(t, err)
	_, err = db.Exec(schemaV1Events)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	defer s.Close()

	var v int
	require.NoError(t, s.db.Get(&v, `SELECT version FROM schema_info`))
	assert.Equal(t, SchemaVersion, v)

	stored, err := s.FlaggedEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "ev1", stored[0].ID)
	assert.Equal(t, detector.ModeKeyword, stored[0].Mode)

	records, events := fixture()
	_, err = s.SaveRecords(context.Background(), records, events)
	require.NoError(t, err, "keyword-only inserts work after the upgrade")
}

func TestSaveRun_RoundTrip(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	records, events := fixture()
	_, err := s.SaveRecords(ctx, records, events)
	require.NoError(t, err)

	l := ledger.Begin([]byte("patterns:\n  segments: 3\n"), "builtin")
	l.RecordInput(ledger.InputFile{Path: "sms-1.xml", SHA256: "abc", Bytes: 10})
	_, err = l.SealFlagged(events)
	require.NoError(t, err)
	run := l.Finish()

	profiles := []risk.RiskProfile{
		{
			ContactID: "+15551234567", ContactName: "Sam", Score: 42.5, Label: risk.LabelHigh,
			Breakdown: []risk.Component{{Signal: patterns.SignalTrajectory, Weight: 0.35, Score: 1, Contribution: 35, Evidence: []string{events[0].ID}, Present: true}},
			Messages:  1, Calls: 1, Flags: 1, Medium: 1, SeverityScore: 100,
			Categories: map[string]int{"THREAT": 1}, EscalationTrend: risk.TrendUnknown,
			RelationshipTags: []string{"co-parent"}, FirstContactMs: 1, LastContactMs: 2,
		},
		{ContactID: "acme", Score: 0, Label: risk.LabelLow, Categories: map[string]int{}, EscalationTrend: risk.TrendStable},
	}
	require.NoError(t, s.SaveRun(ctx, run, profiles, events))

	got, err := s.Run(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, run.Inputs, got.Inputs)
	assert.Equal(t, run.Components, got.Components)
	assert.Equal(t, run.FlaggedDigest, got.FlaggedDigest)
	assert.Equal(t, run.ConfigSnapshot, got.ConfigSnapshot)
	require.NoError(t, ledger.Verify(got, events))

	latest, err := s.LatestRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, latest)

	loaded, err := s.Profiles(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, profiles[0].Breakdown, loaded[0].Breakdown)
	assert.Equal(t, profiles[0].RelationshipTags, loaded[0].RelationshipTags)
	assert.Equal(t, "acme", loaded[1].ContactID)

	// the run row and profiles commit together
	err = s.SaveRun(ctx, run, profiles, events)
	require.Error(t, err)
	loaded, err = s.Profiles(ctx, run.RunID)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	_, err = s.Run(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.LatestRunID(context.Background())
	assert.ErrorIs(t, err, ErrRunNotFound)
}
