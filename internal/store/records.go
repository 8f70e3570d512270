// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/record"
)

type messageRow struct {
	ID            string `db:"id"`
	TimestampMs   int64  `db:"timestamp_ms"`
	Counterparty  string `db:"counterparty"`
	ContactName   string `db:"contact_name"`
	Direction     string `db:"direction"`
	Channel       string `db:"channel"`
	RawType       string `db:"raw_type"`
	Body          string `db:"body"`
	SourceFile    string `db:"source_file"`
	SourceOrdinal int    `db:"source_ordinal"`
}

type callRow struct {
	ID            string `db:"id"`
	TimestampMs   int64  `db:"timestamp_ms"`
	Counterparty  string `db:"counterparty"`
	ContactName   string `db:"contact_name"`
	Direction     string `db:"direction"`
	RawType       string `db:"raw_type"`
	DurationSec   int64  `db:"duration_sec"`
	SourceFile    string `db:"source_file"`
	SourceOrdinal int    `db:"source_ordinal"`
}

type eventRow struct {
	ID                string  `db:"id"`
	RecordID          string  `db:"record_id"`
	Counterparty      string  `db:"counterparty"`
	Direction         string  `db:"direction"`
	TimestampMs       int64   `db:"timestamp_ms"`
	Category          string  `db:"category"`
	Tier              int     `db:"tier"`
	SpanTerm          string  `db:"span_term"`
	SpanStart         int     `db:"span_start"`
	SpanEnd           int     `db:"span_end"`
	DictionaryVersion string  `db:"dictionary_version"`
	Supportive        bool    `db:"supportive"`
}

// runEventRow is one run's outcome for a keyword-layer event
type runEventRow struct {
	RunID             string  `db:"run_id"`
	EventID           string  `db:"event_id"`
	Mode              string  `db:"mode"`
	Status            string  `db:"status"`
	Confidence        float64 `db:"confidence"`
	ModelVersion      string  `db:"model_version"`
	ConfirmedCategory string  `db:"confirmed_category"`
	ConfirmedTier     int     `db:"confirmed_tier"`
	Summary           string  `db:"summary"`
}

// joinedEventRow is a run_events row joined with its flagged_events row
type joinedEventRow struct {
	eventRow
	runEventRow
}

const eventColumns = `f.id, f.record_id, f.counterparty, f.direction, f.timestamp_ms, f.category, f.tier,
	f.span_term, f.span_start, f.span_end, f.dictionary_version, f.supportive`

const insertMessage = `INSERT OR IGNORE INTO messages
	(id, timestamp_ms, counterparty, contact_name, direction, channel, raw_type, body, source_file, source_ordinal)
	VALUES (:id, :timestamp_ms, :counterparty, :contact_name, :direction, :channel, :raw_type, :body, :source_file, :source_ordinal)`

const insertCall = `INSERT OR IGNORE INTO calls
	(id, timestamp_ms, counterparty, contact_name, direction, raw_type, duration_sec, source_file, source_ordinal)
	VALUES (:id, :timestamp_ms, :counterparty, :contact_name, :direction, :raw_type, :duration_sec, :source_file, :source_ordinal)`

const insertEvent = `INSERT OR IGNORE INTO flagged_events
	(id, record_id, counterparty, direction, timestamp_ms, category, tier, span_term, span_start, span_end,
	 dictionary_version, supportive)
	VALUES (:id, :record_id, :counterparty, :direction, :timestamp_ms, :category, :tier, :span_term, :span_start, :span_end,
	 :dictionary_version, :supportive)`

const insertRunEvent = `INSERT INTO run_events
	(run_id, event_id, mode, status, confidence, model_version, confirmed_category, confirmed_tier, summary)
	VALUES (:run_id, :event_id, :mode, :status, :confidence, :model_version, :confirmed_category, :confirmed_tier, :summary)`

func toEventRow(e detector.FlaggedEvent) eventRow {
	return eventRow{
		ID:                e.ID,
		RecordID:          e.RecordID,
		Counterparty:      e.Counterparty,
		Direction:         string(e.Direction),
		TimestampMs:       e.TimestampMs,
		Category:          e.Category,
		Tier:              int(e.Tier),
		SpanTerm:          e.Span.Term,
		SpanStart:         e.Span.Start,
		SpanEnd:           e.Span.End,
		DictionaryVersion: e.DictionaryVersion,
		Supportive:        e.Supportive,
	}
}

func toRunEventRow(runID string, e detector.FlaggedEvent) runEventRow {
	return runEventRow{
		RunID:             runID,
		EventID:           e.ID,
		Mode:              string(e.Mode),
		Status:            string(e.Confirmation.Status),
		Confidence:        e.Confirmation.Confidence,
		ModelVersion:      e.Confirmation.ModelVersion,
		ConfirmedCategory: e.Confirmation.Category,
		ConfirmedTier:     int(e.Confirmation.Tier),
		Summary:           e.Confirmation.Summary,
	}
}

func (r eventRow) event() detector.FlaggedEvent {
	return detector.FlaggedEvent{
		ID:                r.ID,
		RecordID:          r.RecordID,
		Counterparty:      r.Counterparty,
		Direction:         record.Direction(r.Direction),
		TimestampMs:       r.TimestampMs,
		Category:          r.Category,
		Tier:              detector.Tier(r.Tier),
		Span:              detector.Span{Term: r.SpanTerm, Start: r.SpanStart, End: r.SpanEnd},
		DictionaryVersion: r.DictionaryVersion,
		Supportive:        r.Supportive,
		Mode:              detector.ModeKeyword,
		Confirmation:      detector.Confirmation{Status: detector.StatusUnconfirmed},
	}
}

func (r joinedEventRow) event() detector.FlaggedEvent {
	e := r.eventRow.event()
	e.Mode = detector.Mode(r.Mode)
	e.Confirmation = detector.Confirmation{
		Status:       detector.Status(r.Status),
		Confidence:   r.Confidence,
		ModelVersion: r.ModelVersion,
		Category:     r.ConfirmedCategory,
		Tier:         detector.Tier(r.ConfirmedTier),
		Summary:      r.Summary,
	}
	return e
}

// WriteStats counts rows actually inserted; rows already present from an
// earlier run are ignored
type WriteStats struct {
	Messages int
	Calls    int
	Events   int
}

// SaveRecords writes deduplicated records and their keyword-layer events in
// one transaction. Existing IDs are left untouched, so rerunning after a
// cancelled run is idempotent.
func (s *Store) SaveRecords(ctx context.Context, records []record.Record, events []detector.FlaggedEvent) (WriteStats, error) {
	var ws WriteStats
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		msgStmt, err := tx.PrepareNamedContext(ctx, insertMessage)
		if err != nil {
			return fmt.Errorf("prepare messages: %w", err)
		}
		defer msgStmt.Close()
		callStmt, err := tx.PrepareNamedContext(ctx, insertCall)
		if err != nil {
			return fmt.Errorf("prepare calls: %w", err)
		}
		defer callStmt.Close()
		eventStmt, err := tx.PrepareNamedContext(ctx, insertEvent)
		if err != nil {
			return fmt.Errorf("prepare flagged events: %w", err)
		}
		defer eventStmt.Close()

		for _, r := range records {
			var stmt *sqlx.NamedStmt
			var arg interface{}
			var counter *int
			if r.IsMessage() {
				stmt, counter = msgStmt, &ws.Messages
				arg = messageRow{
					ID: r.ID, TimestampMs: r.TimestampMs, Counterparty: r.Counterparty, ContactName: r.ContactName,
					Direction: string(r.Direction), Channel: string(r.Channel), RawType: r.RawType, Body: r.Body,
					SourceFile: r.Source.File, SourceOrdinal: r.Source.Ordinal,
				}
			} else {
				stmt, counter = callStmt, &ws.Calls
				arg = callRow{
					ID: r.ID, TimestampMs: r.TimestampMs, Counterparty: r.Counterparty, ContactName: r.ContactName,
					Direction: string(r.Direction), RawType: r.RawType, DurationSec: r.DurationSec,
					SourceFile: r.Source.File, SourceOrdinal: r.Source.Ordinal,
				}
			}
			n, err := execCount(ctx, stmt, arg)
			if err != nil {
				return fmt.Errorf("insert record %s: %w", r.ID, err)
			}
			*counter += n
		}

		for _, e := range events {
			n, err := execCount(ctx, eventStmt, toEventRow(e))
			if err != nil {
				return fmt.Errorf("insert flagged event %s: %w", e.ID, err)
			}
			ws.Events += n
		}
		return nil
	})
	if err != nil {
		return WriteStats{}, err
	}
	s.logger.Debug("records committed",
		zap.Int("messages", ws.Messages), zap.Int("calls", ws.Calls), zap.Int("events", ws.Events))
	return ws, nil
}

func execCount(ctx context.Context, stmt *sqlx.NamedStmt, arg interface{}) (int, error) {
	res, err := stmt.ExecContext(ctx, arg)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// FlaggedEvents loads the keyword layer of every stored event ordered by
// time then ID. Events come back in KEYWORD mode; see RunEvents for a run's
// confirmation outcomes.
func (s *Store) FlaggedEvents(ctx context.Context) ([]detector.FlaggedEvent, error) {
	var rows []eventRow
	q := `SELECT ` + eventColumns + ` FROM flagged_events f ORDER BY f.timestamp_ms, f.id`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("query flagged events: %w", err)
	}
	out := make([]detector.FlaggedEvent, len(rows))
	for i, r := range rows {
		out[i] = r.event()
	}
	return out, nil
}

// RunEvents loads the events one run flagged, with that run's confirmation
// outcomes, ordered by time then ID
func (s *Store) RunEvents(ctx context.Context, runID string) ([]detector.FlaggedEvent, error) {
	var rows []joinedEventRow
	q := `SELECT ` + eventColumns + `, r.run_id, r.event_id, r.mode, r.status, r.confidence, r.model_version,
		r.confirmed_category, r.confirmed_tier, r.summary
		FROM run_events r JOIN flagged_events f ON f.id = r.event_id
		WHERE r.run_id = ? ORDER BY f.timestamp_ms, f.id`
	if err := s.db.SelectContext(ctx, &rows, q, runID); err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	out := make([]detector.FlaggedEvent, len(rows))
	for i, r := range rows {
		out[i] = r.event()
	}
	return out, nil
}

// Counts returns the number of stored messages, calls and flagged events
func (s *Store) Counts(ctx context.Context) (messages, calls, events int, err error) {
	err = s.db.QueryRowxContext(ctx, `SELECT
		(SELECT COUNT(*) FROM messages),
		(SELECT COUNT(*) FROM calls),
		(SELECT COUNT(*) FROM flagged_events)`).Scan(&messages, &calls, &events)
	return messages, calls, events, err
}
