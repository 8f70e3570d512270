// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/ledger"
	"sentinel-scan/internal/risk"
)

// timeLayout has fixed width so started_at sorts as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned when a run ID is not in the store
var ErrRunNotFound = errors.New("run not found")

type runRow struct {
	RunID             string `db:"run_id"`
	StartedAt         string `db:"started_at"`
	FinishedAt        string `db:"finished_at"`
	DictionaryVersion string `db:"dictionary_version"`
	AdapterModel      string `db:"adapter_model"`
	ConfigSnapshot    string `db:"config_snapshot"`
	ConfigHash        string `db:"config_hash"`
	InputsJSON        string `db:"inputs_json"`
	FlaggedDigest     string `db:"flagged_digest"`
	FlaggedCount      int    `db:"flagged_count"`
	ComponentsJSON    string `db:"components_json"`
}

type profileRow struct {
	RunID           string  `db:"run_id"`
	ContactID       string  `db:"contact_id"`
	ContactName     string  `db:"contact_name"`
	Score           float64 `db:"score"`
	Label           string  `db:"label"`
	SeverityScore   float64 `db:"severity_score"`
	Messages        int     `db:"messages"`
	Calls           int     `db:"calls"`
	Flags           int     `db:"flags"`
	High            int     `db:"high"`
	Medium          int     `db:"medium"`
	Low             int     `db:"low"`
	EscalationTrend string  `db:"escalation_trend"`
	Escalating      bool    `db:"escalating"`
	FirstContactMs  int64   `db:"first_contact_ms"`
	LastContactMs   int64   `db:"last_contact_ms"`
	BreakdownJSON   string  `db:"breakdown_json"`
	CategoriesJSON  string  `db:"categories_json"`
	TagsJSON        string  `db:"tags_json"`
}

const insertRun = `INSERT INTO run_metadata
	(run_id, started_at, finished_at, dictionary_version, adapter_model, config_snapshot, config_hash,
	 inputs_json, flagged_digest, flagged_count, components_json)
	VALUES (:run_id, :started_at, :finished_at, :dictionary_version, :adapter_model, :config_snapshot, :config_hash,
	 :inputs_json, :flagged_digest, :flagged_count, :components_json)`

const insertProfile = `INSERT INTO risk_profiles
	(run_id, contact_id, contact_name, score, label, severity_score, messages, calls, flags, high, medium, low,
	 escalation_trend, escalating, first_contact_ms, last_contact_ms, breakdown_json, categories_json, tags_json)
	VALUES (:run_id, :contact_id, :contact_name, :score, :label, :severity_score, :messages, :calls, :flags, :high, :medium, :low,
	 :escalation_trend, :escalating, :first_contact_ms, :last_contact_ms, :breakdown_json, :categories_json, :tags_json)`

func marshalString(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SaveRun writes the run row, the run's event outcomes and its profiles in
// one transaction, so a run row never exists without them. The events'
// keyword layer must already be stored by SaveRecords.
func (s *Store) SaveRun(ctx context.Context, run ledger.AnalysisRun, profiles []risk.RiskProfile, events []detector.FlaggedEvent) error {
	inputs, err := marshalString(run.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	components, err := marshalString(run.Components)
	if err != nil {
		return fmt.Errorf("encode components: %w", err)
	}
	row := runRow{
		RunID:             run.RunID,
		StartedAt:         run.StartedAt.UTC().Format(timeLayout),
		FinishedAt:        run.FinishedAt.UTC().Format(timeLayout),
		DictionaryVersion: run.DictionaryVersion,
		AdapterModel:      run.AdapterModel,
		ConfigSnapshot:    run.ConfigSnapshot,
		ConfigHash:        run.ConfigHash,
		InputsJSON:        inputs,
		FlaggedDigest:     run.FlaggedDigest,
		FlaggedCount:      run.FlaggedCount,
		ComponentsJSON:    components,
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertRun, row); err != nil {
			return fmt.Errorf("insert run %s: %w", run.RunID, err)
		}

		eventStmt, err := tx.PrepareNamedContext(ctx, insertRunEvent)
		if err != nil {
			return fmt.Errorf("prepare run events: %w", err)
		}
		defer eventStmt.Close()
		for _, e := range events {
			if _, err := eventStmt.ExecContext(ctx, toRunEventRow(run.RunID, e)); err != nil {
				return fmt.Errorf("insert run event %s: %w", e.ID, err)
			}
		}

		stmt, err := tx.PrepareNamedContext(ctx, insertProfile)
		if err != nil {
			return fmt.Errorf("prepare profiles: %w", err)
		}
		defer stmt.Close()

		for _, p := range profiles {
			pr, err := toProfileRow(run.RunID, p)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, pr); err != nil {
				return fmt.Errorf("insert profile %s: %w", p.ContactID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("run committed", zap.String("run_id", run.RunID),
		zap.Int("events", len(events)), zap.Int("profiles", len(profiles)))
	return nil
}

func toProfileRow(runID string, p risk.RiskProfile) (profileRow, error) {
	breakdown, err := marshalString(p.Breakdown)
	if err != nil {
		return profileRow{}, fmt.Errorf("encode breakdown for %s: %w", p.ContactID, err)
	}
	categories, err := marshalString(p.Categories)
	if err != nil {
		return profileRow{}, fmt.Errorf("encode categories for %s: %w", p.ContactID, err)
	}
	tags, err := marshalString(p.RelationshipTags)
	if err != nil {
		return profileRow{}, fmt.Errorf("encode tags for %s: %w", p.ContactID, err)
	}
	return profileRow{
		RunID:           runID,
		ContactID:       p.ContactID,
		ContactName:     p.ContactName,
		Score:           p.Score,
		Label:           string(p.Label),
		SeverityScore:   p.SeverityScore,
		Messages:        p.Messages,
		Calls:           p.Calls,
		Flags:           p.Flags,
		High:            p.High,
		Medium:          p.Medium,
		Low:             p.Low,
		EscalationTrend: string(p.EscalationTrend),
		Escalating:      p.Escalating,
		FirstContactMs:  p.FirstContactMs,
		LastContactMs:   p.LastContactMs,
		BreakdownJSON:   breakdown,
		CategoriesJSON:  categories,
		TagsJSON:        tags,
	}, nil
}

// Run loads one run's metadata
func (s *Store) Run(ctx context.Context, runID string) (ledger.AnalysisRun, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM run_metadata WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.AnalysisRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return ledger.AnalysisRun{}, fmt.Errorf("query run: %w", err)
	}

	run := ledger.AnalysisRun{
		RunID:             row.RunID,
		DictionaryVersion: row.DictionaryVersion,
		AdapterModel:      row.AdapterModel,
		ConfigSnapshot:    row.ConfigSnapshot,
		ConfigHash:        row.ConfigHash,
		FlaggedDigest:     row.FlaggedDigest,
		FlaggedCount:      row.FlaggedCount,
	}
	if run.StartedAt, err = time.Parse(timeLayout, row.StartedAt); err != nil {
		return ledger.AnalysisRun{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, row.FinishedAt); err != nil {
		return ledger.AnalysisRun{}, fmt.Errorf("parse finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(row.InputsJSON), &run.Inputs); err != nil {
		return ledger.AnalysisRun{}, fmt.Errorf("decode inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(row.ComponentsJSON), &run.Components); err != nil {
		return ledger.AnalysisRun{}, fmt.Errorf("decode components: %w", err)
	}
	return run, nil
}

// Profiles loads a run's profiles in score order
func (s *Store) Profiles(ctx context.Context, runID string) ([]risk.RiskProfile, error) {
	var rows []profileRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM risk_profiles WHERE run_id = ? ORDER BY score DESC, contact_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}

	out := make([]risk.RiskProfile, 0, len(rows))
	for _, r := range rows {
		p := risk.RiskProfile{
			ContactID:       r.ContactID,
			ContactName:     r.ContactName,
			Score:           r.Score,
			Label:           risk.Label(r.Label),
			SeverityScore:   r.SeverityScore,
			Messages:        r.Messages,
			Calls:           r.Calls,
			Flags:           r.Flags,
			High:            r.High,
			Medium:          r.Medium,
			Low:             r.Low,
			EscalationTrend: risk.Trend(r.EscalationTrend),
			Escalating:      r.Escalating,
			FirstContactMs:  r.FirstContactMs,
			LastContactMs:   r.LastContactMs,
		}
		if err := json.Unmarshal([]byte(r.BreakdownJSON), &p.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown for %s: %w", r.ContactID, err)
		}
		if err := json.Unmarshal([]byte(r.CategoriesJSON), &p.Categories); err != nil {
			return nil, fmt.Errorf("decode categories for %s: %w", r.ContactID, err)
		}
		if err := json.Unmarshal([]byte(r.TagsJSON), &p.RelationshipTags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", r.ContactID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// LatestRunID returns the most recently started run, or ErrRunNotFound
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `SELECT run_id FROM run_metadata ORDER BY started_at DESC, run_id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	return id, err
}
