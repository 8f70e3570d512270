// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sentinel-scan/internal/config"
	"sentinel-scan/internal/confirm"
	"sentinel-scan/internal/dedup"
	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/keyword"
	"sentinel-scan/internal/ledger"
	"sentinel-scan/internal/observability"
	"sentinel-scan/internal/parallel"
	"sentinel-scan/internal/patterns"
	"sentinel-scan/internal/record"
	"sentinel-scan/internal/risk"
	"sentinel-scan/internal/store"
)

// RunConfig holds everything one run needs. Adapter may be nil for a
// keyword-only run.
type RunConfig struct {
	Config     *config.Config
	Dictionary *keyword.Dictionary
	Adapter    confirm.Adapter
	Store      *store.Store
	Logger     *zap.Logger
	Observer   *observability.StandardObserver
	Progress   parallel.ProgressCallback
}

// Result holds the outputs of a completed run
type Result struct {
	Run      ledger.AnalysisRun
	Profiles []risk.RiskProfile
	Events   []detector.FlaggedEvent
	Signals  map[string][]patterns.PatternSignal
	Summary  Summary
}

// Run executes the pipeline over the configured input directory. Only a
// bad configuration, a store failure or cancellation aborts it; per-file
// and per-record problems are counted in the summary.
//
// Records and keyword events are committed before confirmation starts,
// confirmation outcomes in a second transaction, and the run row with its
// profiles last, so an aborted run leaves no run row without profiles.
func Run(ctx context.Context, rc RunConfig) (*Result, error) {
	cfg := rc.Config
	if cfg == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if rc.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := observability.OrNop(rc.Logger)
	dict := rc.Dictionary
	if dict == nil {
		dict = keyword.DefaultDictionary()
	}

	files, err := DiscoverInputs(cfg.Input.Dir, cfg.Input.Patterns)
	if err != nil {
		return nil, err
	}

	snapshot, err := cfg.Snapshot()
	if err != nil {
		return nil, err
	}
	led := ledger.Begin(snapshot, dict.Version())
	logger.Info("run started",
		zap.String("run_id", led.RunID()),
		zap.Int("files", len(files)),
		zap.String("dictionary", dict.Version()),
		zap.Bool("confirmation", rc.Adapter != nil))

	for _, f := range files {
		in, err := ledger.HashFile(f)
		if err != nil {
			logger.Warn("input not hashed", zap.String("file", f), zap.Error(err))
			continue
		}
		led.RecordInput(in)
	}

	res := &Result{}
	sum := &res.Summary

	// decode + normalize
	processor := parallel.NewParallelProcessor(cfg.Parallel.Workers, rc.Observer)
	fileResults, _, err := processor.ProcessFiles(ctx, files, &parallel.JobConfig{
		Decoder:   cfg.DecoderOptions(),
		Normalize: cfg.NormalizeOptions(),
		Filter:    cfg.Filter(),
		Logger:    logger,
	}, rc.Progress)
	if err != nil {
		return nil, err
	}

	var merged []record.Record
	for _, fr := range fileResults {
		sum.addFile(fr)
		if fr.Error != nil {
			logger.Warn("file decode failed", zap.String("file", fr.FilePath), zap.Error(fr.Error))
		}
		for _, me := range fr.Decode.Errors {
			logger.Debug("malformed element skipped", zap.String("file", me.File), zap.Int("ordinal", me.Ordinal), zap.Error(me.Cause))
		}
		merged = append(merged, fr.Records...)
	}
	record.SortByTime(merged)

	records, dst, err := deduplicate(cfg, merged, logger)
	if err != nil {
		return nil, err
	}
	sum.addDedup(dst)
	for _, r := range records {
		if r.IsMessage() {
			sum.Messages++
		} else {
			sum.Calls++
		}
	}

	// keyword layer
	events := keyword.NewDetector(dict).DetectAll(records)
	sum.addEvents(events)

	stored, err := rc.Store.SaveRecords(ctx, records, events)
	if err != nil {
		return nil, err
	}
	sum.Stored = stored
	if _, err := led.SealFlagged(events); err != nil {
		return nil, err
	}

	// confirmation layer
	sum.Mode = string(detector.ModeKeyword)
	if rc.Adapter != nil && cfg.Confirmation.Enabled {
		confirmer := confirm.NewConfirmer(rc.Adapter, cfg.ConfirmOptions(), logger)
		stats, err := confirmer.Confirm(ctx, events, cfg.ContextExtractor(records))
		sum.Confirmation = stats
		if err != nil {
			return nil, err
		}
		if stats.ModelVersion != "" {
			led.SetAdapterModel(stats.ModelVersion)
		}
		sum.Mode = string(detector.ModeAI)
		if stats.Fallback > 0 {
			sum.Mode = string(detector.ModeAIFallback)
		}
	}

	// aggregation
	contacts := patterns.GroupContacts(records, events)
	sum.Contacts = len(contacts)
	signals, err := patterns.NewAggregator(cfg.Patterns).AggregateAll(ctx, contacts, cfg.Parallel.Workers)
	if err != nil {
		return nil, err
	}

	builder := risk.NewBuilder(cfg.RiskOptions())
	profiles := make([]risk.RiskProfile, 0, len(contacts))
	for _, c := range contacts {
		profiles = append(profiles, builder.Build(c, signals[c.ID]))
	}
	risk.SortProfiles(profiles)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	run := led.Finish()
	if err := rc.Store.SaveRun(ctx, run, profiles, events); err != nil {
		return nil, err
	}

	logger.Info("run finished",
		zap.String("run_id", run.RunID),
		zap.Int("records", sum.Records),
		zap.Int("flagged", sum.Flagged),
		zap.Int("contacts", sum.Contacts),
		zap.Int("skipped", sum.Skipped()),
		zap.Int("decode_errors", sum.DecodeErrors),
		zap.String("mode", sum.Mode))

	res.Run = run
	res.Profiles = profiles
	res.Events = events
	res.Signals = signals
	return res, nil
}

// deduplicate folds the time-ordered stream through the configured key
// index and returns the retained records in time order
func deduplicate(cfg *config.Config, merged []record.Record, logger *zap.Logger) ([]record.Record, dedup.Stats, error) {
	var index dedup.KeyIndex
	if cfg.Dedup.UseDiskIndex {
		bi, err := dedup.OpenBadgerIndex(cfg.Output.IndexDir)
		if err != nil {
			return nil, dedup.Stats{}, err
		}
		index = bi
	}

	d := dedup.New(index, logger)
	defer d.Close()
	for _, r := range merged {
		if _, _, err := d.Add(r); err != nil {
			return nil, d.Stats(), err
		}
	}

	records := d.Records()
	record.SortByTime(records)
	st := d.Stats()
	logger.Debug("dedup finished",
		zap.Int("input", st.Input),
		zap.Int("kept", st.Kept),
		zap.Int("duplicates", st.Duplicates),
		zap.Int("conflicts", st.Conflicts))
	return records, st, nil
}
