// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package confirm runs keyword-layer candidates through an optional
// inference adapter and records the verdicts.
package confirm

import (
	"context"
	"fmt"
	"time"

	"sentinel-scan/internal/detector"
)

// Verdict is the adapter's decision on one candidate
type Verdict string

const (
	VerdictConfirm    Verdict = "confirm"
	VerdictReject     Verdict = "reject"
	VerdictReclassify Verdict = "reclassify"
)

// Window is the sanitized conversation context passed to an adapter
type Window = detector.Window

// Outcome is what an adapter returns for one candidate. Category and Tier
// are only read for VerdictReclassify.
type Outcome struct {
	Verdict      Verdict
	Category     string
	Tier         detector.Tier
	Confidence   float64
	ModelVersion string
	Summary      string
}

// Adapter is a local inference capability. Implementations must be safe
// for concurrent use.
type Adapter interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Analyze(ctx context.Context, ev detector.FlaggedEvent, window Window) (Outcome, error)
}

// AdapterUnavailableError reports an adapter that cannot serve requests
type AdapterUnavailableError struct {
	Adapter string
	Cause   error
}

func (e *AdapterUnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("inference adapter %s unavailable", e.Adapter)
	}
	return fmt.Sprintf("inference adapter %s unavailable: %v", e.Adapter, e.Cause)
}

func (e *AdapterUnavailableError) Unwrap() error {
	return e.Cause
}

// AdapterTimeoutError reports a call that exceeded its per-event deadline
type AdapterTimeoutError struct {
	Adapter string
	Timeout time.Duration
	Cause   error
}

func (e *AdapterTimeoutError) Error() string {
	return fmt.Sprintf("inference adapter %s timed out after %s", e.Adapter, e.Timeout)
}

func (e *AdapterTimeoutError) Unwrap() error {
	return e.Cause
}

// toConfirmation maps an outcome onto the event's confirmation record
func toConfirmation(ev detector.FlaggedEvent, out Outcome) (detector.Confirmation, error) {
	c := detector.Confirmation{
		Confidence:   out.Confidence,
		ModelVersion: out.ModelVersion,
		Summary:      out.Summary,
	}
	switch out.Verdict {
	case VerdictConfirm:
		c.Status = detector.StatusConfirmed
	case VerdictReject:
		c.Status = detector.StatusRejected
	case VerdictReclassify:
		c.Status = detector.StatusConfirmed
		if out.Category != "" && out.Category != ev.Category {
			c.Category = out.Category
		}
		if out.Tier != detector.TierNone && out.Tier != ev.Tier {
			c.Tier = out.Tier
		}
	default:
		return detector.Confirmation{}, fmt.Errorf("unknown verdict %q", out.Verdict)
	}
	return c, nil
}
