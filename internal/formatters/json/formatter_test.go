// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package json

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/formatters"
	"sentinel-scan/internal/formatters/shared"
	"sentinel-scan/internal/ledger"
	"sentinel-scan/internal/pipeline"
	"sentinel-scan/internal/risk"
)

func sampleResult() *pipeline.Result {
	return &pipeline.Result{
		Run: ledger.AnalysisRun{
			RunID:             "01HZX3J5Q8Y6V0T1P2R3S4T5U6",
			DictionaryVersion: "builtin-2024.2",
			FlaggedDigest:     "abc123",
			FlaggedCount:      1,
		},
		Profiles: []risk.RiskProfile{{
			ContactID: "+15550102000",
			Score:     42.5,
			Label:     risk.LabelMedium,
			Messages:  8,
			Flags:     1,
		}},
		Events: []detector.FlaggedEvent{{
			ID:           "e1",
			Counterparty: "+15550102000",
			Category:     "INSULT",
			Tier:         detector.TierHigh,
			Mode:         detector.ModeKeyword,
			Confirmation: detector.Confirmation{Status: detector.StatusUnconfirmed},
		}},
		Summary: pipeline.Summary{Records: 10, Flagged: 1, Mode: string(detector.ModeKeyword)},
	}
}

func TestFormatter_Metadata(t *testing.T) {
	f := NewFormatter()
	assert.Equal(t, "json", f.Name())
	assert.Equal(t, ".json", f.FileExtension())
	assert.NotEmpty(t, f.Description())

	registered, ok := formatters.Get("json")
	require.True(t, ok)
	assert.Equal(t, "json", registered.Name())
}

func TestFormatter_Unsigned(t *testing.T) {
	out, err := NewFormatter().Format(sampleResult(), formatters.FormatterOptions{})
	require.NoError(t, err)

	var report shared.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, shared.ReportVersion, report.Version)
	assert.Equal(t, "01HZX3J5Q8Y6V0T1P2R3S4T5U6", report.Run.RunID)
	assert.Equal(t, 10, report.Summary.Records)
	require.Len(t, report.Profiles, 1)
	assert.Equal(t, risk.LabelMedium, report.Profiles[0].Label)
	assert.Empty(t, report.Events)

	_, err = VerifyReport([]byte(out), "secret")
	assert.ErrorIs(t, err, ErrUnsigned)
}

func TestFormatter_Verbose(t *testing.T) {
	out, err := NewFormatter().Format(sampleResult(), formatters.FormatterOptions{Verbose: true})
	require.NoError(t, err)

	var report shared.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Events, 1)
	assert.Equal(t, "high", report.Events[0].Tier)
}

func TestFormatter_SignAndVerify(t *testing.T) {
	out, err := NewFormatter().Format(sampleResult(), formatters.FormatterOptions{SigningSecret: "secret"})
	require.NoError(t, err)

	var signed SignedReport
	require.NoError(t, json.Unmarshal([]byte(out), &signed))
	assert.Equal(t, SignatureAlgorithm, signed.Algorithm)
	assert.NotEmpty(t, signed.Signature)

	report, err := VerifyReport([]byte(out), "secret")
	require.NoError(t, err)
	assert.Equal(t, "abc123", report.Run.FlaggedDigest)

	_, err = VerifyReport([]byte(out), "other")
	assert.Error(t, err)

	tampered := strings.Replace(out, "abc123", "abc124", 1)
	require.NotEqual(t, out, tampered)
	_, err = VerifyReport([]byte(tampered), "secret")
	assert.Error(t, err)
}

func TestFormatter_Errors(t *testing.T) {
	_, err := NewFormatter().Format(nil, formatters.FormatterOptions{})
	assert.Error(t, err)

	_, err = VerifyReport([]byte("not json"), "secret")
	assert.Error(t, err)

	_, err = formatters.Export("xml", sampleResult(), formatters.FormatterOptions{})
	assert.ErrorContains(t, err, "unsupported format")
}
