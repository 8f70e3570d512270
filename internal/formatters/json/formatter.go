// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package json

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"sentinel-scan/internal/formatters"
	"sentinel-scan/internal/formatters/shared"
	"sentinel-scan/internal/ledger"
	"sentinel-scan/internal/pipeline"
)

// SignatureAlgorithm names the signature scheme of signed reports
const SignatureAlgorithm = "HMAC-SHA256"

// ErrUnsigned is returned by VerifyReport for output without a signature
var ErrUnsigned = errors.New("report is not signed")

// Formatter implements JSON output formatting
type Formatter struct{}

// SignedReport wraps a report with its signature. The signature covers the
// compact encoding of Report.
type SignedReport struct {
	Report    json.RawMessage `json:"report"`
	Algorithm string          `json:"algorithm"`
	Signature string          `json:"signature"`
}

// NewFormatter creates a new JSON formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

func (f *Formatter) Name() string {
	return "json"
}

func (f *Formatter) Description() string {
	return "Structured JSON report with run ledger, summary and risk profiles"
}

func (f *Formatter) FileExtension() string {
	return ".json"
}

// Format renders the report. With a signing secret the report is wrapped
// in a SignedReport.
func (f *Formatter) Format(result *pipeline.Result, options formatters.FormatterOptions) (string, error) {
	if result == nil {
		return "", errors.New("no result to format")
	}
	report := shared.ConvertResult(result, options)

	if options.SigningSecret == "" {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return "", fmt.Errorf("error formatting JSON: %w", err)
		}
		return string(out), nil
	}

	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("error formatting JSON: %w", err)
	}
	out, err := json.MarshalIndent(SignedReport{
		Report:    body,
		Algorithm: SignatureAlgorithm,
		Signature: ledger.Sign(body, options.SigningSecret),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error formatting JSON: %w", err)
	}
	return string(out), nil
}

// VerifyReport checks the signature of output produced with a signing
// secret and returns the decoded report
func VerifyReport(data []byte, secret string) (*shared.Report, error) {
	var signed SignedReport
	if err := json.Unmarshal(data, &signed); err != nil {
		return nil, fmt.Errorf("parse signed report: %w", err)
	}
	if signed.Signature == "" || len(signed.Report) == 0 {
		return nil, ErrUnsigned
	}
	if signed.Algorithm != SignatureAlgorithm {
		return nil, fmt.Errorf("unsupported signature algorithm %q", signed.Algorithm)
	}

	var body bytes.Buffer
	if err := json.Compact(&body, signed.Report); err != nil {
		return nil, fmt.Errorf("parse report body: %w", err)
	}
	if !ledger.VerifySignature(body.Bytes(), signed.Signature, secret) {
		return nil, errors.New("report signature does not match")
	}

	var report shared.Report
	if err := json.Unmarshal(body.Bytes(), &report); err != nil {
		return nil, fmt.Errorf("parse report body: %w", err)
	}
	return &report, nil
}

// Register the formatter during package initialization
func init() {
	formatters.Register(NewFormatter())
}
