// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package text

import (
	"fmt"
	"path/filepath"
	"strings"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/formatters"
	"sentinel-scan/internal/formatters/shared"
	"sentinel-scan/internal/pipeline"
	"sentinel-scan/internal/risk"

	"github.com/fatih/color"
)

// Formatter implements text-based output formatting
type Formatter struct {
	colors map[string]*color.Color
}

// NewFormatter creates a new text formatter
func NewFormatter() *Formatter {
	return &Formatter{
		colors: map[string]*color.Color{
			"green":   color.New(color.FgGreen),
			"yellow":  color.New(color.FgYellow),
			"red":     color.New(color.FgRed),
			"redbold": color.New(color.FgRed, color.Bold),
			"cyan":    color.New(color.FgCyan),
			"magenta": color.New(color.FgMagenta),
			"blue":    color.New(color.FgBlue),
			"white":   color.New(color.FgWhite, color.Bold),
		},
	}
}

func (f *Formatter) Name() string {
	return "text"
}

func (f *Formatter) Description() string {
	return "Human-readable risk summary with colors and tables"
}

func (f *Formatter) FileExtension() string {
	return ".txt"
}

func (f *Formatter) Format(result *pipeline.Result, options formatters.FormatterOptions) (string, error) {
	if result == nil {
		return "", fmt.Errorf("no result to format")
	}
	for _, c := range f.colors {
		if options.NoColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}

	var builder strings.Builder
	f.appendRunHeader(&builder, result)

	if len(result.Profiles) == 0 {
		builder.WriteString("No contacts found.\n")
	} else {
		f.appendHeaders(&builder)
		for _, p := range result.Profiles {
			f.appendProfileLine(&builder, p)
		}
	}

	if options.Verbose {
		events := eventsByContact(result.Events)
		for _, p := range result.Profiles {
			f.appendDetailedProfile(&builder, p, events[p.ContactID])
		}
	}

	f.appendSummary(&builder, result.Summary)
	return builder.String(), nil
}

func (f *Formatter) appendRunHeader(builder *strings.Builder, result *pipeline.Result) {
	run := result.Run
	f.colors["white"].Fprintf(builder, "=== Analysis Run %s ===\n", run.RunID)
	fmt.Fprintf(builder, "Dictionary: %s   Mode: %s", run.DictionaryVersion, result.Summary.Mode)
	if run.AdapterModel != "" {
		fmt.Fprintf(builder, "   Model: %s", run.AdapterModel)
	}
	builder.WriteString("\n")
	fmt.Fprintf(builder, "Inputs: %d   Flagged digest: %s\n\n", len(run.Inputs), shortDigest(run.FlaggedDigest))
}

// appendHeaders adds column headers to the string builder
func (f *Formatter) appendHeaders(builder *strings.Builder) {
	header := fmt.Sprintf("%-10s %6s  %-16s %-18s %5s %5s %5s  %-8s %s\n",
		"LABEL", "SCORE", "CONTACT", "NAME", "MSGS", "CALLS", "FLAGS", "H/M/L", "TREND")
	f.colors["white"].Fprint(builder, header)
	builder.WriteString(strings.Repeat("-", len(header)-1) + "\n")
}

// labelColor picks the color of a risk label
func (f *Formatter) labelColor(label risk.Label) *color.Color {
	switch label {
	case risk.LabelCritical:
		return f.colors["redbold"]
	case risk.LabelHigh:
		return f.colors["red"]
	case risk.LabelMedium:
		return f.colors["yellow"]
	default:
		return f.colors["green"]
	}
}

func (f *Formatter) appendProfileLine(builder *strings.Builder, p risk.RiskProfile) {
	label := f.labelColor(p.Label).Sprintf("%-10s", "["+string(p.Label)+"]")
	score := f.colors["blue"].Sprintf("%6.1f", p.Score)
	contact := f.colors["cyan"].Sprintf("%-16s", truncate(p.ContactID, 16))
	name := truncate(p.ContactName, 18)
	hml := fmt.Sprintf("%d/%d/%d", p.High, p.Medium, p.Low)

	trend := string(p.EscalationTrend)
	if p.Escalating {
		trend = f.colors["magenta"].Sprint(trend + " *")
	}
	fmt.Fprintf(builder, "%s %s  %s %-18s %5d %5d %5d  %-8s %s\n",
		label, score, contact, name, p.Messages, p.Calls, p.Flags, hml, trend)
}

func (f *Formatter) appendDetailedProfile(builder *strings.Builder, p risk.RiskProfile, events []detector.FlaggedEvent) {
	builder.WriteString("\n")
	f.colors["white"].Fprintf(builder, "=== %s", p.ContactID)
	if p.ContactName != "" {
		f.colors["white"].Fprintf(builder, " (%s)", p.ContactName)
	}
	f.colors["white"].Fprint(builder, " ===\n")

	fmt.Fprintf(builder, "Score: %.1f ", p.Score)
	f.labelColor(p.Label).Fprintf(builder, "(%s)\n", p.Label)
	fmt.Fprintf(builder, "First contact: %s   Last contact: %s\n",
		shared.FormatTimestamp(p.FirstContactMs), shared.FormatTimestamp(p.LastContactMs))
	fmt.Fprintf(builder, "Severity score: %.1f   Flag rate: %.2f%%\n", p.SeverityScore, p.FlagRate*100)
	if len(p.RelationshipTags) > 0 {
		fmt.Fprintf(builder, "Relationship: %s\n", strings.Join(p.RelationshipTags, ", "))
	}

	f.colors["cyan"].Fprint(builder, "Signals:\n")
	for _, c := range p.Breakdown {
		if !c.Present {
			fmt.Fprintf(builder, "- %-20s  not observed (weight %.2f)\n", c.Signal, c.Weight)
			continue
		}
		fmt.Fprintf(builder, "- %-20s  score %.2f x weight %.2f = %.2f  (%d records)\n",
			c.Signal, c.Score, c.Weight, c.Contribution, len(c.Evidence))
	}

	if len(events) == 0 {
		return
	}
	f.colors["cyan"].Fprint(builder, "Flagged events:\n")
	for _, e := range events {
		status := string(e.Confirmation.Status)
		if e.Rejected() {
			status = f.colors["green"].Sprint(status)
		}
		fmt.Fprintf(builder, "- %s  %-8s %-13s %-6s %-12s %q",
			shared.FormatTimestamp(e.TimestampMs), e.Direction, e.EffectiveCategory(), e.EffectiveTier(), status, e.Span.Term)
		if e.Supportive {
			builder.WriteString("  supportive")
		}
		builder.WriteString("\n")
	}
}

func (f *Formatter) appendSummary(builder *strings.Builder, s pipeline.Summary) {
	builder.WriteString("\n")
	f.colors["white"].Fprint(builder, "=== Summary ===\n")
	fmt.Fprintf(builder, "Files: %d (%d unreadable)   Records: %d (%d messages, %d calls)\n",
		len(s.Files), s.DecodeErrors, s.Records, s.Messages, s.Calls)
	fmt.Fprintf(builder, "Skipped: %d malformed elements, %d records missing fields   Filtered: %d\n",
		s.Malformed, s.Missing, s.Filtered)
	fmt.Fprintf(builder, "Duplicates: %d (%d conflicting)   Flagged: %d (%d supportive)   Contacts: %d\n",
		s.Duplicates, s.Conflicts, s.Flagged, s.Supportive, s.Contacts)

	if s.Mode != string(detector.ModeKeyword) {
		c := s.Confirmation
		fmt.Fprintf(builder, "Confirmation: %d confirmed, %d rejected, %d reclassified, %d unconfirmed",
			c.Confirmed, c.Rejected, c.Reclassified, c.Fallback)
		if c.BreakerOpen {
			f.colors["yellow"].Fprint(builder, "  (adapter disabled after repeated failures)")
		}
		builder.WriteString("\n")
	}

	for _, fs := range s.Files {
		if fs.Error == "" && fs.Skipped() == 0 {
			continue
		}
		name := filepath.Base(fs.File)
		if fs.Error != "" {
			f.colors["red"].Fprintf(builder, "! %s: %s\n", name, fs.Error)
			continue
		}
		f.colors["yellow"].Fprintf(builder, "! %s: %d skipped\n", name, fs.Skipped())
	}
}

func eventsByContact(events []detector.FlaggedEvent) map[string][]detector.FlaggedEvent {
	out := make(map[string][]detector.FlaggedEvent)
	for _, e := range events {
		out[e.Counterparty] = append(out[e.Counterparty], e)
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// Register the formatter during package initialization
func init() {
	formatters.Register(NewFormatter())
}
