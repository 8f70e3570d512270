// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package ollama

import (
	"fmt"
	"strings"

	"sentinel-scan/internal/confirm"
	"sentinel-scan/internal/detector"
)

const categoryDefinitions = `CATEGORY DEFINITIONS:
- INSULT: Personal attacks, name-calling, degrading language
- THREAT: Explicit or implied threats: physical, legal, financial
- MANIPULATION: Gaslighting, guilt-tripping, blame-shifting, coercion
- CUSTODY: Any reference to children, parenting, custody, visitation, child support
- POSITIVE: Genuine affection, apology, support, encouragement
`

const responseShape = `{
  "confirmed": true or false,
  "categories": ["INSULT","THREAT","MANIPULATION","CUSTODY","POSITIVE"],
  "severity": "HIGH" or "MEDIUM" or "LOW",
  "confidence": number between 0 and 1,
  "flagged_quote": "most significant 1-2 sentences from the message",
  "context_summary": "1-2 sentence plain English summary of intent"
}
`

// BuildPrompt renders the analysis prompt for one candidate
func BuildPrompt(ev detector.FlaggedEvent, w confirm.Window) string {
	var b strings.Builder

	b.WriteString("You are a forensic communication analyst. ")
	b.WriteString("Analyze the target message for harmful, manipulative, or legally relevant intent.\n\n")
	fmt.Fprintf(&b, "Keyword pre-scan flagged: %s (%s)\n\n", ev.Category, ev.Tier)

	if len(w.Before) > 0 {
		b.WriteString("PRIOR MESSAGES (same contact):\n")
		writeLines(&b, w.Before)
		b.WriteString("\n")
	}

	target := []rune(w.Target.Text)
	if len(target) > maxTargetChars {
		target = target[:maxTargetChars]
	}
	fmt.Fprintf(&b, "TARGET MESSAGE (%s):\n%q\n\n", ev.Direction, string(target))

	if len(w.After) > 0 {
		b.WriteString("FOLLOWING MESSAGES (same contact):\n")
		writeLines(&b, w.After)
		b.WriteString("\n")
	}

	b.WriteString("Respond ONLY with a valid JSON object. No markdown, no explanation.\n\n")
	b.WriteString(responseShape)
	b.WriteString("\n")
	b.WriteString(categoryDefinitions)
	b.WriteString("\nSet confirmed=false ONLY if the message is clearly benign and the keyword match was a false positive.\n")
	b.WriteString("LEGAL NOTE: This analysis is an inference. Do not present it as a legal conclusion.")
	return b.String()
}

func writeLines(b *strings.Builder, lines []detector.ContextLine) {
	for _, l := range lines {
		fmt.Fprintf(b, "[%s] %s\n", l.Direction, l.Text)
	}
}
