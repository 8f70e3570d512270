// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package keyword

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"sentinel-scan/internal/detector"
)

// Dictionary is an immutable, versioned set of trigger phrases grouped by
// category and severity tier. All accessors return copies.
type Dictionary struct {
	version    string
	digest     string
	categories []category
}

type category struct {
	name       string
	supportive bool
	terms      map[detector.Tier][]string
}

type dictionaryFile struct {
	Version    string                  `yaml:"version"`
	Categories map[string]categoryFile `yaml:"categories"`
}

type categoryFile struct {
	Supportive bool     `yaml:"supportive,omitempty"`
	Low        []string `yaml:"low,omitempty"`
	Medium     []string `yaml:"medium,omitempty"`
	High       []string `yaml:"high,omitempty"`
}

// CategorySpec describes one category when building a dictionary in code
type CategorySpec struct {
	Supportive bool
	Terms      map[detector.Tier][]string
}

// LoadDictionary reads a YAML dictionary file
func LoadDictionary(path string) (*Dictionary, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("error reading dictionary file: %w", err)
	}
	return ParseDictionary(data)
}

// ParseDictionary decodes a YAML dictionary
func ParseDictionary(data []byte) (*Dictionary, error) {
	var f dictionaryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing dictionary: %w", err)
	}

	specs := make(map[string]CategorySpec, len(f.Categories))
	for name, c := range f.Categories {
		specs[name] = CategorySpec{
			Supportive: c.Supportive,
			Terms: map[detector.Tier][]string{
				detector.TierLow:    c.Low,
				detector.TierMedium: c.Medium,
				detector.TierHigh:   c.High,
			},
		}
	}
	return NewDictionary(f.Version, specs)
}

// NewDictionary validates and freezes a dictionary. Terms are folded the
// way message bodies are; a term listed under several tiers of the same
// category keeps only its highest tier. An empty version is replaced by
// one derived from the content digest.
func NewDictionary(version string, specs map[string]CategorySpec) (*Dictionary, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("dictionary has no categories")
	}

	d := &Dictionary{}
	for name, spec := range specs {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			return nil, fmt.Errorf("dictionary category with empty name")
		}

		c := category{name: name, supportive: spec.Supportive, terms: make(map[detector.Tier][]string)}
		seen := make(map[string]bool)
		for i := len(detector.Tiers) - 1; i >= 0; i-- {
			tier := detector.Tiers[i]
			for _, raw := range spec.Terms[tier] {
				if !hasText(raw) {
					return nil, fmt.Errorf("category %s: empty %s term", name, tier)
				}
				folded := strings.Join(foldTerm(raw), " ")
				if seen[folded] {
					continue
				}
				seen[folded] = true
				c.terms[tier] = append(c.terms[tier], folded)
			}
			sort.Strings(c.terms[tier])
		}
		for tier := range spec.Terms {
			if tier < detector.TierLow || tier > detector.TierHigh {
				return nil, fmt.Errorf("category %s: invalid tier %d", name, tier)
			}
		}
		if len(seen) == 0 {
			return nil, fmt.Errorf("category %s has no terms", name)
		}
		d.categories = append(d.categories, c)
	}

	sort.Slice(d.categories, func(i, j int) bool { return d.categories[i].name < d.categories[j].name })
	for i := 1; i < len(d.categories); i++ {
		if d.categories[i].name == d.categories[i-1].name {
			return nil, fmt.Errorf("duplicate category %s", d.categories[i].name)
		}
	}

	d.digest = d.computeDigest()
	d.version = strings.TrimSpace(version)
	if d.version == "" {
		d.version = "sha256:" + d.digest[:12]
	}
	return d, nil
}

// canonical renders the dictionary in a stable line format
func (d *Dictionary) canonical() string {
	var b strings.Builder
	for _, c := range d.categories {
		fmt.Fprintf(&b, "category %s supportive=%t\n", c.name, c.supportive)
		for _, tier := range detector.Tiers {
			for _, t := range c.terms[tier] {
				fmt.Fprintf(&b, "%s\t%s\n", tier, t)
			}
		}
	}
	return b.String()
}

func (d *Dictionary) computeDigest() string {
	sum := sha256.Sum256([]byte(d.canonical()))
	return hex.EncodeToString(sum[:])
}

// Version returns the declared or derived version string
func (d *Dictionary) Version() string {
	return d.version
}

// Digest returns the SHA-256 of the canonical dictionary content
func (d *Dictionary) Digest() string {
	return d.digest
}

// Categories returns the category names in sorted order
func (d *Dictionary) Categories() []string {
	out := make([]string, len(d.categories))
	for i, c := range d.categories {
		out[i] = c.name
	}
	return out
}

// Supportive reports whether category is marked supportive
func (d *Dictionary) Supportive(name string) bool {
	for _, c := range d.categories {
		if c.name == name {
			return c.supportive
		}
	}
	return false
}

// Terms returns a copy of the folded terms of one category and tier
func (d *Dictionary) Terms(name string, tier detector.Tier) []string {
	for _, c := range d.categories {
		if c.name == name {
			out := make([]string, len(c.terms[tier]))
			copy(out, c.terms[tier])
			return out
		}
	}
	return nil
}

// MarshalYAML writes the dictionary in the file format LoadDictionary reads
func (d *Dictionary) MarshalYAML() (interface{}, error) {
	f := dictionaryFile{Version: d.version, Categories: make(map[string]categoryFile, len(d.categories))}
	for _, c := range d.categories {
		f.Categories[c.name] = categoryFile{
			Supportive: c.supportive,
			Low:        c.terms[detector.TierLow],
			Medium:     c.terms[detector.TierMedium],
			High:       c.terms[detector.TierHigh],
		}
	}
	return f, nil
}
