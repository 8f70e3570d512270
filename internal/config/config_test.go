// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-scan/internal/risk"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Output.Format)
	assert.Equal(t, []string{"sms-*.xml", "calls-*.xml", "*.xml"}, cfg.Input.Patterns)
	assert.True(t, cfg.Confirmation.Enabled)
	assert.Equal(t, 7*24*time.Hour, cfg.Patterns.TrailingWindow)
	assert.InDelta(t, 0.35, cfg.Risk.Weights.Trajectory, 1e-9)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfig_NonexistentFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/sentinel.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "input: [not: valid")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_OverridesKeepDefaults(t *testing.T) {
	path := writeConfig(t, `
output:
  format: json
confirmation:
  model: mistral:7b
  timeout: 30s
patterns:
  cluster_band: 2h
  segments: 4
risk:
  weights:
    trajectory: 0.5
  relationships:
    alex: [ex-partner]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, "mistral:7b", cfg.Confirmation.Model)
	assert.Equal(t, 30*time.Second, cfg.Confirmation.Timeout)
	assert.Equal(t, 2*time.Hour, cfg.Patterns.ClusterBand)
	assert.Equal(t, 4, cfg.Patterns.Segments)
	assert.InDelta(t, 0.5, cfg.Risk.Weights.Trajectory, 1e-9)
	assert.Equal(t, []string{"ex-partner"}, cfg.Risk.Relationships["alex"])

	// untouched fields keep their defaults
	assert.True(t, cfg.Confirmation.Enabled)
	assert.InDelta(t, 0.20, cfg.Risk.Weights.Drift, 1e-9)
	assert.Equal(t, 28*24*time.Hour, cfg.Patterns.BaselineWindow)
	assert.Equal(t, "1", cfg.Normalize.CountryCode)

	assert.Equal(t, 0.5, cfg.RiskOptions().Weights.Trajectory)
	assert.Equal(t, 30*time.Second, cfg.ConfirmOptions().Timeout)
}

func TestLoadConfig_DisableConfirmation(t *testing.T) {
	path := writeConfig(t, "confirmation:\n  enabled: false\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.Confirmation.Enabled)
}

func TestValidateConfig(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "existing input dir", mutate: func(c *Config) { c.Input.Dir = dir }},
		{name: "missing input dir", mutate: func(c *Config) { c.Input.Dir = filepath.Join(dir, "nope") }, wantErr: "input directory"},
		{name: "input is a file", mutate: func(c *Config) { c.Input.Dir = file }, wantErr: "not a directory"},
		{name: "bad format", mutate: func(c *Config) { c.Output.Format = "xml" }, wantErr: "output.format"},
		{name: "exclusive filters", mutate: func(c *Config) {
			c.Input.MessagesOnly = true
			c.Input.CallsOnly = true
		}, wantErr: "mutually exclusive"},
		{name: "remote host", mutate: func(c *Config) { c.Confirmation.Host = "http://10.0.0.5:11434" }, wantErr: "confirmation.host"},
		{name: "remote host ignored when disabled", mutate: func(c *Config) {
			c.Confirmation.Enabled = false
			c.Confirmation.Host = "http://example.com"
		}},
		{name: "negative weight", mutate: func(c *Config) { c.Risk.Weights.Drift = -1 }, wantErr: "risk.weights"},
		{name: "zero weights", mutate: func(c *Config) { c.Risk.Weights = risk.Weights{} }, wantErr: "sum"},
		{name: "labels out of order", mutate: func(c *Config) { c.Risk.Labels.High = 70 }, wantErr: "risk.labels"},
		{name: "one segment", mutate: func(c *Config) { c.Patterns.Segments = 1 }, wantErr: "patterns.segments"},
		{name: "bad glob", mutate: func(c *Config) { c.Input.Patterns = []string{"["} }, wantErr: "input.patterns"},
		{name: "no workers", mutate: func(c *Config) { c.Parallel.Workers = 0 }, wantErr: "parallel.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyEnvironment(t *testing.T) {
	t.Setenv("SENTINEL_OLLAMA_HOST", "http://127.0.0.1:9999")
	cfg := Default()
	cfg.ApplyEnvironment()
	assert.Equal(t, "http://127.0.0.1:9999", cfg.Confirmation.Host)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.OllamaOptions().Host)
}

func TestSnapshot_Stable(t *testing.T) {
	a := Default()
	a.Risk.Relationships = map[string][]string{"b": {"x"}, "a": {"y"}}
	b := Default()
	b.Risk.Relationships = map[string][]string{"a": {"y"}, "b": {"x"}}

	sa, err := a.Snapshot()
	require.NoError(t, err)
	sb, err := b.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, string(sa), string(sb))
	assert.Contains(t, string(sa), "trailing_window: 168h0m0s")

	// a snapshot loads back to the same snapshot
	path := writeConfig(t, string(sa))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	again, err := loaded.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, string(sa), string(again))
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SENTINEL_CONFIG_DIR", filepath.Join(dir, "xdg"))
	t.Chdir(dir)

	assert.Equal(t, "", FindConfigFile())

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "xdg"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "xdg", "config.yaml"), []byte("{}"), 0600))
	assert.Equal(t, filepath.Join(dir, "xdg", "config.yaml"), FindConfigFile())

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".sentinel-scan.yaml"), []byte("{}"), 0600))
	assert.Equal(t, ".sentinel-scan.yaml", FindConfigFile())
}
