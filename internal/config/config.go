// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sentinel-scan/internal/confirm"
	"sentinel-scan/internal/confirm/ollama"
	"sentinel-scan/internal/decoder"
	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/normalize"
	"sentinel-scan/internal/paths"
	"sentinel-scan/internal/patterns"
	"sentinel-scan/internal/record"
	"sentinel-scan/internal/resilience"
	"sentinel-scan/internal/risk"
)

// Config represents the sentinel-scan configuration
type Config struct {
	Input        InputConfig         `yaml:"input"`
	Output       OutputConfig        `yaml:"output"`
	Decoder      DecoderConfig       `yaml:"decoder"`
	Normalize    NormalizeConfig     `yaml:"normalize"`
	Detection    DetectionConfig     `yaml:"detection"`
	Confirmation ConfirmationConfig  `yaml:"confirmation"`
	Patterns     patterns.Thresholds `yaml:"patterns"`
	Risk         RiskConfig          `yaml:"risk"`
	Dedup        DedupConfig         `yaml:"dedup"`
	Parallel     ParallelConfig      `yaml:"parallel"`
	Logging      LoggingConfig       `yaml:"logging"`
}

// InputConfig selects which exports are read and which records are kept
type InputConfig struct {
	Dir          string   `yaml:"dir"`
	Patterns     []string `yaml:"patterns"`
	MessagesOnly bool     `yaml:"messages_only"`
	CallsOnly    bool     `yaml:"calls_only"`
	Contacts     []string `yaml:"contacts"`
}

// OutputConfig controls where results go
type OutputConfig struct {
	DB       string `yaml:"db"`
	IndexDir string `yaml:"index_dir"`
	Format   string `yaml:"format"`
	NoColor  bool   `yaml:"no_color"`
}

// DecoderConfig maps onto decoder.Options
type DecoderConfig struct {
	BufferSize      int `yaml:"buffer_size"`
	MaxElementBytes int `yaml:"max_element_bytes"`
	MaxErrors       int `yaml:"max_errors"`
}

// NormalizeConfig maps onto normalize.Options
type NormalizeConfig struct {
	CountryCode  string `yaml:"country_code"`
	MaxBodyRunes int    `yaml:"max_body_runes"`
}

// DetectionConfig holds keyword detection settings
type DetectionConfig struct {
	// Dictionary is a YAML dictionary file; empty uses the built-in one
	Dictionary      string `yaml:"dictionary"`
	ContextLines    int    `yaml:"context_lines"`
	MaxContextChars int    `yaml:"max_context_chars"`
}

// ConfirmationConfig holds the local inference settings
type ConfirmationConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host"`
	Model            string        `yaml:"model"`
	Timeout          time.Duration `yaml:"timeout"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	Concurrency      int           `yaml:"concurrency"`
	Retries          int           `yaml:"retries"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	Temperature      float64       `yaml:"temperature"`
}

// RiskConfig holds composite scoring settings
type RiskConfig struct {
	Weights          risk.Weights         `yaml:"weights"`
	Labels           risk.LabelThresholds `yaml:"labels"`
	EscalationChange float64              `yaml:"escalation_change"`
	MinTrendMessages int                  `yaml:"min_trend_messages"`
	// Relationships maps a contact name, or its first word, to tags
	Relationships map[string][]string `yaml:"relationships,omitempty"`
}

// DedupConfig selects the dedup key index
type DedupConfig struct {
	UseDiskIndex bool `yaml:"use_disk_index"`
}

// ParallelConfig sizes the file worker pool
type ParallelConfig struct {
	Workers int `yaml:"workers"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultWorkers is min(NumCPU, 8)
func DefaultWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Default returns a configuration with every default applied
func Default() *Config {
	dec := decoder.DefaultOptions()
	norm := normalize.DefaultOptions()
	conf := confirm.DefaultOptions()
	rk := risk.DefaultOptions()

	return &Config{
		Input: InputConfig{
			Patterns: []string{"sms-*.xml", "calls-*.xml", "*.xml"},
		},
		Output: OutputConfig{
			DB:       paths.GetDatabaseFile(),
			IndexDir: paths.GetIndexDir(),
			Format:   "text",
		},
		Decoder: DecoderConfig{
			BufferSize:      dec.BufferSize,
			MaxElementBytes: dec.MaxElementBytes,
			MaxErrors:       dec.MaxErrors,
		},
		Normalize: NormalizeConfig{
			CountryCode:  norm.CountryCode,
			MaxBodyRunes: norm.MaxBodyRunes,
		},
		Detection: DetectionConfig{
			ContextLines:    2,
			MaxContextChars: 500,
		},
		Confirmation: ConfirmationConfig{
			Enabled:          true,
			Host:             ollama.DefaultHost,
			Model:            ollama.DefaultModel,
			Timeout:          conf.Timeout,
			ProbeTimeout:     5 * time.Second,
			Concurrency:      conf.Concurrency,
			Retries:          conf.Retry.MaxRetries,
			BreakerThreshold: conf.BreakerThreshold,
			Temperature:      0.1,
		},
		Patterns: patterns.DefaultThresholds(),
		Risk: RiskConfig{
			Weights:          rk.Weights,
			Labels:           rk.Labels,
			EscalationChange: rk.EscalationChange,
			MinTrendMessages: rk.MinTrendMessages,
		},
		Parallel: ParallelConfig{Workers: DefaultWorkers()},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
	}
}

// LoadConfig loads configuration from a YAML file over the defaults. An
// empty path returns the defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := Default()
	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Fields absent from the file keep their defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return config, nil
}

// FindConfigFile looks for a configuration file in the working directory,
// then in the XDG config directory. It returns "" when none exists.
func FindConfigFile() string {
	for _, name := range []string{"sentinel.yaml", "sentinel.yml", ".sentinel-scan.yaml", ".sentinel-scan.yml"} {
		if fileExists(name) {
			return name
		}
	}
	if standard := paths.GetConfigFile(); fileExists(standard) {
		return standard
	}
	return ""
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// ApplyEnvironment overrides settings from the process environment.
// SENTINEL_OLLAMA_HOST replaces the confirmation host.
func (c *Config) ApplyEnvironment() {
	if host := strings.TrimSpace(os.Getenv("SENTINEL_OLLAMA_HOST")); host != "" {
		c.Confirmation.Host = host
	}
}

// ValidateConfig checks ranges, weights, the inference host and the input
// directory. All problems are reported together.
func ValidateConfig(config *Config) error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if config.Input.Dir != "" {
		info, err := os.Stat(config.Input.Dir)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("input directory: %w", err))
		case !info.IsDir():
			errs = append(errs, fmt.Errorf("input %s is not a directory", config.Input.Dir))
		}
	}
	check(len(config.Input.Patterns) > 0, "input.patterns must not be empty")
	for _, p := range config.Input.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			errs = append(errs, fmt.Errorf("input.patterns %q: %w", p, err))
		}
	}
	check(!(config.Input.MessagesOnly && config.Input.CallsOnly), "messages_only and calls_only are mutually exclusive")
	check(config.Output.Format == "text" || config.Output.Format == "json", "output.format must be text or json, got %q", config.Output.Format)

	check(config.Decoder.BufferSize >= 0, "decoder.buffer_size must not be negative")
	check(config.Decoder.MaxElementBytes >= 0, "decoder.max_element_bytes must not be negative")
	check(config.Normalize.MaxBodyRunes > 0, "normalize.max_body_runes must be positive")
	check(config.Detection.ContextLines >= 0, "detection.context_lines must not be negative")
	check(config.Detection.MaxContextChars > 0, "detection.max_context_chars must be positive")

	if config.Confirmation.Enabled {
		if err := ollama.ValidateHost(config.Confirmation.Host); err != nil {
			errs = append(errs, fmt.Errorf("confirmation.host: %w", err))
		}
		check(config.Confirmation.Concurrency > 0, "confirmation.concurrency must be positive")
		check(config.Confirmation.Timeout > 0, "confirmation.timeout must be positive")
		check(config.Confirmation.Retries >= 0, "confirmation.retries must not be negative")
		check(config.Confirmation.BreakerThreshold > 0, "confirmation.breaker_threshold must be positive")
		check(config.Confirmation.Temperature >= 0 && config.Confirmation.Temperature <= 2, "confirmation.temperature must be within [0, 2]")
	}

	t := config.Patterns
	check(t.TrailingWindow > 0 && t.BaselineWindow > 0, "patterns windows must be positive")
	check(t.EscalationRatio > 0, "patterns.escalation_ratio must be positive")
	check(t.ClusterBand > 0, "patterns.cluster_band must be positive")
	check(t.ResponseWindow > 0, "patterns.response_window must be positive")
	check(t.CloseFraction > 0 && t.CloseFraction <= 1, "patterns.close_fraction must be within (0, 1]")
	check(t.Segments >= 2, "patterns.segments must be at least 2")

	w := config.Risk.Weights
	check(w.Frequency >= 0 && w.Clustering >= 0 && w.Latency >= 0 && w.Drift >= 0 && w.Trajectory >= 0, "risk.weights must not be negative")
	check(w.Total() > 0, "risk.weights must sum to more than zero")
	l := config.Risk.Labels
	check(l.Medium < l.High && l.High < l.Critical, "risk.labels must be increasing")

	check(config.Parallel.Workers > 0, "parallel.workers must be positive")

	return errors.Join(errs...)
}

// Snapshot renders the effective configuration as YAML. The output is
// stable for equal configurations and is hashed into the run ledger.
func (c *Config) Snapshot() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("snapshot config: %w", err)
	}
	return out, nil
}

// DecoderOptions returns the decoder settings
func (c *Config) DecoderOptions() decoder.Options {
	return decoder.Options{
		BufferSize:      c.Decoder.BufferSize,
		MaxElementBytes: c.Decoder.MaxElementBytes,
		MaxErrors:       c.Decoder.MaxErrors,
	}
}

// NormalizeOptions returns the normalizer settings
func (c *Config) NormalizeOptions() normalize.Options {
	return normalize.Options{
		CountryCode:  c.Normalize.CountryCode,
		MaxBodyRunes: c.Normalize.MaxBodyRunes,
	}
}

// Filter builds the record filter for the input selection
func (c *Config) Filter() *normalize.Filter {
	return normalize.NewFilter(c.Input.MessagesOnly, c.Input.CallsOnly, c.Input.Contacts, c.Normalize.CountryCode)
}

// ContextExtractor builds the context window source for records
func (c *Config) ContextExtractor(records []record.Record) *detector.ContextExtractor {
	return detector.NewContextExtractor(records, c.Detection.ContextLines, c.Detection.MaxContextChars)
}

// ConfirmOptions returns the confirmer settings
func (c *Config) ConfirmOptions() confirm.Options {
	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = c.Confirmation.Retries
	return confirm.Options{
		Concurrency:      c.Confirmation.Concurrency,
		Timeout:          c.Confirmation.Timeout,
		Retry:            retry,
		BreakerThreshold: c.Confirmation.BreakerThreshold,
	}
}

// OllamaOptions returns the adapter settings
func (c *Config) OllamaOptions() ollama.Options {
	return ollama.Options{
		Host:        c.Confirmation.Host,
		Model:       c.Confirmation.Model,
		Temperature: c.Confirmation.Temperature,
		Timeout:     c.Confirmation.ProbeTimeout,
	}
}

// RiskOptions returns the profile builder settings
func (c *Config) RiskOptions() risk.Options {
	return risk.Options{
		Weights:             c.Risk.Weights,
		Labels:              c.Risk.Labels,
		EscalationChange:    c.Risk.EscalationChange,
		MinTrendMessages:    c.Risk.MinTrendMessages,
		Relationships:       c.Risk.Relationships,
		EscalationThreshold: c.Patterns.TrajectoryEscalation,
	}
}
