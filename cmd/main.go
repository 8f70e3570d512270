// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/term"

	"sentinel-scan/internal/config"
	"sentinel-scan/internal/confirm"
	"sentinel-scan/internal/confirm/ollama"
	"sentinel-scan/internal/formatters"
	jsonformatter "sentinel-scan/internal/formatters/json"
	_ "sentinel-scan/internal/formatters/text"
	"sentinel-scan/internal/ledger"
	"sentinel-scan/internal/observability"
	"sentinel-scan/internal/paths"
	"sentinel-scan/internal/pipeline"
	"sentinel-scan/internal/security"
	"sentinel-scan/internal/store"
	"sentinel-scan/internal/version"
)

// Exit codes
const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitMismatch = 3
)

// contactList collects repeated -contact flags
type contactList []string

func (c *contactList) String() string {
	return strings.Join(*c, ",")
}

func (c *contactList) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*c = append(*c, v)
		}
	}
	return nil
}

type cliFlags struct {
	input        string
	db           string
	configFile   string
	dictionary   string
	format       string
	outputFile   string
	keywordOnly  bool
	messagesOnly bool
	callsOnly    bool
	contacts     contactList
	verbose      bool
	sign         bool
	noColor      bool
	debug        bool
	quiet        bool
	showVersion  bool
	verifyRun    string
	verifyReport string
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, error) {
	fs := flag.NewFlagSet("sentinel-scan", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &cliFlags{}
	fs.StringVar(&f.input, "input", "", "Directory holding the XML export files")
	fs.StringVar(&f.db, "db", "", "Path to the SQLite database (default: user data directory)")
	fs.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML)")
	fs.StringVar(&f.dictionary, "dictionary", "", "Path to a keyword dictionary file (YAML)")
	fs.StringVar(&f.format, "format", "", "Output format: text, json (default: text)")
	fs.StringVar(&f.outputFile, "output", "", "Path to output file (if not specified, output to stdout)")
	fs.BoolVar(&f.keywordOnly, "keyword-only", false, "Skip intent confirmation and report keyword matches only")
	fs.BoolVar(&f.messagesOnly, "messages-only", false, "Analyze messages only")
	fs.BoolVar(&f.callsOnly, "calls-only", false, "Analyze calls only")
	fs.Var(&f.contacts, "contact", "Restrict analysis to a contact (repeatable, comma separated)")
	fs.BoolVar(&f.verbose, "verbose", false, "List signal breakdowns and flagged events per contact")
	fs.BoolVar(&f.sign, "sign", false, "Sign JSON output with SENTINEL_SIGNING_SECRET")
	fs.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&f.quiet, "quiet", false, "Suppress progress output")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	fs.StringVar(&f.verifyRun, "verify-run", "", "Check a stored run (ID or 'latest') against the stored flagged events")
	fs.StringVar(&f.verifyReport, "verify-report", "", "Check the signature of a signed JSON report")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 && f.input == "" {
		f.input = fs.Arg(0)
	}
	return f, nil
}

// loadConfiguration resolves the config file, the environment and the
// command line, in that order of precedence
func loadConfiguration(f *cliFlags) (*config.Config, error) {
	path := f.configFile
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvironment()

	if f.input != "" {
		cfg.Input.Dir = f.input
	}
	if f.db != "" {
		cfg.Output.DB = f.db
	}
	if f.dictionary != "" {
		cfg.Detection.Dictionary = f.dictionary
	}
	if f.format != "" {
		cfg.Output.Format = f.format
	}
	if f.noColor {
		cfg.Output.NoColor = true
	}
	if f.keywordOnly {
		cfg.Confirmation.Enabled = false
	}
	if f.messagesOnly {
		cfg.Input.MessagesOnly = true
	}
	if f.callsOnly {
		cfg.Input.CallsOnly = true
	}
	if len(f.contacts) > 0 {
		cfg.Input.Contacts = append([]string(nil), f.contacts...)
	}
	if f.debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = string(observability.LogFormatJSON)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	if err := paths.EnsureDir(filepath.Dir(cfg.Output.DB)); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	return store.Open(ctx, cfg.Output.DB, logger)
}

// writeOutput writes to path with owner-only permissions, or to w when
// path is empty
func writeOutput(path, content string, w io.Writer) error {
	if path == "" {
		_, err := io.WriteString(w, content)
		if err == nil && !strings.HasSuffix(content, "\n") {
			_, err = io.WriteString(w, "\n")
		}
		return err
	}
	clean := filepath.Clean(path)
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal not allowed in output path: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(clean), 0700); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return os.WriteFile(clean, []byte(content), 0600)
}

func signingSecret() (*security.Secret, error) {
	return security.SecretFromEnv("SENTINEL_SIGNING_SECRET")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if f.showVersion {
		fmt.Fprintln(stdout, version.Info())
		return exitOK
	}

	// A missing .env is not an error
	_ = godotenv.Load()

	if f.verifyReport != "" {
		return verifyReport(f.verifyReport, stdout, stderr)
	}

	cfg, err := loadConfiguration(f)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	logger := observability.NewLogger(cfg.Logging.Level, observability.LogFormat(cfg.Logging.Format), stderr)
	defer func() { _ = logger.Sync() }()

	if f.verifyRun != "" {
		return verifyRun(ctx, cfg, f.verifyRun, logger, stdout, stderr)
	}

	if cfg.Input.Dir == "" {
		fmt.Fprintln(stderr, "Error: no input directory. Use -input <dir>.")
		return exitUsage
	}
	if err := config.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration:\n%v\n", err)
		return exitUsage
	}

	var secret *security.Secret
	if f.sign {
		if cfg.Output.Format != "json" {
			fmt.Fprintln(stderr, "Error: -sign requires -format json")
			return exitUsage
		}
		if secret, err = signingSecret(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		defer secret.Clear()
	}

	dict, err := pipeline.ResolveDictionary(cfg.Detection.Dictionary)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer func() { _ = st.Close() }()

	var adapter confirm.Adapter
	if cfg.Confirmation.Enabled {
		a, err := ollama.New(cfg.OllamaOptions())
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		adapter = a
	}

	obsLevel := observability.ObservabilityMetrics
	if f.debug {
		obsLevel = observability.ObservabilityDebug
	}
	rc := pipeline.RunConfig{
		Config:     cfg,
		Dictionary: dict,
		Adapter:    adapter,
		Store:      st,
		Logger:     logger,
		Observer:   observability.NewStandardObserver(obsLevel, logger),
	}
	interactive := isTerminal(os.Stderr)
	if interactive && !f.quiet && !f.debug {
		rc.Progress = func(completed, total int, currentFile string) {
			fmt.Fprintf(stderr, "\rDecoding [%d/%d] %-40s", completed, total, truncatePath(currentFile, 40))
			if completed == total {
				fmt.Fprint(stderr, "\n")
			}
		}
	}

	result, err := pipeline.Run(ctx, rc)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	noColor := cfg.Output.NoColor || f.outputFile != "" || !isTerminal(os.Stdout) || os.Getenv("NO_COLOR") != ""
	out, err := formatters.Export(cfg.Output.Format, result, formatters.FormatterOptions{
		Verbose:       f.verbose,
		NoColor:       noColor,
		SigningSecret: secret.String(),
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if err := writeOutput(f.outputFile, out, stdout); err != nil {
		fmt.Fprintf(stderr, "Error writing output: %v\n", err)
		return exitError
	}
	return exitOK
}

// verifyRun recomputes the flagged digest of a stored run
func verifyRun(ctx context.Context, cfg *config.Config, runID string, logger *zap.Logger, stdout, stderr io.Writer) int {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer func() { _ = st.Close() }()

	if runID == "latest" {
		if runID, err = st.LatestRunID(ctx); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
	}
	runRow, err := st.Run(ctx, runID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	events, err := st.RunEvents(ctx, runID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if err := ledger.Verify(runRow, events); err != nil {
		fmt.Fprintf(stderr, "Run %s does not verify: %v\n", runID, err)
		return exitMismatch
	}
	fmt.Fprintf(stdout, "Run %s verified: %d flagged events, digest %s\n", runID, runRow.FlaggedCount, runRow.FlaggedDigest)
	return exitOK
}

func verifyReport(path string, stdout, stderr io.Writer) int {
	secret, err := signingSecret()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer secret.Clear()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	report, err := jsonformatter.VerifyReport(data, secret.String())
	if err != nil {
		fmt.Fprintf(stderr, "Report %s does not verify: %v\n", path, err)
		return exitMismatch
	}
	fmt.Fprintf(stdout, "Report verified: run %s, %d profiles\n", report.Run.RunID, len(report.Profiles))
	return exitOK
}

func truncatePath(p string, n int) string {
	base := filepath.Base(p)
	if len(base) <= n {
		return base
	}
	return base[:n-3] + "..."
}

// isTerminal checks if the given file is a terminal
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
