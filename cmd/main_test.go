// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every user directory at a temp dir
func isolate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("SENTINEL_CONFIG_DIR", filepath.Join(root, "config"))
	t.Setenv("SENTINEL_DATA_DIR", filepath.Join(root, "data"))
	t.Setenv("SENTINEL_SIGNING_SECRET", "")
	t.Setenv("SENTINEL_OLLAMA_HOST", "")
	t.Chdir(root)
	return root
}

func writeExport(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0700))
	content := "<smses>\n"
	for i, body := range []string{"hello", "you are worthless", "ok"} {
		content += fmt.Sprintf(`  <sms address="5550102000" date="%d" type="1" body="%s" />`+"\n", 1700000000000+int64(i)*60000, body)
	}
	content += "</smses>\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sms-1.xml"), []byte(content), 0600))
}

func TestContactList(t *testing.T) {
	var c contactList
	require.NoError(t, c.Set("+15550102000, 5550103000"))
	require.NoError(t, c.Set("alex"))
	assert.Equal(t, contactList{"+15550102000", "5550103000", "alex"}, c)
	assert.Equal(t, "+15550102000,5550103000,alex", c.String())
}

func TestLoadConfiguration_FlagsOverride(t *testing.T) {
	isolate(t)
	var stderr bytes.Buffer
	f, err := parseFlags([]string{
		"-keyword-only", "-messages-only", "-format", "json", "-contact", "5550102000",
		"-db", "x.db", "-debug", "exports",
	}, &stderr)
	require.NoError(t, err)

	cfg, err := loadConfiguration(f)
	require.NoError(t, err)
	assert.Equal(t, "exports", cfg.Input.Dir)
	assert.Equal(t, "x.db", cfg.Output.DB)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.False(t, cfg.Confirmation.Enabled)
	assert.True(t, cfg.Input.MessagesOnly)
	assert.Equal(t, []string{"5550102000"}, cfg.Input.Contacts)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestRun_Usage(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer

	assert.Equal(t, exitUsage, run(context.Background(), []string{"-unknown"}, &stdout, &stderr))
	assert.Equal(t, exitUsage, run(context.Background(), []string{"-keyword-only"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "no input directory")

	stdout.Reset()
	assert.Equal(t, exitOK, run(context.Background(), []string{"-version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "sentinel-scan")
}

func TestRun_SignRequiresSecret(t *testing.T) {
	root := isolate(t)
	writeExport(t, filepath.Join(root, "in"))
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-keyword-only", "-format", "json", "-sign", "-input", "in"}, &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "SENTINEL_SIGNING_SECRET")
}

func TestRun_EndToEnd(t *testing.T) {
	root := isolate(t)
	writeExport(t, filepath.Join(root, "in"))
	t.Setenv("SENTINEL_SIGNING_SECRET", "secret")
	ctx := context.Background()
	var stdout, stderr bytes.Buffer

	report := filepath.Join(root, "out", "report.json")
	code := run(ctx, []string{"-keyword-only", "-format", "json", "-sign", "-input", "in", "-output", report}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"signature"`)

	stdout.Reset()
	assert.Equal(t, exitOK, run(ctx, []string{"-verify-report", report}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "Report verified")

	stdout.Reset()
	assert.Equal(t, exitOK, run(ctx, []string{"-verify-run", "latest"}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "1 flagged events")

	t.Setenv("SENTINEL_SIGNING_SECRET", "other")
	assert.Equal(t, exitMismatch, run(ctx, []string{"-verify-report", report}, &stdout, &stderr))

	stdout.Reset()
	code = run(ctx, []string{"-keyword-only", "-input", "in", "-no-color"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "+15550102000")
	assert.Contains(t, stdout.String(), "=== Summary ===")
}

func TestRun_VerifyEarlierRun(t *testing.T) {
	root := isolate(t)
	writeExport(t, filepath.Join(root, "first"))
	second := filepath.Join(root, "second")
	require.NoError(t, os.MkdirAll(second, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(second, "sms-2.xml"), []byte(`<smses>
  <sms address="5550109999" date="1700009000000" type="1" body="you will regret this" />
</smses>
`), 0600))
	ctx := context.Background()
	var stdout, stderr bytes.Buffer

	require.Equal(t, exitOK, run(ctx, []string{"-keyword-only", "-input", "first"}, &stdout, &stderr), stderr.String())
	stdout.Reset()
	require.Equal(t, exitOK, run(ctx, []string{"-verify-run", "latest"}, &stdout, &stderr), stderr.String())
	firstID := strings.Fields(stdout.String())[1]

	require.Equal(t, exitOK, run(ctx, []string{"-keyword-only", "-input", "second"}, &stdout, &stderr), stderr.String())

	stdout.Reset()
	assert.Equal(t, exitOK, run(ctx, []string{"-verify-run", firstID}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "1 flagged events")
}

func TestWriteOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOutput("", "line", &buf))
	assert.Equal(t, "line\n", buf.String())

	assert.Error(t, writeOutput("../escape.txt", "x", &buf))

	path := filepath.Join(t.TempDir(), "nested", "out.txt")
	require.NoError(t, writeOutput(path, "x", &buf))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
