// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug", LogFormatJSON, &buf)
	logger.Debug("decoded")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "decoded", entry["msg"])
}

func TestNewLogger_LevelFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("verbose", LogFormatConsole, &buf)
	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "shown")
}

func TestStandardObserver(t *testing.T) {
	tests := []struct {
		name     string
		level    ObservabilityLevel
		want     bool
		metadata bool
	}{
		{"off", ObservabilityOff, false, false},
		{"metrics", ObservabilityMetrics, true, false},
		{"debug", ObservabilityDebug, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			obs := NewStandardObserver(tt.level, NewLogger("debug", LogFormatJSON, &buf))

			finish := obs.StartTiming("decoder", "decode_file", "sms.xml")
			finish(true, map[string]interface{}{"records": 3})

			out := buf.String()
			assert.Equal(t, tt.want, strings.Contains(out, `"component":"decoder"`))
			assert.Equal(t, tt.want, strings.Contains(out, `"file":"sms.xml"`))
			assert.Equal(t, tt.metadata, strings.Contains(out, `"records":3`))
		})
	}
}

func TestStandardObserver_NilSafe(t *testing.T) {
	var obs *StandardObserver
	assert.NotPanics(t, func() {
		obs.LogOperation(StandardObservabilityData{Component: "x"})
	})
	assert.NotNil(t, OrNop(nil))
}
