// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// Version information set at link time
var (
	// Version is the current version of sentinel-scan
	Version = "0.0.0-development"

	// GitCommit is the git commit hash
	GitCommit = "unknown"

	// BuildDate is when the binary was built
	BuildDate = "unknown"

	// GoVersion is the version of Go used to build
	GoVersion = runtime.Version()

	// Platform is the OS/Arch combination
	Platform = fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
)

// Component versions recorded in the run ledger. Bump the matching value
// whenever a change alters the output of that stage for identical input.
const (
	DecoderVersion    = "decoder/1"
	NormalizerVersion = "normalize/1"
	DedupVersion      = "dedup/1"
	KeywordVersion    = "keyword/1"
	PatternsVersion   = "patterns/1"
	RiskVersion       = "risk/1"
)

// Info returns formatted version information
func Info() string {
	return fmt.Sprintf("sentinel-scan %s (commit: %s, built: %s, go: %s, platform: %s)",
		Version, GitCommit, BuildDate, GoVersion, Platform)
}

// Short returns just the version number
func Short() string {
	return Version
}

// Components returns the per-stage versions keyed by stage name.
func Components() map[string]string {
	return map[string]string{
		"sentinel-scan": Version,
		"decoder":       DecoderVersion,
		"normalize":     NormalizerVersion,
		"dedup":         DedupVersion,
		"keyword":       KeywordVersion,
		"patterns":      PatternsVersion,
		"risk":          RiskVersion,
	}
}
