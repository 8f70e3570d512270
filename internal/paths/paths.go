// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const appName = "sentinel-scan"

// GetConfigDir returns the sentinel-scan configuration directory.
// SENTINEL_CONFIG_DIR overrides the XDG location on all platforms.
func GetConfigDir() string {
	if dir := os.Getenv("SENTINEL_CONFIG_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(xdg.ConfigHome, appName)
}

// GetConfigFile returns the path to the main config file
func GetConfigFile() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// GetDictionaryFile returns the path of the user keyword dictionary
func GetDictionaryFile() string {
	return filepath.Join(GetConfigDir(), "dictionary.yaml")
}

// GetDataDir returns the directory holding the result database and the
// dedup scratch index. SENTINEL_DATA_DIR overrides the XDG location.
func GetDataDir() string {
	if dir := os.Getenv("SENTINEL_DATA_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(xdg.DataHome, appName)
}

// GetDatabaseFile returns the default SQLite result store path
func GetDatabaseFile() string {
	return filepath.Join(GetDataDir(), "sentinel.db")
}

// GetIndexDir returns the default directory of the disk-backed dedup index
func GetIndexDir() string {
	return filepath.Join(GetDataDir(), "dedup-index")
}

// EnsureDir creates dir with user-only permissions if it does not exist
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
