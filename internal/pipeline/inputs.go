// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"sentinel-scan/internal/keyword"
	"sentinel-scan/internal/paths"
)

// ErrNoInputDir is returned when the run has no input directory
var ErrNoInputDir = errors.New("input directory is required")

// DiscoverInputs returns the files in dir matching any of the glob
// patterns, de-duplicated and sorted. Subdirectories are not searched.
func DiscoverInputs(dir string, patterns []string) ([]string, error) {
	if dir == "" {
		return nil, ErrNoInputDir
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input %s is not a directory", dir)
	}

	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("input pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			if fi, err := os.Stat(m); err != nil || fi.IsDir() {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// ResolveDictionary loads the keyword dictionary named by path. With no
// path, the user dictionary in the config directory is used when present,
// otherwise the built-in one.
func ResolveDictionary(path string) (*keyword.Dictionary, error) {
	if path != "" {
		return keyword.LoadDictionary(path)
	}
	if user := paths.GetDictionaryFile(); fileExists(user) {
		return keyword.LoadDictionary(user)
	}
	return keyword.DefaultDictionary(), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
