// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package normalize

import "fmt"

// MissingFieldError drops one element that lacks a required field
type MissingFieldError struct {
	File    string
	Ordinal int
	Field   string
	Value   string
}

func (e *MissingFieldError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s#%d: field %q unusable (%q)", e.File, e.Ordinal, e.Field, e.Value)
	}
	return fmt.Sprintf("%s#%d: missing field %q", e.File, e.Ordinal, e.Field)
}
