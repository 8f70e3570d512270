// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"fmt"
	"os"
	"strings"
)

// NotSetError reports a missing or blank secret variable
type NotSetError struct {
	Name string
}

func (e *NotSetError) Error() string {
	return fmt.Sprintf("%s is not set", e.Name)
}

// Secret holds key material such as the report signing secret.
//
// Clear zeroes the internal byte slice. Copies made by String cannot be
// zeroed, and the garbage collector may have moved the data.
type Secret struct {
	data []byte
}

// NewSecret copies s into a mutable byte slice
func NewSecret(s string) *Secret {
	data := make([]byte, len(s))
	copy(data, s)
	return &Secret{data: data}
}

// SecretFromEnv reads a secret from the named environment variable.
// Surrounding whitespace is dropped.
func SecretFromEnv(name string) (*Secret, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil, &NotSetError{Name: name}
	}
	return NewSecret(v), nil
}

// String returns the secret. Each call creates a copy that Clear cannot reach.
func (s *Secret) String() string {
	if s == nil {
		return ""
	}
	return string(s.data)
}

// Empty reports whether the secret holds no data
func (s *Secret) Empty() bool {
	return s == nil || len(s.data) == 0
}

// Clear overwrites the secret with zeros and releases it
func (s *Secret) Clear() {
	if s == nil || s.data == nil {
		return
	}
	for i := range s.data {
		s.data[i] = 0
	}
	s.data = nil
}
