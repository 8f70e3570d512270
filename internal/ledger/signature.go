// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

func signingKey(secret string) []byte {
	k := sha256.Sum256([]byte(secret))
	return k[:]
}

// Sign returns the hex HMAC-SHA256 of content keyed by SHA-256(secret)
func Sign(content []byte, secret string) string {
	mac := hmac.New(sha256.New, signingKey(secret))
	mac.Write(content)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature from Sign. Empty or malformed
// signatures, and an empty secret, never verify.
func VerifySignature(content []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, signingKey(secret))
	mac.Write(content)
	return hmac.Equal(got, mac.Sum(nil))
}
