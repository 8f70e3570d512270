// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-scan/internal/detector"
	"sentinel-scan/internal/record"
)

func events() []detector.FlaggedEvent {
	var out []detector.FlaggedEvent
	for i, cat := range []string{"THREAT", "INSULT", "CUSTODY"} {
		r := record.Record{ID: string(rune('a' + i)), Counterparty: "+15550000000", TimestampMs: int64(i + 1)}
		out = append(out, detector.NewEvent(r, cat, detector.TierMedium, detector.Span{Term: "t", Start: i, End: i + 1}, "builtin"))
	}
	return out
}

func TestBegin(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := begin([]byte("a: 1\n"), "builtin-2024.2", func() time.Time { return fixed })

	run := l.Run()
	id, err := ulid.Parse(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(fixed), id.Time())
	assert.Equal(t, "builtin-2024.2", run.DictionaryVersion)
	assert.Equal(t, "a: 1\n", run.ConfigSnapshot)
	sum := sha256.Sum256([]byte("a: 1\n"))
	assert.Equal(t, hex.EncodeToString(sum[:]), run.ConfigHash)
	assert.Contains(t, run.Components, "keyword")
	assert.Empty(t, run.AdapterModel)
}

func TestHashFileAndInputs(t *testing.T) {
	dir := t.TempDir()
	pathB := filepath.Join(dir, "b.xml")
	pathA := filepath.Join(dir, "a.xml")
	require.NoError(t, os.WriteFile(pathB, []byte("<smses/>"), 0o600))
	require.NoError(t, os.WriteFile(pathA, nil, 0o600))

	fb, err := HashFile(pathB)
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("<smses/>"))
	assert.Equal(t, hex.EncodeToString(sum[:]), fb.SHA256)
	assert.EqualValues(t, 8, fb.Bytes)

	fa, err := HashFile(pathA)
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", fa.SHA256)

	_, err = HashFile(filepath.Join(dir, "missing.xml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	l := Begin(nil, "v")
	l.RecordInput(fb)
	l.RecordInput(fa)
	l.RecordInput(fb)
	l.SetAdapterModel("llama3:8b")
	run := l.Finish()
	require.Len(t, run.Inputs, 2)
	assert.Equal(t, pathA, run.Inputs[0].Path)
	assert.Equal(t, "llama3:8b", run.AdapterModel)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
}

func TestSealAndVerify(t *testing.T) {
	evs := events()
	l := Begin(nil, "builtin")
	digest, err := l.SealFlagged(evs)
	require.NoError(t, err)
	run := l.Finish()
	assert.Equal(t, digest, run.FlaggedDigest)
	assert.Equal(t, 3, run.FlaggedCount)

	// order does not matter
	reversed := []detector.FlaggedEvent{evs[2], evs[1], evs[0]}
	require.NoError(t, Verify(run, reversed))

	// confirmation outcomes are outside the keyword layer
	confirmed := events()
	require.NoError(t, confirmed[0].Resolve(detector.Confirmation{Status: detector.StatusRejected}))
	require.NoError(t, confirmed[1].Fallback("down"))
	require.NoError(t, Verify(run, confirmed))

	tampered := events()
	tampered[0].Tier = detector.TierHigh
	assert.ErrorIs(t, Verify(run, tampered), ErrDigestMismatch)
	assert.ErrorIs(t, Verify(run, evs[:2]), ErrDigestMismatch)
}

func TestDigestFlagged_Empty(t *testing.T) {
	d, err := DigestFlagged(nil)
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", d)
}

func TestSignature(t *testing.T) {
	content := []byte(`{"run_id":"01H"}`)
	sig := Sign(content, "s3cret")
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, Sign(content, "s3cret"))

	assert.True(t, VerifySignature(content, sig, "s3cret"))
	assert.False(t, VerifySignature(content, sig, "other"))
	assert.False(t, VerifySignature([]byte(`{"run_id":"01J"}`), sig, "s3cret"))
	assert.False(t, VerifySignature(content, "", "s3cret"))
	assert.False(t, VerifySignature(content, "zz-not-hex", "s3cret"))
	assert.False(t, VerifySignature(content, sig, ""))
}
