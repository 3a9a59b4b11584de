package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elshodweb/diploma-backend/internal/ledger"
)

func writeJournal(t *testing.T, secret string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.jsonl")
	hc, err := ledger.OpenHashChain(ledger.DeriveChainKey(secret), path)
	require.NoError(t, err)
	l, err := ledger.New(context.Background(), hc, ledger.NewMemoryEntryStore(), ledger.Config{
		Now: func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	for _, doc := range []string{"doc-a", "doc-b", "doc-a"} {
		_, err := l.Append(context.Background(), doc, strings.Repeat("ab", 32), "u1")
		require.NoError(t, err)
	}
	l.Close()
	require.NoError(t, hc.Close())
	return path
}

func TestRun_ValidJournal(t *testing.T) {
	path := writeJournal(t, "cli-secret")
	var out, errOut bytes.Buffer
	code := run([]string{"--journal", path, "--secret", "cli-secret", "--document", "doc-a"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "OK")
	assert.Contains(t, out.String(), "3 records")
	assert.Equal(t, 2, strings.Count(out.String(), "pos="))
}

func TestRun_JSONReport(t *testing.T) {
	path := writeJournal(t, "cli-secret")
	var out, errOut bytes.Buffer
	code := run([]string{"-j", path, "--secret", "cli-secret", "-d", "doc-b", "--json"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	var rep report
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.True(t, rep.Valid)
	assert.Equal(t, 3, rep.Records)
	require.Len(t, rep.Entries, 1)
	assert.Equal(t, uint64(2), rep.Entries[0].EntryID)
	assert.Equal(t, uint64(1), rep.Entries[0].Position)
}

func TestRun_BrokenJournal(t *testing.T) {
	path := writeJournal(t, "cli-secret")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.SplitN(string(raw), "\n", 2)
	var rec ledger.ChainRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	rec.Payload = append([]byte("x"), rec.Payload...)
	first, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(string(first)+"\n"+lines[1]), 0o600))

	var out, errOut bytes.Buffer
	code := run([]string{"--journal", path, "--secret", "cli-secret"}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "BROKEN")
}

func TestRun_WrongSecret(t *testing.T) {
	path := writeJournal(t, "cli-secret")
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, run([]string{"--journal", path, "--secret", "other"}, &out, &errOut))
}

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run(nil, &out, &errOut))
	assert.Equal(t, 2, run([]string{"--journal", "/nonexistent/chain.jsonl", "--secret", "s"}, &out, &errOut))
}
