package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryPackageIsClean(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"../../sqlinline"}, &stderr), stderr.String())
}

func writeGo(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q.go"), []byte(src), 0o644))
	return dir
}

func TestReportsMissingMarker(t *testing.T) {
	dir := writeGo(t, "package q\n\nconst QBad = `SELECT 1`\n\nconst Label = \"not sql\"\n")

	vs, err := lint([]string{dir})
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "QBad", vs[0].name)
	assert.Equal(t, 3, vs[0].pos.Line)
}

func TestReportsDuplicateMarker(t *testing.T) {
	dir := writeGo(t, "package q\n\nconst (\n"+
		"\tQA = `--sql 11111111-2222-3333-4444-555555555555\nSELECT 1`\n"+
		"\tQB = `--sql 11111111-2222-3333-4444-555555555555\nSELECT 2`\n)\n")

	vs, err := lint([]string{dir})
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "QB", vs[0].name)
	assert.Contains(t, vs[0].message, "already used")

	var stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{dir}, &stderr))
	assert.Contains(t, stderr.String(), "QB")
}

func TestMissingTarget(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{filepath.Join(t.TempDir(), "nope")}, &stderr))
}
