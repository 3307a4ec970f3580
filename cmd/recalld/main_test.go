package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCommand(t *testing.T) {
	t.Setenv("RECALLD_STORAGE_PATH", t.TempDir())

	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"stats"})

	require.NoError(t, rootCmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "mode:")
	assert.Contains(t, out, "entries:")
}

func TestCleanupCommandEmptyStore(t *testing.T) {
	t.Setenv("RECALLD_STORAGE_PATH", t.TempDir())

	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"cleanup"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "removed 0 expired entries")
}
