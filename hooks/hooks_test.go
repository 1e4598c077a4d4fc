package hooks

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

func writeHook(t *testing.T, root, operation, stage, name, script string) {
	t.Helper()
	dir := filepath.Join(root, operation, stage)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
}

func TestRunMissingDirIsNoop(t *testing.T) {
	r := New(t.TempDir())
	require.NoError(t, r.Run("update-install", "pre-update", nil))
}

func TestRunExecutesInRankOrder(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "order.txt")
	writeHook(t, root, "update-install", "pre-update", "10-first",
		`echo first >> `+out)
	writeHook(t, root, "update-install", "pre-update", "20-second",
		`echo second >> `+out)

	r := New(root)
	require.NoError(t, r.Run("update-install", "pre-update", nil))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "first\nsecond\n", string(data))
}

func TestRunPassesArgsAndEnv(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "seen.txt")
	writeHook(t, root, "update-install", "post-update", "10-check",
		`echo "$1 $2 $RUGIX_TARGET_GROUP" > `+out)

	r := New(root)
	require.NoError(t, r.Run("update-install", "post-update", map[string]string{
		"RUGIX_TARGET_GROUP": "b",
	}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "update-install post-update b\n", string(data))
}

func TestRunFailsOnNonZeroExit(t *testing.T) {
	root := t.TempDir()
	writeHook(t, root, "update-install", "pre-update", "10-fail", `exit 1`)

	r := New(root)
	err := r.Run("update-install", "pre-update", nil)
	require.Error(t, err)
	require.True(t, rugixerr.Is(err, rugixerr.HookFailed))
}

func TestRunTimesOut(t *testing.T) {
	root := t.TempDir()
	writeHook(t, root, "update-install", "pre-update", "10-slow", `sleep 5`)

	r := New(root)
	r.Timeout = 10 * time.Millisecond
	err := r.Run("update-install", "pre-update", nil)
	require.Error(t, err)
	require.True(t, rugixerr.Is(err, rugixerr.HookFailed))
}
