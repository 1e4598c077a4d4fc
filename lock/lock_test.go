package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

func TestAcquireReleaseRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.lock")

	h, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, h.Release())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "\n")
}

func TestAcquireConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.lock")

	first, err := Acquire(path)
	require.NoError(t, err)
	defer first.Release()

	_, err = Acquire(path)
	require.Error(t, err)
	require.True(t, rugixerr.Is(err, rugixerr.LockHeld))
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.lock")

	h, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
}

func TestReleaseNilHandle(t *testing.T) {
	var h *Handle
	require.NoError(t, h.Release())
}

func TestAcquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.lock")

	first, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}
