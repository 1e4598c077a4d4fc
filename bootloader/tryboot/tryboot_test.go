package tryboot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rugix-project/rugix-ctrl/bootloader"
)

func writeAutoboot(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, autobootFile), []byte(contents), 0644))
}

func TestReadWriteRoundtrip(t *testing.T) {
	dir := t.TempDir()
	writeAutoboot(t, dir, "[all]\nBOOT_PARTITION=2\n[tryboot]\nBOOT_PARTITION=3\n")

	f := New(dir)
	ab, err := f.read()
	require.NoError(t, err)
	require.Equal(t, 2, ab.defaultPartition)
	require.Equal(t, 3, ab.tryPartition)

	ab.defaultPartition = 3
	ab.tryPartition = 0
	require.NoError(t, f.write(ab))

	reread, err := f.read()
	require.NoError(t, err)
	require.Equal(t, 3, reread.defaultPartition)
	require.Equal(t, 0, reread.tryPartition)
}

func TestSetTryNextResetsAttempts(t *testing.T) {
	dir := t.TempDir()
	writeAutoboot(t, dir, "[all]\nBOOT_PARTITION=2\n")

	f := New(dir)
	require.NoError(t, f.SetTryNext("b"))

	ab, err := f.read()
	require.NoError(t, err)
	require.Equal(t, 3, ab.tryPartition)

	remaining, err := f.RemainingAttempts("b")
	require.NoError(t, err)
	require.Equal(t, InitialAttempts, remaining)
}

func TestSetTryNextUnknownGroup(t *testing.T) {
	dir := t.TempDir()
	writeAutoboot(t, dir, "[all]\nBOOT_PARTITION=2\n")

	f := New(dir)
	require.Error(t, f.SetTryNext("c"))
}

func TestGetDefault(t *testing.T) {
	dir := t.TempDir()
	writeAutoboot(t, dir, "[all]\nBOOT_PARTITION=3\n")

	f := New(dir)
	group, err := f.GetDefault()
	require.NoError(t, err)
	require.Equal(t, "b", group)
}

func TestRemainingAttemptsDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	f := New(dir)

	n, err := f.RemainingAttempts("a")
	require.NoError(t, err)
	require.Equal(t, InitialAttempts, n)
}

func TestDecrementAttemptsMarksBadAtZero(t *testing.T) {
	dir := t.TempDir()
	writeAutoboot(t, dir, "[all]\nBOOT_PARTITION=2\n")
	f := New(dir)
	require.NoError(t, resetAttempts(dir, "b"))

	n, err := f.DecrementAttempts("b")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for i := 0; i < 2; i++ {
		_, err = f.DecrementAttempts("b")
		require.NoError(t, err)
	}

	status, err := f.GetStatus("b")
	require.NoError(t, err)
	require.Equal(t, bootloader.Bad, status)
}

func TestMarkGoodResetsAttemptsAndStatus(t *testing.T) {
	dir := t.TempDir()
	f := New(dir)
	require.NoError(t, f.MarkBad("a"))

	status, err := f.GetStatus("a")
	require.NoError(t, err)
	require.Equal(t, bootloader.Bad, status)

	require.NoError(t, f.MarkGood("a"))
	status, err = f.GetStatus("a")
	require.NoError(t, err)
	require.Equal(t, bootloader.Good, status)

	n, err := f.RemainingAttempts("a")
	require.NoError(t, err)
	require.Equal(t, InitialAttempts, n)
}

func TestGetStatusFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	writeAutoboot(t, dir, "[all]\nBOOT_PARTITION=2\n")
	f := New(dir)

	status, err := f.GetStatus("a")
	require.NoError(t, err)
	require.Equal(t, bootloader.Good, status)

	status, err = f.GetStatus("b")
	require.NoError(t, err)
	require.Equal(t, bootloader.Inactive, status)
}

func TestNameIsTryboot(t *testing.T) {
	f := New(t.TempDir())
	require.Equal(t, bootloader.Tryboot, f.Name())
}
