package bootloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

func TestDetectTryboot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "autoboot.txt"), []byte(""), 0644))

	kind, err := Detect(dir)
	require.NoError(t, err)
	require.Equal(t, Tryboot, kind)
}

func TestDetectUboot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bootpart.default.env"), []byte(""), 0644))

	kind, err := Detect(dir)
	require.NoError(t, err)
	require.Equal(t, Uboot, kind)
}

func TestDetectGrubEFI(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "EFI", "BOOT"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "EFI", "BOOT", "grub.cfg"), []byte(""), 0644))

	kind, err := Detect(dir)
	require.NoError(t, err)
	require.Equal(t, GrubEFI, kind)
}

func TestDetectUnknown(t *testing.T) {
	_, err := Detect(t.TempDir())
	require.Error(t, err)
	require.True(t, rugixerr.Is(err, rugixerr.BootFlowUnknown))
}

func TestErrNotActive(t *testing.T) {
	err := ErrNotActive("b")
	require.True(t, rugixerr.Is(err, rugixerr.NotActive))
	require.ErrorContains(t, err, "b")
}
