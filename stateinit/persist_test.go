package stateinit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSeedFileCopiesContentAndMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "config.toml")
	dst := filepath.Join(dir, "dst", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0755))
	require.NoError(t, os.WriteFile(src, []byte("key=value\n"), 0640))

	info, err := os.Stat(src)
	require.NoError(t, err)
	require.NoError(t, seedFile(src, dst, info))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "key=value\n", string(data))

	dstInfo, err := os.Stat(dst)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0640), dstInfo.Mode())
}

func TestSeedDirWalksTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("b"), 0644))

	require.NoError(t, seedDir(src, dst))

	a, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "a", string(a))

	b, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "b", string(b))
}

func TestSeedToleratesMissingSourceFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "nope", "missing.conf")
	dst := filepath.Join(dir, "dst", "missing.conf")

	require.NoError(t, seed(src, dst, false))

	_, err := os.Stat(filepath.Dir(dst))
	require.NoError(t, err)
	_, err = os.Stat(dst)
	require.True(t, os.IsNotExist(err))
}

func TestSeedToleratesMissingSourceDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "nope")
	dst := filepath.Join(dir, "dst")

	require.NoError(t, seed(src, dst, true))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestSplitXattrNamesSplitsOnNul(t *testing.T) {
	buf := []byte("user.a\x00user.bb\x00")
	require.Equal(t, []string{"user.a", "user.bb"}, splitXattrNames(buf))
}

func TestSplitXattrNamesEmpty(t *testing.T) {
	require.Empty(t, splitXattrNames(nil))
}

func TestCopyXattrsRoundtripsUserXattr(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("data"), 0644))

	if err := unix.Setxattr(src, "user.rugix.test", []byte("hello"), 0); err != nil {
		t.Skipf("filesystem does not support user xattrs: %v", err)
	}

	copyXattrs(src, dst)

	val := make([]byte, 16)
	n, err := unix.Getxattr(dst, "user.rugix.test", val)
	require.NoError(t, err)
	require.Equal(t, "hello", string(val[:n]))
}

func TestCopyXattrsNoopWhenSrcHasNone(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("data"), 0644))

	require.NotPanics(t, func() { copyXattrs(src, dst) })
}
