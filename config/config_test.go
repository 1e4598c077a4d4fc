package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

const validSystemTOML = `
[config-partition]
device = "/dev/mmcblk0p1"

[data-partition]
device = "/dev/mmcblk0p4"

[slots.boot-a]
kind = "block"
partition_num = 2

[slots.boot-b]
kind = "block"
partition_num = 3

[boot-groups.a]
slots = { system = "boot-a" }

[boot-groups.b]
slots = { system = "boot-b" }

[boot-flow]
kind = "tryboot"
`

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadSystemValid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "system.toml", validSystemTOML)

	sys, err := LoadSystem(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/mmcblk0p1", sys.ConfigPartition.Device)
	require.Len(t, sys.Slots, 2)
	require.Equal(t, "boot-a", sys.BootGroups["a"].Slots["system"])
	require.Equal(t, "tryboot", sys.BootFlow.Kind)
}

func TestLoadSystemRejectsNoSlots(t *testing.T) {
	path := writeFile(t, t.TempDir(), "system.toml", `
[boot-groups.a]
slots = { system = "boot-a" }
`)
	_, err := LoadSystem(path)
	require.Error(t, err)
	require.True(t, rugixerr.Is(err, rugixerr.ConfigInvalid))
}

func TestLoadSystemRejectsDanglingAlias(t *testing.T) {
	path := writeFile(t, t.TempDir(), "system.toml", `
[slots.boot-a]
kind = "block"
partition_num = 2

[boot-groups.a]
slots = { system = "boot-nonexistent" }
`)
	_, err := LoadSystem(path)
	require.Error(t, err)
	require.True(t, rugixerr.Is(err, rugixerr.ConfigInvalid))
}

func TestLoadSystemRejectsMalformedTOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "system.toml", "this is not [ toml")
	_, err := LoadSystem(path)
	require.Error(t, err)
	require.True(t, rugixerr.Is(err, rugixerr.ConfigInvalid))
}

func TestLoadStateDefaultsToDiscardWhenAbsent(t *testing.T) {
	st, err := LoadState(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, OverlayDiscard, st.Overlay)
}

func TestLoadStateRoundtripsPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.toml")

	require.NoError(t, SaveState(path, &State{Overlay: OverlayPersist}))

	st, err := LoadState(path)
	require.NoError(t, err)
	require.Equal(t, OverlayPersist, st.Overlay)
}

func TestLoadPersistDeclarationsConcatenatesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.toml", `
[[persist]]
directory = "/var/lib/app"
`)
	writeFile(t, dir, "net.toml", `
[[persist]]
file = "/etc/machine-id"
`)
	writeFile(t, dir, "notes.txt", "ignored, not toml")

	entries, err := LoadPersistDeclarations(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestLoadPersistDeclarationsMissingDirIsEmpty(t *testing.T) {
	entries, err := LoadPersistDeclarations(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	require.Nil(t, entries)
}
