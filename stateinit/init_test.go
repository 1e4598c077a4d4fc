package stateinit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rugix-project/rugix-ctrl/bootloader"
	"github.com/rugix-project/rugix-ctrl/config"
)

func TestBuildFlowExplicitKind(t *testing.T) {
	flow, err := buildFlow(config.BootFlowConfig{Kind: "tryboot"}, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, bootloader.Tryboot, flow.Name())
}

func TestBuildFlowCustomUsesCommand(t *testing.T) {
	flow, err := buildFlow(config.BootFlowConfig{Kind: "custom", CustomCommand: "/bin/true"}, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, bootloader.Custom, flow.Name())
}

func TestBuildFlowDetectsWhenKindEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "autoboot.txt"), []byte("tryboot"), 0644))

	flow, err := buildFlow(config.BootFlowConfig{}, dir)
	require.NoError(t, err)
	require.Equal(t, bootloader.Tryboot, flow.Name())
}

func TestBuildFlowUnknownKindErrors(t *testing.T) {
	_, err := buildFlow(config.BootFlowConfig{Kind: "nonsense"}, t.TempDir())
	require.Error(t, err)
}

func TestExistsTrueForPresentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset.request")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	require.True(t, exists(path))
}

func TestExistsFalseForMissingFile(t *testing.T) {
	require.False(t, exists(filepath.Join(t.TempDir(), "nope")))
}
