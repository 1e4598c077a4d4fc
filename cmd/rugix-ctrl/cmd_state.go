package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rugix-project/rugix-ctrl/config"
	"github.com/rugix-project/rugix-ctrl/partition"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

type cmdState struct {
	Reset   cmdStateReset   `command:"reset" description:"Schedule a factory reset on next boot"`
	Overlay cmdStateOverlay `command:"overlay" description:"Manage overlay persistence"`
}

func init() {
	var cmdStateData cmdState
	_, _ = parser.AddCommand("state", "Manage persisted state", "Manage persisted state", &cmdStateData)
}

func (x *cmdState) Execute(args []string) error { return nil }

type cmdStateReset struct{}

const resetSentinelName = "reset.request"

// Execute drops a sentinel file onto the data partition; stateinit
// clears it and runs state-reset hooks on the next boot (spec §4.6 step
// 11, testable property "state reset followed by state reset is a
// no-op beyond the first").
func (x *cmdStateReset) Execute(args []string) error {
	return withCtrlLock(func() error {
		if _, err := newContext(); err != nil {
			return err
		}

		sentinel := filepath.Join(dataMountDir, resetSentinelName)
		if _, err := os.Stat(sentinel); err == nil {
			fmt.Println("factory reset already scheduled")
			return nil
		}

		f, err := os.Create(sentinel)
		if err != nil {
			return rugixerr.New("cmdStateReset.Execute", rugixerr.IoError, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return rugixerr.New("cmdStateReset.Execute", rugixerr.IoError, err)
		}
		if err := f.Close(); err != nil {
			return rugixerr.New("cmdStateReset.Execute", rugixerr.IoError, err)
		}

		fmt.Println("factory reset scheduled for next boot")
		return nil
	})
}

const dataMountDir = "/run/rugix/mounts/data"

type cmdStateOverlay struct {
	ForcePersist cmdStateOverlayForcePersist `command:"force-persist" description:"Set the overlay policy"`
}

func (x *cmdStateOverlay) Execute(args []string) error { return nil }

type cmdStateOverlayForcePersist struct {
	Positional struct {
		Value string `positional-arg-name:"true|false"`
	} `positional-args:"yes" required:"yes"`
}

// Execute flips state.toml's overlay key under a RemountWritable scope,
// per spec §6's `state overlay force-persist <true|false>`.
func (x *cmdStateOverlayForcePersist) Execute(args []string) error {
	return withCtrlLock(func() error {
		var policy config.OverlayPolicy
		switch x.Positional.Value {
		case "true":
			policy = config.OverlayPersist
		case "false":
			policy = config.OverlayDiscard
		default:
			return rugixerr.New("cmdStateOverlayForcePersist.Execute", rugixerr.ConfigInvalid,
				fmt.Errorf("expected true or false, got %q", x.Positional.Value))
		}

		remount, err := partition.RemountWritable(filepath.Dir(stateConfigPath))
		if err != nil {
			return err
		}
		defer remount.Release()

		if err := config.SaveState(stateConfigPath, &config.State{Overlay: policy}); err != nil {
			return err
		}

		fmt.Printf("overlay policy set to %s\n", policy)
		return nil
	})
}
