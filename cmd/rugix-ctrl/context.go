package main

import (
	"fmt"

	"github.com/rugix-project/rugix-ctrl/bootloader"
	"github.com/rugix-project/rugix-ctrl/bootloader/custom"
	"github.com/rugix-project/rugix-ctrl/bootloader/grubefi"
	"github.com/rugix-project/rugix-ctrl/bootloader/tryboot"
	"github.com/rugix-project/rugix-ctrl/bootloader/uboot"
	"github.com/rugix-project/rugix-ctrl/config"
	"github.com/rugix-project/rugix-ctrl/hooks"
	"github.com/rugix-project/rugix-ctrl/lock"
	"github.com/rugix-project/rugix-ctrl/partition"
	"github.com/rugix-project/rugix-ctrl/rlog"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
	"github.com/rugix-project/rugix-ctrl/system"
)

const (
	systemConfigPath = "/etc/rugix/system.toml"
	stateConfigPath  = "/etc/rugix/state.toml"
	configMountDir   = "/run/rugix/mounts/config"
	hooksRoot        = "/etc/rugix/hooks"
)

// ctrlContext bundles the shared state every subcommand needs: the
// decoded system configuration, the slot registry, the bound boot-flow
// variant, and a hook runner.
type ctrlContext struct {
	SystemCfg  *config.System
	Registry   *system.Registry
	Flow       bootloader.BootFlow
	Hooks      *hooks.Runner
	RootDevice string
}

// newContext loads configuration and binds the boot flow and slot
// registry. Every subcommand calls this first.
func newContext() (*ctrlContext, error) {
	cfg, err := config.LoadSystem(systemConfigPath)
	if err != nil {
		return nil, err
	}

	reg, err := system.New(cfg)
	if err != nil {
		return nil, err
	}

	flow, err := buildFlow(cfg.BootFlow)
	if err != nil {
		return nil, err
	}

	// Slots addressed by partition_num (spec §3/§4.1) need the whole-disk
	// device to resolve to a /dev node. Post-boot, "/" is the real
	// assembled root, so this is the one place DiscoverRootDevice's
	// lsblk-mountpoint lookup is the right tool (stateinit's pre-pivot_root
	// phase instead derives it from the known config-partition device).
	// Not every system uses partition_num addressing, so a lookup failure
	// is logged and left empty rather than aborting every subcommand.
	rootDevice := ""
	if dev, err := partition.DiscoverRootDevice(); err != nil {
		rlog.L.WithField("op", "newContext").WithError(err).Debug("root device discovery failed, partition_num slots unavailable")
	} else {
		rootDevice = dev.Path
	}

	return &ctrlContext{
		SystemCfg:  cfg,
		Registry:   reg,
		Flow:       flow,
		Hooks:      hooks.New(hooksRoot),
		RootDevice: rootDevice,
	}, nil
}

func buildFlow(cfg config.BootFlowConfig) (bootloader.BootFlow, error) {
	kind := bootloader.Kind(cfg.Kind)
	if kind == "" {
		detected, err := bootloader.Detect(configMountDir)
		if err != nil {
			return nil, err
		}
		kind = detected
	}

	switch kind {
	case bootloader.Tryboot:
		return tryboot.New(configMountDir), nil
	case bootloader.Uboot:
		return uboot.New(configMountDir), nil
	case bootloader.GrubEFI:
		return grubefi.New(configMountDir), nil
	case bootloader.Custom:
		return custom.New(cfg.CustomCommand), nil
	default:
		return nil, rugixerr.New("buildFlow", rugixerr.ConfigInvalid,
			fmt.Errorf("unknown boot-flow kind %q", kind))
	}
}

// withCtrlLock runs fn while holding the single system-wide operation
// lock at /run/rugix/ctrl.lock (spec §5: "only one update, commit, or
// state-reset operation is permitted system-wide at a time").
func withCtrlLock(fn func() error) error {
	h, err := lock.Acquire(lock.CtrlLockPath)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn()
}
