// init.go ties together the twelve steps of spec §4.6 into Run, the
// entry point cmd/rugix-init calls immediately after the kernel starts
// it as PID 1.
package stateinit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rugix-project/rugix-ctrl/bootloader"
	"github.com/rugix-project/rugix-ctrl/bootloader/custom"
	"github.com/rugix-project/rugix-ctrl/bootloader/grubefi"
	"github.com/rugix-project/rugix-ctrl/bootloader/tryboot"
	"github.com/rugix-project/rugix-ctrl/bootloader/uboot"
	"github.com/rugix-project/rugix-ctrl/config"
	"github.com/rugix-project/rugix-ctrl/hooks"
	"github.com/rugix-project/rugix-ctrl/partition"
	"github.com/rugix-project/rugix-ctrl/rlog"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
	"github.com/rugix-project/rugix-ctrl/system"
)

const (
	configMount = "/run/rugix/mounts/config"
	systemMount = "/run/rugix/mounts/system"
	dataMount   = "/run/rugix/mounts/data"
	newRoot     = "/run/rugix/newroot"
	stateDir    = "/run/rugix/state"

	resetSentinel = "reset.request"
	realInitPath  = "/sbin/init"
)

// Run executes the full early-boot sequence. It never returns on
// success: step 12 execs the real init. On any fatal error it calls
// fatal, which itself does not return.
func Run() {
	if err := run(); err != nil {
		fatal("state-manager-init", err)
	}
}

func run() error {
	// Step 1.
	if err := mountEarlyFilesystems(); err != nil {
		return err
	}

	// Step 2.
	if err := mount(configPartitionDevice(), configMount, "vfat", 0, ""); err != nil {
		return err
	}

	sysCfg, err := config.LoadSystem("/etc/rugix/system.toml")
	if err != nil {
		return err
	}

	// Step 3.
	reg, err := system.New(sysCfg)
	if err != nil {
		return err
	}
	group := reg.ActiveGroup()

	flow, err := buildFlow(sysCfg.BootFlow, configMount)
	if err != nil {
		return err
	}

	// rootDevice is derived from the already-known config-partition device
	// rather than discovered via lsblk: at this point "/" is still the
	// initramfs, not the assembled system root, so lsblk's "what backs the
	// mounted root" query (partition.DiscoverRootDevice, used post-boot by
	// cmd/rugix-ctrl) would answer the wrong question here.
	rootDevice := partition.WholeDiskDevice(configPartitionDevice())

	// Step 4.
	_, slot, err := reg.Resolve("system", group)
	if err != nil {
		return err
	}
	slotPath, err := partition.ResolveSlotPath(slot, rootDevice)
	if err != nil {
		return err
	}
	if err := mount(slotPath, systemMount, "ext4", syscall.MS_RDONLY, ""); err != nil {
		return err
	}

	bootstrapping := isBootstrapping()
	if bootstrapping {
		if err := expandDataPartition(rootDevice); err != nil {
			return err
		}
	}

	// Step 5.
	if err := mount(sysCfg.DataPartition.Device, dataMount, "ext4", 0, ""); err != nil {
		return err
	}

	// Step 11 precondition: check for a pending factory reset before
	// deciding bootstrap/overlay state, since a reset forces a fresh
	// overlay regardless of configured policy.
	resetRequested := exists(filepath.Join(dataMount, resetSentinel))

	stateCfg, err := config.LoadState("/etc/rugix/state.toml")
	if err != nil {
		return err
	}
	policy := stateCfg.Overlay
	if resetRequested {
		policy = config.OverlayDiscard
	}

	// Step 6.
	upper, work, err := overlayDirs(policy, dataMount, group)
	if err != nil {
		return err
	}

	// Step 7.
	if err := assembleRoot(systemMount, upper, work, newRoot); err != nil {
		return err
	}

	// Step 8.
	dataStateDir := filepath.Join(dataMount, "state", "default")
	if err := os.MkdirAll(dataStateDir, 0755); err != nil {
		return err
	}
	if err := bindMount(dataStateDir, stateDir, false); err != nil {
		return err
	}

	// Step 9.
	entries, err := config.LoadPersistDeclarations("/etc/rugix/state")
	if err != nil {
		return err
	}
	if err := seedAndBindPersist(entries, dataStateDir, systemMount, "/"); err != nil {
		return err
	}

	hookRunner := hooks.New("/etc/rugix/hooks")
	env := map[string]string{
		"RUGIX_CONFIG_DIR":   configMount,
		"RUGIX_DATA_DIR":     dataMount,
		"RUGIX_ACTIVE_GROUP": group,
	}

	// Step 10.
	if bootstrapping || resetRequested {
		if err := hookRunner.Run("bootstrap", "default", env); err != nil {
			return err
		}
	}

	// Step 11.
	if resetRequested {
		if err := hookRunner.Run("state-reset", "default", env); err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(dataMount, resetSentinel)); err != nil {
			return err
		}
		rlog.Op("stateinit.run", "factory-reset-complete", nil)
	}

	// Step 12.
	rlog.Op("stateinit.run", "handoff", map[string]interface{}{"init": realInitPath})
	return syscall.Exec(realInitPath, []string{realInitPath}, os.Environ())
}

func buildFlow(cfg config.BootFlowConfig, configDir string) (bootloader.BootFlow, error) {
	kind := bootloader.Kind(cfg.Kind)
	if kind == "" {
		detected, err := bootloader.Detect(configDir)
		if err != nil {
			return nil, err
		}
		kind = detected
	}

	switch kind {
	case bootloader.Tryboot:
		return tryboot.New(configDir), nil
	case bootloader.Uboot:
		return uboot.New(configDir), nil
	case bootloader.GrubEFI:
		return grubefi.New(configDir), nil
	case bootloader.Custom:
		return custom.New(cfg.CustomCommand), nil
	default:
		return nil, rugixerr.New("stateinit.buildFlow", rugixerr.ConfigInvalid,
			fmt.Errorf("unknown boot-flow kind %q", kind))
	}
}

// configPartitionDevice and isBootstrapping are resolved from the kernel
// cmdline: the bootloader's first-stage script appends
// rugix.config_device=... and rugix.bootstrap=1 when expanding a freshly
// flashed image for the first time.
func configPartitionDevice() string {
	return cmdlineValue("rugix.config_device")
}

func isBootstrapping() bool {
	return cmdlineValue("rugix.bootstrap") == "1"
}

func cmdlineValue(key string) string {
	data, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return ""
	}
	prefix := key + "="
	for _, field := range strings.Fields(string(data)) {
		if strings.HasPrefix(field, prefix) {
			return strings.TrimPrefix(field, prefix)
		}
	}
	return ""
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandDataPartition grows the data partition to the size declared in
// bootstrapping.toml on first boot of a freshly flashed image. A missing
// file means the image was flashed with the data partition already at its
// final size, so there is nothing to expand.
func expandDataPartition(rootDevice string) error {
	const bootstrappingPath = "/etc/rugix/bootstrapping.toml"
	if !exists(bootstrappingPath) {
		return nil
	}
	b, err := config.LoadBootstrapping(bootstrappingPath)
	if err != nil {
		return err
	}
	if b.DataSizeMiB <= 0 {
		return nil
	}
	kind := partition.TableKind(b.Layout)
	if kind == "" {
		kind = partition.TableGPT
	}
	return partition.ExpandDataPartition(rootDevice, kind, b.DataSizeMiB)
}
