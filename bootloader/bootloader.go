// Package bootloader implements the Boot Flow Driver (spec §4.4): a
// tagged-variant capability interface over the bootloader-specific state
// machine that picks which boot group boots next.
//
// It generalizes the teacher's bootLoader interface (partition/bootloader.go:
// Name, ToggleRootFS, GetBootVar/SetBootVar, MarkCurrentBootSuccessful) to
// the richer contract spec §4.4 requires (SetTryNext, GetDefault, Commit,
// and the optional PreInstall/PostInstall/RemainingAttempts/GetStatus/
// MarkGood/MarkBad operations).
package bootloader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// Kind names a boot-flow variant.
type Kind string

const (
	Tryboot      Kind = "tryboot"
	Uboot        Kind = "u-boot"
	GrubEFI      Kind = "grub-efi"
	Custom       Kind = "custom"
	SystemdBoot  Kind = "systemd-boot" // reserved, not implemented — see SPEC_FULL.md §4.1
)

// Status is one of the five boot-flow states of spec §4.4's state machine.
type Status string

const (
	Inactive   Status = "inactive"
	Active     Status = "active"
	TryingNext Status = "trying-next"
	Good       Status = "good"
	Bad        Status = "bad"
)

// BootFlow is the capability interface every variant implements.
type BootFlow interface {
	Name() Kind

	// SetTryNext arranges that the next boot attempts group, with
	// transitive fallback to the current default.
	SetTryNext(group string) error

	// GetDefault returns the group the bootloader boots absent any
	// try-next override.
	GetDefault() (string, error)

	// Commit makes group the new default. Fails with NotActive if group
	// is not the currently booted group.
	Commit(group string) error

	// PreInstall and PostInstall bracket an installer's payload writes.
	// Both are no-ops for variants that need no install-time hook.
	PreInstall(group string) error
	PostInstall(group string) error

	// RemainingAttempts reports the boot attempts left for group before
	// the bootloader falls back to the default, if the variant tracks
	// this natively or via emulation (see SPEC_FULL.md §4.3).
	RemainingAttempts(group string) (int, error)

	// GetStatus reports the tri-state status of group.
	GetStatus(group string) (Status, error)

	// MarkGood resets group's remaining-attempts counter to its initial
	// value and marks it Good.
	MarkGood(group string) error

	// MarkBad marks group Bad; the bootloader must refuse to boot it.
	MarkBad(group string) error
}

// Detect inspects configPartitionPath to pick a boot-flow variant when
// none is configured, per spec §4.4's "Runtime detection" paragraph.
func Detect(configPartitionPath string) (Kind, error) {
	if exists(filepath.Join(configPartitionPath, "autoboot.txt")) {
		return Tryboot, nil
	}
	if exists(filepath.Join(configPartitionPath, "bootpart.default.env")) {
		return Uboot, nil
	}
	if dirExists(filepath.Join(configPartitionPath, "EFI")) &&
		(exists(filepath.Join(configPartitionPath, "EFI", "BOOT", "grub.cfg")) ||
			exists(filepath.Join(configPartitionPath, "grub", "grub.cfg"))) {
		return GrubEFI, nil
	}
	return "", rugixerr.New("bootloader.Detect", rugixerr.BootFlowUnknown,
		fmt.Errorf("no recognised boot-flow marker under %s", configPartitionPath))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// ErrNotActive is returned by Commit when group is not the currently
// booted group.
func ErrNotActive(group string) error {
	return rugixerr.New("bootloader.Commit", rugixerr.NotActive,
		fmt.Errorf("group %q is not the currently booted group", group))
}
