// Package stateinit implements the State Manager's early-boot sequence
// (spec §4.6): the twelve steps that run as PID 1 (or equivalent),
// assembling the root filesystem from an overlay before handing off to
// the real init.
//
// Unlike the rest of this module, the mount/pivot_root primitives here
// are NOT the teacher's shell-out-to-/bin/mount style (partition.go's
// mount()/unmount() ran external binaries) — PID-1-equivalent code
// cannot assume a populated /bin before it has assembled the root
// filesystem, so these call golang.org/x/sys/unix directly. The
// teacher's signal-handling-unwind structure (partition/signal.go) is
// kept for the same crash-safety reasoning.
package stateinit

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

func mount(source, target, fstype string, flags uintptr, data string) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return rugixerr.New("stateinit.mount", rugixerr.IoError, err)
	}
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return rugixerr.New("stateinit.mount", rugixerr.IoError,
			fmt.Errorf("mount %s -> %s (%s): %w", source, target, fstype, err))
	}
	return nil
}

func bindMount(source, target string, readOnly bool) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return rugixerr.New("stateinit.bindMount", rugixerr.IoError, err)
	}
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return rugixerr.New("stateinit.bindMount", rugixerr.IoError,
			fmt.Errorf("bind %s -> %s: %w", source, target, err))
	}
	if readOnly {
		if err := unix.Mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
			return rugixerr.New("stateinit.bindMount", rugixerr.IoError,
				fmt.Errorf("remount-ro %s: %w", target, err))
		}
	}
	return nil
}

// mountEarlyFilesystems performs step 1: /proc, /sys, /dev, /run.
func mountEarlyFilesystems() error {
	early := []struct{ target, fstype string }{
		{"/proc", "proc"},
		{"/sys", "sysfs"},
		{"/dev", "devtmpfs"},
		{"/run", "tmpfs"},
	}
	for _, fs := range early {
		if err := mount(fs.fstype, fs.target, fs.fstype, 0, ""); err != nil {
			return err
		}
	}
	return nil
}
