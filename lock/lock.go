// Package lock implements the controller's two exclusivity primitives from
// spec §5: the single system-wide PID lockfile at /run/rugix/ctrl.lock, and
// the config-partition remount lock guarding RemountWritable scopes. The
// teacher left this as a "TODO: locking (sync.Mutex)" comment in
// partition/partition.go; the spec promotes it to a hard requirement.
package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// Handle is a held exclusive lock. Release may be called more than once;
// calls after the first do nothing.
type Handle struct {
	f    *os.File
	path string
}

// Acquire takes a non-blocking exclusive flock on path, creating it if
// necessary. If another process already holds it, Acquire returns an
// *rugixerr.E of kind LockHeld immediately rather than blocking, matching
// spec's "the second fails with LockHeld" race semantics.
func Acquire(path string) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, rugixerr.New("lock.Acquire", rugixerr.IoError, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, rugixerr.New("lock.Acquire", rugixerr.LockHeld,
				fmt.Errorf("%s is held by another process", path))
		}
		return nil, rugixerr.New("lock.Acquire", rugixerr.IoError, err)
	}
	// Record our pid for diagnostics; best-effort, failure is not fatal.
	f.Truncate(0)
	fmt.Fprintf(f, "%d\n", os.Getpid())

	return &Handle{f: f, path: path}, nil
}

// Release drops the lock and closes the underlying file. It never removes
// the lockfile itself, so a subsequent Acquire can reuse the same inode.
func (h *Handle) Release() error {
	if h == nil || h.f == nil {
		return nil
	}
	err := unix.Flock(int(h.f.Fd()), unix.LOCK_UN)
	cerr := h.f.Close()
	h.f = nil
	if err != nil {
		return rugixerr.New("lock.Release", rugixerr.IoError, err)
	}
	return cerr
}

// ConfigPartitionLockPath is the lock enforcing "at most one such scope at
// a time" for RemountWritable on the config partition (spec §5).
const ConfigPartitionLockPath = "/run/rugix/config-partition.lock"

// CtrlLockPath is the system-wide PID lockfile path named in spec §5/§4.7.
const CtrlLockPath = "/run/rugix/ctrl.lock"
