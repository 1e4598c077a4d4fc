package partition

import (
	"golang.org/x/sys/unix"

	"github.com/rugix-project/rugix-ctrl/lock"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// ScopedRemount is the token returned by RemountWritable. Release remounts
// the filesystem read-only and fsyncs it; callers must always Release,
// typically via defer, to satisfy invariant 6 of spec §8 ("remount_writable
// scope exit always leaves the filesystem read-only, even on error").
type ScopedRemount struct {
	path     string
	lockH    *lock.Handle
	released bool
}

// RemountWritable remounts path read-write and returns a token guarding
// the scope. Only the config partition is ever remounted this way, and at
// most one such scope may be open at a time system-wide — enforced here by
// acquiring lock.ConfigPartitionLockPath before touching the mount.
func RemountWritable(path string) (*ScopedRemount, error) {
	h, err := lock.Acquire(lock.ConfigPartitionLockPath)
	if err != nil {
		return nil, err
	}
	if err := remount(path, false); err != nil {
		h.Release()
		return nil, rugixerr.New("partition.RemountWritable", rugixerr.IoError, err)
	}
	sr := &ScopedRemount{path: path, lockH: h}
	registerUnwind(sr)
	return sr, nil
}

// Release remounts the path read-only, fsyncs it, and drops the
// config-partition lock. Safe to call more than once.
func (s *ScopedRemount) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	unregisterUnwind(s)

	remErr := remount(s.path, true)
	unix.Sync()
	lockErr := s.lockH.Release()

	if remErr != nil {
		return rugixerr.New("partition.ScopedRemount.Release", rugixerr.IoError, remErr)
	}
	return lockErr
}

func (s *ScopedRemount) unwind() {
	s.Release()
}

// remount issues MS_REMOUNT for path, selecting read-only or read-write.
func remount(path string, readOnly bool) error {
	flags := uintptr(unix.MS_REMOUNT)
	if readOnly {
		flags |= unix.MS_RDONLY
	}
	return unix.Mount("", path, "", flags, "")
}
