package stateinit

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/rugix-project/rugix-ctrl/config"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// overlayDirs resolves the upper/work directories for group according to
// policy, creating them if absent (step 6). discard gets a fresh
// tmpfs-backed pair under /run so every boot starts clean; persist gets a
// stable per-group directory on the data partition.
func overlayDirs(policy config.OverlayPolicy, dataDir, group string) (upper, work string, err error) {
	switch policy {
	case config.OverlayPersist:
		base := filepath.Join(dataDir, "overlay", group)
		upper = filepath.Join(base, "upper")
		work = filepath.Join(base, "work")
		if err := os.MkdirAll(upper, 0755); err != nil {
			return "", "", rugixerr.New("stateinit.overlayDirs", rugixerr.IoError, err)
		}
		if err := os.MkdirAll(work, 0755); err != nil {
			return "", "", rugixerr.New("stateinit.overlayDirs", rugixerr.IoError, err)
		}
		return upper, work, nil

	default: // config.OverlayDiscard
		tmpfsDir := "/run/rugix/overlay-tmp"
		if err := mount("tmpfs", tmpfsDir, "tmpfs", 0, ""); err != nil {
			return "", "", err
		}
		upper = filepath.Join(tmpfsDir, "upper")
		work = filepath.Join(tmpfsDir, "work")
		if err := os.MkdirAll(upper, 0755); err != nil {
			return "", "", rugixerr.New("stateinit.overlayDirs", rugixerr.IoError, err)
		}
		if err := os.MkdirAll(work, 0755); err != nil {
			return "", "", rugixerr.New("stateinit.overlayDirs", rugixerr.IoError, err)
		}
		return upper, work, nil
	}
}

// assembleRoot mounts an overlay (lower=systemMount, upper/work as given)
// at newRoot and pivot_roots into it (step 7).
func assembleRoot(systemMount, upper, work, newRoot string) error {
	data := "lowerdir=" + systemMount + ",upperdir=" + upper + ",workdir=" + work
	if err := mount("overlay", newRoot, "overlay", 0, data); err != nil {
		return err
	}

	oldRoot := filepath.Join(newRoot, ".oldroot")
	if err := os.MkdirAll(oldRoot, 0700); err != nil {
		return rugixerr.New("stateinit.assembleRoot", rugixerr.IoError, err)
	}

	if err := unix.PivotRoot(newRoot, oldRoot); err != nil {
		return rugixerr.New("stateinit.assembleRoot", rugixerr.IoError, err)
	}
	if err := os.Chdir("/"); err != nil {
		return rugixerr.New("stateinit.assembleRoot", rugixerr.IoError, err)
	}
	return nil
}
