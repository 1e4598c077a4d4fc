package stateinit

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/rugix-project/rugix-ctrl/config"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// seedAndBindPersist implements step 9: for each declared persist path,
// seed its persistent copy from the pristine system filesystem if
// missing, then bind-mount it into the assembled root at its declared
// location.
func seedAndBindPersist(entries []config.PersistEntry, dataStateDir, systemMount, newRoot string) error {
	for _, e := range entries {
		rel := e.Directory
		isDir := true
		if rel == "" {
			rel = e.File
			isDir = false
		}

		persistPath := filepath.Join(dataStateDir, rel)
		pristinePath := filepath.Join(systemMount, rel)
		rootPath := filepath.Join(newRoot, rel)

		if _, err := os.Stat(persistPath); os.IsNotExist(err) {
			if err := seed(pristinePath, persistPath, isDir); err != nil {
				return err
			}
		} else if err != nil {
			return rugixerr.New("stateinit.seedAndBindPersist", rugixerr.IoError, err)
		}

		if err := bindMount(persistPath, rootPath, false); err != nil {
			return err
		}
	}
	return nil
}

// seed copies src to dst, preserving mode/owner; a missing src is
// tolerated by creating an empty directory (for a file entry, only its
// parent directory is created, not the file itself), per spec §4.6
// step 9's "missing source is tolerated" clause. xattrs are preserved
// via a best-effort copy; a failure to copy one is not fatal, since
// xattr support varies by target filesystem and the data itself is
// still copied correctly.
func seed(src, dst string, isDir bool) error {
	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		if isDir {
			return os.MkdirAll(dst, 0755)
		}
		return os.MkdirAll(filepath.Dir(dst), 0755)
	}
	if err != nil {
		return rugixerr.New("stateinit.seed", rugixerr.IoError, err)
	}

	if info.IsDir() {
		return seedDir(src, dst)
	}
	return seedFile(src, dst, info)
}

func seedDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			if err := os.MkdirAll(target, info.Mode()); err != nil {
				return err
			}
			if st, ok := info.Sys().(*syscall.Stat_t); ok {
				return os.Lchown(target, int(st.Uid), int(st.Gid))
			}
			return nil
		}
		return seedFile(path, target, info)
	})
}

func seedFile(src, dst string, info os.FileInfo) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return rugixerr.New("stateinit.seedFile", rugixerr.IoError, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return rugixerr.New("stateinit.seedFile", rugixerr.IoError, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return rugixerr.New("stateinit.seedFile", rugixerr.IoError, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return rugixerr.New("stateinit.seedFile", rugixerr.IoError, err)
	}
	if err := out.Sync(); err != nil {
		return rugixerr.New("stateinit.seedFile", rugixerr.IoError, err)
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		if err := os.Lchown(dst, int(st.Uid), int(st.Gid)); err != nil {
			return rugixerr.New("stateinit.seedFile", rugixerr.IoError, err)
		}
	}

	copyXattrs(src, dst)
	return nil
}

// copyXattrs best-effort copies src's extended attributes onto dst.
// Failures are not fatal: xattr support varies by target filesystem and
// the file's contents and mode are already copied correctly without it.
func copyXattrs(src, dst string) {
	size, err := unix.Listxattr(src, nil)
	if err != nil || size == 0 {
		return
	}
	namesBuf := make([]byte, size)
	n, err := unix.Listxattr(src, namesBuf)
	if err != nil {
		return
	}
	for _, name := range splitXattrNames(namesBuf[:n]) {
		valSize, err := unix.Getxattr(src, name, nil)
		if err != nil || valSize == 0 {
			continue
		}
		val := make([]byte, valSize)
		if _, err := unix.Getxattr(src, name, val); err != nil {
			continue
		}
		_ = unix.Setxattr(dst, name, val, 0)
	}
}

// splitXattrNames splits the NUL-separated name list unix.Listxattr fills
// in, per its man-page-documented wire format.
func splitXattrNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}
