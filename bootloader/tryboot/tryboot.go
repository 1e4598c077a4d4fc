// Package tryboot implements the Raspberry Pi firmware "tryboot" boot
// flow of spec §4.4: a config partition holding autoboot.txt, whose
// [tryboot] section names the spare boot partition number and whose [all]
// section names the default.
//
// There is no teacher equivalent for this variant (wolfbox-snappy predates
// tryboot firmware); it is grounded on spec §4.4's literal description and
// on the teacher's atomic-rewrite idiom in bootloader_uboot.go's
// modifyNameValueFile (write-temp, then replace), upgraded here to an
// actual fsync'd os.Rename instead of the teacher's plain os.Create.
package tryboot

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rugix-project/rugix-ctrl/bootloader"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

const autobootFile = "autoboot.txt"

// partitionOf maps each boot group to the fixed partition number Raspberry
// Pi firmware boots it from: 2 for "a", 3 for "b". A device with more than
// two groups is not supported by this variant.
var partitionOf = map[string]int{"a": 2, "b": 3}

func groupOfPartition(n int) string {
	for g, p := range partitionOf {
		if p == n {
			return g
		}
	}
	return ""
}

// Flow implements bootloader.BootFlow for the tryboot variant.
type Flow struct {
	ConfigDir string
}

// New returns a tryboot Flow rooted at configDir (typically
// /run/rugix/mounts/config).
func New(configDir string) *Flow {
	return &Flow{ConfigDir: configDir}
}

func (f *Flow) Name() bootloader.Kind { return bootloader.Tryboot }

func (f *Flow) path() string { return filepath.Join(f.ConfigDir, autobootFile) }

type autoboot struct {
	defaultPartition int
	tryPartition     int
}

func (f *Flow) read() (autoboot, error) {
	file, err := os.Open(f.path())
	if err != nil {
		return autoboot{}, rugixerr.New("tryboot.read", rugixerr.IoError, err)
	}
	defer file.Close()

	ab := autoboot{defaultPartition: 2}
	section := "all"
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			section = strings.Trim(line, "[]")
		case strings.HasPrefix(line, "BOOT_PARTITION="):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "BOOT_PARTITION="))
			if err != nil {
				continue
			}
			if section == "tryboot" {
				ab.tryPartition = n
			} else {
				ab.defaultPartition = n
			}
		}
	}
	return ab, scanner.Err()
}

// write performs the write-temp, fsync, rename sequence of spec §4.4's
// tryboot atomicity strategy.
func (f *Flow) write(ab autoboot) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[all]\nBOOT_PARTITION=%d\n", ab.defaultPartition)
	if ab.tryPartition != 0 {
		fmt.Fprintf(&b, "[tryboot]\nBOOT_PARTITION=%d\n", ab.tryPartition)
	}

	tmp := f.path() + ".new"
	file, err := os.Create(tmp)
	if err != nil {
		return rugixerr.New("tryboot.write", rugixerr.IoError, err)
	}
	if _, err := file.WriteString(b.String()); err != nil {
		file.Close()
		return rugixerr.New("tryboot.write", rugixerr.IoError, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return rugixerr.New("tryboot.write", rugixerr.IoError, err)
	}
	if err := file.Close(); err != nil {
		return rugixerr.New("tryboot.write", rugixerr.IoError, err)
	}
	if err := os.Rename(tmp, f.path()); err != nil {
		return rugixerr.New("tryboot.write", rugixerr.IoError, err)
	}
	return nil
}

func (f *Flow) SetTryNext(group string) error {
	n, ok := partitionOf[group]
	if !ok {
		return rugixerr.New("tryboot.SetTryNext", rugixerr.ConfigInvalid,
			fmt.Errorf("unknown group %q", group))
	}
	ab, err := f.read()
	if err != nil {
		return err
	}
	ab.tryPartition = n
	if err := f.write(ab); err != nil {
		return err
	}
	return resetAttempts(f.ConfigDir, group)
}

func (f *Flow) GetDefault() (string, error) {
	ab, err := f.read()
	if err != nil {
		return "", err
	}
	return groupOfPartition(ab.defaultPartition), nil
}

func (f *Flow) Commit(group string) error {
	active, err := currentGroup()
	if err != nil {
		return err
	}
	if active != group {
		return bootloader.ErrNotActive(group)
	}
	ab, err := f.read()
	if err != nil {
		return err
	}
	ab.defaultPartition = partitionOf[group]
	ab.tryPartition = 0
	return f.write(ab)
}

func (f *Flow) PreInstall(group string) error  { return nil }
func (f *Flow) PostInstall(group string) error { return nil }

// currentGroup reads /proc/cmdline for the partition the running kernel
// booted from, via the "bootpart=" argument Raspberry Pi firmware passes.
func currentGroup() (string, error) {
	data, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return "", rugixerr.New("tryboot.currentGroup", rugixerr.IoError, err)
	}
	for _, field := range strings.Fields(string(data)) {
		if strings.HasPrefix(field, "bootpart=") {
			n, err := strconv.Atoi(strings.TrimPrefix(field, "bootpart="))
			if err == nil {
				return groupOfPartition(n), nil
			}
		}
	}
	return "", rugixerr.New("tryboot.currentGroup", rugixerr.BootFlowState,
		fmt.Errorf("bootpart= not found on kernel cmdline"))
}
