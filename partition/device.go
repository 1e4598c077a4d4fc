package partition

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// partitionDevicePath builds the conventional /dev node for partition n of
// rootDevice, handling the nvme/mmcblk "pN" naming convention alongside
// the plain sdaN convention.
func partitionDevicePath(rootDevice string, n int) string {
	if m, _ := regexp.MatchString(`(nvme\d+n|mmcblk|loop)\d+$`, rootDevice); m {
		return fmt.Sprintf("%sp%d", rootDevice, n)
	}
	return fmt.Sprintf("%s%d", rootDevice, n)
}

var partitionSuffix = regexp.MustCompile(`^(.*(?:nvme\d+n\d+|mmcblk\d+|loop\d+))p\d+$|^(.*\D)\d+$`)

// WholeDiskDevice strips the trailing partition number from partitionPath,
// inverting partitionDevicePath. It is used where the whole-disk device
// must be derived from a known partition path without shelling out to
// lsblk — notably stateinit's pre-pivot_root environment, where "/" is
// not yet the real root filesystem and lsblk cannot be asked "what backs
// the mounted root".
func WholeDiskDevice(partitionPath string) string {
	m := partitionSuffix.FindStringSubmatch(partitionPath)
	if m == nil {
		return partitionPath
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// DeviceHandle identifies a whole-disk block device discovered on the
// system.
type DeviceHandle struct {
	Path string
}

// DiscoverRootDevice finds the whole-disk device backing the currently
// mounted root filesystem, generalizing the teacher's loadPartitionDetails/
// runLsblk scrape (partition/partition.go) from "enumerate every
// recognised partition label" to "resolve one device and its parent disk".
func DiscoverRootDevice() (DeviceHandle, error) {
	rows, err := lsblkRows()
	if err != nil {
		return DeviceHandle{}, rugixerr.New("partition.DiscoverRootDevice", rugixerr.IoError, err)
	}
	for _, row := range rows {
		if row["MOUNTPOINT"] == "/" {
			parent := row["PKNAME"]
			if parent == "" {
				parent = row["NAME"]
			}
			return DeviceHandle{Path: "/dev/" + parent}, nil
		}
	}
	return DeviceHandle{}, rugixerr.New("partition.DiscoverRootDevice", rugixerr.IoError,
		fmt.Errorf("no lsblk row mounted at /"))
}

// lsblkRows runs lsblk and parses its NAME=... LABEL=... pairs output, the
// same invocation shape as the teacher's runLsblk var.
func lsblkRows() ([]map[string]string, error) {
	lines, err := runCommandWithStdout(
		"/bin/lsblk",
		"--ascii",
		"--output=NAME,LABEL,PKNAME,MOUNTPOINT",
		"--pairs")
	if err != nil {
		return nil, err
	}

	pattern := regexp.MustCompile(`(?:[^\s"]|"(?:[^"])*")+`)
	var rows []map[string]string
	for _, line := range lines {
		fields := make(map[string]string)
		for _, match := range pattern.FindAllString(line, -1) {
			kv := strings.SplitN(match, "=", 2)
			if len(kv) != 2 {
				continue
			}
			fields[kv[0]] = strings.Trim(kv[1], `"`)
		}
		if len(fields) > 0 {
			rows = append(rows, fields)
		}
	}
	return rows, nil
}
