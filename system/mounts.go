package system

import (
	"bufio"
	"os"
	"strings"
)

// rootMountSource returns the device backing the mount at "/", read from
// /proc/mounts, generalizing the teacher's lsblk-scrape approach
// (partition/partition.go's loadPartitionDetails) to a single targeted
// lookup instead of enumerating every block device.
func rootMountSource() (string, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[1] == "/" {
			return fields[0], nil
		}
	}
	return "", scanner.Err()
}
