package partition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionDevicePathPlainDisk(t *testing.T) {
	require.Equal(t, "/dev/sda2", partitionDevicePath("/dev/sda", 2))
}

func TestPartitionDevicePathMmcblk(t *testing.T) {
	require.Equal(t, "/dev/mmcblk0p2", partitionDevicePath("/dev/mmcblk0", 2))
}

func TestPartitionDevicePathNvme(t *testing.T) {
	require.Equal(t, "/dev/nvme0n1p3", partitionDevicePath("/dev/nvme0n1", 3))
}

func TestPartitionDevicePathLoop(t *testing.T) {
	require.Equal(t, "/dev/loop0p1", partitionDevicePath("/dev/loop0", 1))
}

func TestWholeDiskDevicePlainDisk(t *testing.T) {
	require.Equal(t, "/dev/sda", WholeDiskDevice("/dev/sda2"))
}

func TestWholeDiskDeviceMmcblk(t *testing.T) {
	require.Equal(t, "/dev/mmcblk0", WholeDiskDevice("/dev/mmcblk0p2"))
}

func TestWholeDiskDeviceNvme(t *testing.T) {
	require.Equal(t, "/dev/nvme0n1", WholeDiskDevice("/dev/nvme0n1p3"))
}

func TestWholeDiskDeviceLoop(t *testing.T) {
	require.Equal(t, "/dev/loop0", WholeDiskDevice("/dev/loop0p1"))
}

func TestWholeDiskDeviceRoundtripsWithPartitionDevicePath(t *testing.T) {
	for _, disk := range []string{"/dev/sda", "/dev/mmcblk0", "/dev/nvme0n1", "/dev/loop0"} {
		require.Equal(t, disk, WholeDiskDevice(partitionDevicePath(disk, 7)))
	}
}
