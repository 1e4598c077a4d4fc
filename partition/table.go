// Table reading and creation (spec §4.1: read_partition_table,
// create_partitions). This is new functionality the teacher never had (the
// teacher relied entirely on ubuntu-device-flash(1) to have already
// partitioned the device); it is grounded on github.com/diskfs/go-diskfs,
// the MBR/GPT library used across the pack's domain-adjacent manifests
// (kairos-io/kairos-agent, canonical-ubuntu-image, rancher-elemental-toolkit).
package partition

import (
	"fmt"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/google/uuid"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// TableKind selects the on-disk partition table format.
type TableKind string

const (
	TableMBR TableKind = "mbr"
	TableGPT TableKind = "gpt"
)

// PartitionSpec describes one entry of a Layout to be created.
type PartitionSpec struct {
	Label    string
	SizeMiB  uint64
	Bootable bool
}

// Layout is a full partition-table specification passed to CreatePartitions.
type Layout struct {
	Kind       TableKind
	Partitions []PartitionSpec
}

// Table is the parsed representation of a device's current partition
// table, used to check CreatePartitions' idempotence precondition.
type Table struct {
	Kind       TableKind
	Partitions []PartitionSpec
}

// ReadPartitionTable opens device and reads its MBR or GPT partition
// table.
func ReadPartitionTable(device string) (Table, error) {
	d, err := diskfs.Open(device)
	if err != nil {
		return Table{}, rugixerr.New("partition.ReadPartitionTable", rugixerr.IoError, err)
	}
	defer d.File.Close()

	pt, err := d.GetPartitionTable()
	if err != nil {
		return Table{}, rugixerr.New("partition.ReadPartitionTable", rugixerr.PartitionMismatch, err)
	}

	switch t := pt.(type) {
	case *gpt.Table:
		out := Table{Kind: TableGPT}
		for _, p := range t.Partitions {
			if p.Size == 0 {
				continue
			}
			out.Partitions = append(out.Partitions, PartitionSpec{
				Label:   p.Name,
				SizeMiB: p.Size / (1024 * 1024),
			})
		}
		return out, nil
	case *mbr.Table:
		out := Table{Kind: TableMBR}
		for _, p := range t.Partitions {
			if p.Size == 0 {
				continue
			}
			out.Partitions = append(out.Partitions, PartitionSpec{
				SizeMiB:  uint64(p.Size) / (1024 * 1024),
				Bootable: p.Bootable,
			})
		}
		return out, nil
	default:
		return Table{}, rugixerr.New("partition.ReadPartitionTable", rugixerr.PartitionMismatch,
			fmt.Errorf("unrecognised partition table type %T", pt))
	}
}

// CreatePartitions applies layout to device. It is idempotent when the
// existing table already matches layout (by kind and partition count/size);
// otherwise it fails with PartitionMismatch unless bootstrap is true, in
// which case the table is (re)written from scratch, per spec §4.1.
func CreatePartitions(device string, layout Layout, bootstrap bool) error {
	existing, err := ReadPartitionTable(device)
	if err == nil && tablesMatch(existing, layout) {
		return nil
	}
	if err == nil && !bootstrap {
		return rugixerr.New("partition.CreatePartitions", rugixerr.PartitionMismatch,
			fmt.Errorf("existing table does not match requested layout and bootstrap was not requested"))
	}

	d, err := diskfs.Open(device)
	if err != nil {
		return rugixerr.New("partition.CreatePartitions", rugixerr.IoError, err)
	}
	defer d.File.Close()

	table, err := buildTable(layout)
	if err != nil {
		return err
	}
	if err := d.Partition(table); err != nil {
		return rugixerr.New("partition.CreatePartitions", rugixerr.IoError, err)
	}
	return nil
}

// ExpandDataPartition implements the first-boot/factory-reset partition
// expansion spec §6 names (`bootstrapping.toml`: "default partition layout
// for first-boot expansion"): it reads device's existing table, resizes
// its last partition (the data partition, by the A/B layout's convention
// of listing it last) to dataSizeMiB, and rewrites the table via
// CreatePartitions. The disk is expected to already carry a valid table
// from image flashing; only the final entry's size changes.
func ExpandDataPartition(device string, kind TableKind, dataSizeMiB int) error {
	existing, err := ReadPartitionTable(device)
	if err != nil {
		return err
	}
	if len(existing.Partitions) == 0 {
		return rugixerr.New("partition.ExpandDataPartition", rugixerr.PartitionMismatch,
			fmt.Errorf("device %s has no existing partitions to expand", device))
	}

	layout := Layout{Kind: kind, Partitions: append([]PartitionSpec(nil), existing.Partitions...)}
	last := len(layout.Partitions) - 1
	layout.Partitions[last].SizeMiB = uint64(dataSizeMiB)

	return CreatePartitions(device, layout, true)
}

func tablesMatch(existing Table, layout Layout) bool {
	if existing.Kind != layout.Kind {
		return false
	}
	if len(existing.Partitions) != len(layout.Partitions) {
		return false
	}
	for i := range existing.Partitions {
		if existing.Partitions[i].SizeMiB != layout.Partitions[i].SizeMiB {
			return false
		}
	}
	return true
}

func buildTable(layout Layout) (partition.Table, error) {
	switch layout.Kind {
	case TableGPT:
		t := &gpt.Table{
			ProtectiveMBR: true,
			GUID:          uuid.NewString(),
		}
		var start uint64 = 2048
		for _, p := range layout.Partitions {
			sizeSectors := p.SizeMiB * 1024 * 1024 / 512
			t.Partitions = append(t.Partitions, &gpt.Partition{
				Start: start,
				End:   start + sizeSectors - 1,
				Size:  p.SizeMiB * 1024 * 1024,
				Name:  p.Label,
				GUID:  uuid.NewString(),
				Type:  gpt.LinuxFilesystem,
			})
			start += sizeSectors
		}
		return t, nil
	case TableMBR:
		t := &mbr.Table{}
		for _, p := range layout.Partitions {
			t.Partitions = append(t.Partitions, &mbr.Partition{
				Size:     p.SizeMiB * 1024 * 1024,
				Type:     mbr.Linux,
				Bootable: p.Bootable,
			})
		}
		return t, nil
	default:
		return nil, rugixerr.New("partition.buildTable", rugixerr.ConfigInvalid,
			fmt.Errorf("unknown table kind %q", layout.Kind))
	}
}
