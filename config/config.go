// Package config loads the controller's TOML configuration files:
// /etc/rugix/system.toml, /etc/rugix/state.toml,
// /etc/rugix/bootstrapping.toml, and /etc/rugix/state/*.toml (spec §6).
//
// The struct-tag decoding style here generalizes the teacher's
// hardwareSpecType (partition/partition.go), which decoded YAML via struct
// tags; TOML is used instead because it is the format spec.md names.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// SlotKind distinguishes the two slot variants of spec §3.
type SlotKind string

const (
	SlotBlock SlotKind = "block"
	SlotFile  SlotKind = "file"
)

// Slot is a named, typed destination, decoded from [slots.<name>].
type Slot struct {
	Kind SlotKind `toml:"kind"`

	// Block slots: either a device path or a root-device partition
	// number.
	Device        string `toml:"device"`
	PartitionNum  int    `toml:"partition_num"`

	// File slots: a path inside another slot's filesystem.
	InSlot string `toml:"in_slot"`
	Path   string `toml:"path"`
}

// BootGroup is a named set of slots with a local alias mapping, decoded
// from [boot-groups.<name>].
type BootGroup struct {
	Slots map[string]string `toml:"slots"` // alias -> concrete slot name
}

// BootFlowConfig selects and configures the boot-flow variant.
type BootFlowConfig struct {
	Kind          string `toml:"kind"` // "", "tryboot", "u-boot", "grub-efi", "custom"
	CustomCommand string `toml:"custom_command"`
}

// PartitionRef names a block device backing the config or data partition.
type PartitionRef struct {
	Device string `toml:"device"`
}

// System is the decoded contents of /etc/rugix/system.toml.
type System struct {
	ConfigPartition PartitionRef         `toml:"config-partition"`
	DataPartition   PartitionRef         `toml:"data-partition"`
	Slots           map[string]Slot      `toml:"slots"`
	BootGroups      map[string]BootGroup `toml:"boot-groups"`
	BootFlow        BootFlowConfig       `toml:"boot-flow"`
}

// OverlayPolicy selects between the two overlay configurations of spec §3.
type OverlayPolicy string

const (
	OverlayDiscard OverlayPolicy = "discard"
	OverlayPersist OverlayPolicy = "persist"
)

// State is the decoded contents of /etc/rugix/state.toml.
type State struct {
	Overlay OverlayPolicy `toml:"overlay"`
}

// Bootstrapping is the decoded contents of /etc/rugix/bootstrapping.toml.
type Bootstrapping struct {
	Layout       string `toml:"layout"` // "mbr" or "gpt"
	DataSizeMiB  int    `toml:"data-size-mib"`
}

// PersistEntry is one [[persist]] record from /etc/rugix/state/*.toml.
type PersistEntry struct {
	Directory string `toml:"directory"`
	File      string `toml:"file"`
}

// PersistFile is the decoded contents of a single /etc/rugix/state/*.toml
// file, one per component.
type PersistFile struct {
	Persist []PersistEntry `toml:"persist"`
}

// LoadSystem decodes path as a System configuration.
func LoadSystem(path string) (*System, error) {
	var s System
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, rugixerr.New("config.LoadSystem", rugixerr.ConfigInvalid, err)
	}
	if err := validateSystem(&s); err != nil {
		return nil, rugixerr.New("config.LoadSystem", rugixerr.ConfigInvalid, err)
	}
	return &s, nil
}

func validateSystem(s *System) error {
	if len(s.Slots) == 0 {
		return fmt.Errorf("system.toml: no [slots.*] declared")
	}
	if len(s.BootGroups) == 0 {
		return fmt.Errorf("system.toml: no [boot-groups.*] declared")
	}
	for gname, g := range s.BootGroups {
		for alias, slotName := range g.Slots {
			if _, ok := s.Slots[slotName]; !ok {
				return fmt.Errorf("boot-groups.%s: alias %q refers to unknown slot %q", gname, alias, slotName)
			}
		}
	}
	return nil
}

// LoadState decodes path as a State configuration, defaulting to
// OverlayDiscard if the file is absent, matching spec §3's stated default.
func LoadState(path string) (*State, error) {
	st := &State{Overlay: OverlayDiscard}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return st, nil
	}
	if _, err := toml.DecodeFile(path, st); err != nil {
		return nil, rugixerr.New("config.LoadState", rugixerr.ConfigInvalid, err)
	}
	if st.Overlay == "" {
		st.Overlay = OverlayDiscard
	}
	return st, nil
}

// SaveState rewrites path with st. Callers are responsible for wrapping
// this in a RemountWritable scope, since state.toml lives on the
// read-only-by-default config partition.
func SaveState(path string, st *State) error {
	f, err := os.Create(path)
	if err != nil {
		return rugixerr.New("config.SaveState", rugixerr.IoError, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(st); err != nil {
		return rugixerr.New("config.SaveState", rugixerr.IoError, err)
	}
	return f.Sync()
}

// LoadBootstrapping decodes path as a Bootstrapping configuration.
func LoadBootstrapping(path string) (*Bootstrapping, error) {
	var b Bootstrapping
	if _, err := toml.DecodeFile(path, &b); err != nil {
		return nil, rugixerr.New("config.LoadBootstrapping", rugixerr.ConfigInvalid, err)
	}
	return &b, nil
}

// LoadPersistDeclarations scans dir (typically /etc/rugix/state) for
// *.toml files, decoding each as a PersistFile and concatenating their
// [[persist]] entries, one file per component per spec §6.
func LoadPersistDeclarations(dir string) ([]PersistEntry, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, rugixerr.New("config.LoadPersistDeclarations", rugixerr.IoError, err)
	}
	var all []PersistEntry
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		var pf PersistFile
		full := filepath.Join(dir, e.Name())
		if _, err := toml.DecodeFile(full, &pf); err != nil {
			return nil, rugixerr.New("config.LoadPersistDeclarations", rugixerr.ConfigInvalid, err)
		}
		all = append(all, pf.Persist...)
	}
	return all, nil
}
