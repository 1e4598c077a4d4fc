// Package system implements the Slot Registry (spec §4.3): a pure
// in-memory model, built from system configuration, that resolves payload
// slot references against boot groups and decides which group to install
// into.
//
// It generalizes the teacher's bootLoader interface's currentRootfs/
// otherRootfs bookkeeping (partition/bootloader.go), which derived "the
// other rootfs" from the last character of a hard-coded partition label,
// into a declarative alias map read from configuration.
package system

import (
	"fmt"
	"os"
	"strings"

	"github.com/rugix-project/rugix-ctrl/config"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// Registry resolves slot references against a System configuration and
// tracks which boot group is currently active.
type Registry struct {
	cfg *config.System

	// activeGroup is resolved once at construction from the kernel
	// command line or the mount source of "/".
	activeGroup string
}

// New builds a Registry from cfg, determining the active boot group via
// detectActiveGroup.
func New(cfg *config.System) (*Registry, error) {
	active, err := detectActiveGroup(cfg)
	if err != nil {
		return nil, err
	}
	return &Registry{cfg: cfg, activeGroup: active}, nil
}

// NewWithActiveGroup builds a Registry with an explicitly supplied active
// group, bypassing auto-detection. Used by tests; rugix-init uses New.
func NewWithActiveGroup(cfg *config.System, active string) *Registry {
	return &Registry{cfg: cfg, activeGroup: active}
}

// ActiveGroup returns the name of the currently booted boot group.
func (r *Registry) ActiveGroup() string { return r.activeGroup }

// Slot looks up a concrete slot by name.
func (r *Registry) Slot(name string) (config.Slot, bool) {
	s, ok := r.cfg.Slots[name]
	return s, ok
}

// Resolve resolves a payload's slot reference (a concrete slot name or a
// group-local alias) against targetGroup, per spec §4.3.
func (r *Registry) Resolve(payloadSlotRef, targetGroup string) (string, config.Slot, error) {
	if s, ok := r.cfg.Slots[payloadSlotRef]; ok {
		return payloadSlotRef, s, nil
	}
	group, ok := r.cfg.BootGroups[targetGroup]
	if !ok {
		return "", config.Slot{}, rugixerr.New("system.Resolve", rugixerr.ConfigInvalid,
			fmt.Errorf("unknown boot group %q", targetGroup))
	}
	slotName, ok := group.Slots[payloadSlotRef]
	if !ok {
		return "", config.Slot{}, rugixerr.New("system.Resolve", rugixerr.ConfigInvalid,
			fmt.Errorf("group %q has no alias %q", targetGroup, payloadSlotRef))
	}
	s, ok := r.cfg.Slots[slotName]
	if !ok {
		return "", config.Slot{}, rugixerr.New("system.Resolve", rugixerr.ConfigInvalid,
			fmt.Errorf("alias %q of group %q refers to unknown slot %q", payloadSlotRef, targetGroup, slotName))
	}
	return slotName, s, nil
}

// IsActive reports whether slotName is a member of the currently active
// boot group's alias map.
func (r *Registry) IsActive(slotName string) bool {
	active, ok := r.cfg.BootGroups[r.activeGroup]
	if !ok {
		return false
	}
	for _, s := range active.Slots {
		if s == slotName {
			return true
		}
	}
	return false
}

// GroupNames returns every configured boot group name, in map order (not
// sorted; callers that need determinism should sort themselves).
func (r *Registry) GroupNames() []string {
	names := make([]string, 0, len(r.cfg.BootGroups))
	for name := range r.cfg.BootGroups {
		names = append(names, name)
	}
	return names
}

// ChooseInstallGroup selects the non-active group by default, per spec
// §4.3. It refuses to return the active group, and fails if there is no
// unambiguous "other" group (e.g. more than two groups configured without
// an explicit override).
func (r *Registry) ChooseInstallGroup() (string, error) {
	var candidates []string
	for _, name := range r.GroupNames() {
		if name != r.activeGroup {
			candidates = append(candidates, name)
		}
	}
	switch len(candidates) {
	case 0:
		return "", rugixerr.New("system.ChooseInstallGroup", rugixerr.ConfigInvalid,
			fmt.Errorf("no group other than active group %q is configured", r.activeGroup))
	case 1:
		return candidates[0], nil
	default:
		return "", rugixerr.New("system.ChooseInstallGroup", rugixerr.ConfigInvalid,
			fmt.Errorf("more than one candidate group (%v); pass --boot-group explicitly", candidates))
	}
}

// detectActiveGroup reads the kernel command line, falling back to the
// mount source of "/", to determine which boot group is currently booted,
// per spec §3 ("the controller determines which by reading the kernel
// command line or mount source of /").
func detectActiveGroup(cfg *config.System) (string, error) {
	if g := groupFromCmdline(); g != "" {
		if _, ok := cfg.BootGroups[g]; ok {
			return g, nil
		}
	}
	if g := groupFromRootMountSource(cfg); g != "" {
		return g, nil
	}
	return "", rugixerr.New("system.detectActiveGroup", rugixerr.ConfigInvalid,
		fmt.Errorf("could not determine active boot group from kernel cmdline or root mount source"))
}

func groupFromCmdline() string {
	data, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return ""
	}
	for _, field := range strings.Fields(string(data)) {
		if strings.HasPrefix(field, "rugix.boot_group=") {
			return strings.TrimPrefix(field, "rugix.boot_group=")
		}
	}
	return ""
}

func groupFromRootMountSource(cfg *config.System) string {
	source, err := rootMountSource()
	if err != nil {
		return ""
	}
	for gname, g := range cfg.BootGroups {
		slotName, ok := g.Slots["system"]
		if !ok {
			continue
		}
		slot, ok := cfg.Slots[slotName]
		if !ok {
			continue
		}
		if slot.Device != "" && slot.Device == source {
			return gname
		}
	}
	return ""
}
