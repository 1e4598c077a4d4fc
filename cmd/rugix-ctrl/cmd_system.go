package main

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"github.com/rugix-project/rugix-ctrl/installer"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

type cmdSystem struct {
	Commit cmdSystemCommit `command:"commit" description:"Commit the currently running boot group as the default"`
	Reboot cmdSystemReboot `command:"reboot" description:"Reboot, optionally into the spare group"`
	Info   cmdSystemInfo   `command:"info" description:"Show system and boot-flow status"`
}

func init() {
	var cmdSystemData cmdSystem
	_, _ = parser.AddCommand("system", "Manage system state", "Manage system state", &cmdSystemData)
}

func (x *cmdSystem) Execute(args []string) error { return nil }

type cmdSystemCommit struct{}

func (x *cmdSystemCommit) Execute(args []string) error {
	return withCtrlLock(func() error {
		ctx, err := newContext()
		if err != nil {
			return err
		}
		active := ctx.Registry.ActiveGroup()
		if err := ctx.Flow.Commit(active); err != nil {
			return err
		}
		fmt.Printf("committed boot group %s as default\n", active)
		return nil
	})
}

type cmdSystemReboot struct {
	Spare     bool   `long:"spare" description:"reboot into the non-active group once"`
	BootGroup string `long:"boot-group" description:"reboot into this specific group once"`
}

func (x *cmdSystemReboot) Execute(args []string) error {
	return withCtrlLock(func() error {
		ctx, err := newContext()
		if err != nil {
			return err
		}

		group := x.BootGroup
		if group == "" && x.Spare {
			group, err = ctx.Registry.ChooseInstallGroup()
			if err != nil {
				return err
			}
		}
		if group != "" {
			if err := ctx.Flow.SetTryNext(group); err != nil {
				return err
			}
		}

		return doReboot()
	})
}

type cmdSystemInfo struct{}

type systemInfo struct {
	ActiveGroup string `json:"active_group"`
	DefaultGroup string `json:"default_group"`
	Groups      []groupInfo `json:"groups"`
}

type groupInfo struct {
	Name              string `json:"name"`
	Active            bool   `json:"active"`
	Status            string `json:"status"`
	RemainingAttempts int    `json:"remaining_attempts"`
}

func (x *cmdSystemInfo) Execute(args []string) error {
	ctx, err := newContext()
	if err != nil {
		return err
	}

	def, err := ctx.Flow.GetDefault()
	if err != nil {
		return err
	}

	info := systemInfo{
		ActiveGroup:  ctx.Registry.ActiveGroup(),
		DefaultGroup: def,
	}
	for _, name := range ctx.Registry.GroupNames() {
		status, err := ctx.Flow.GetStatus(name)
		if err != nil {
			return err
		}
		attempts, err := ctx.Flow.RemainingAttempts(name)
		if err != nil {
			return err
		}
		info.Groups = append(info.Groups, groupInfo{
			Name:              name,
			Active:            name == ctx.Registry.ActiveGroup(),
			Status:            string(status),
			RemainingAttempts: attempts,
		})
	}

	if optionsData.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Printf("active group:  %s\n", info.ActiveGroup)
	fmt.Printf("default group: %s\n", info.DefaultGroup)
	for _, g := range info.Groups {
		fmt.Printf("  %s: status=%s remaining_attempts=%d active=%v\n",
			g.Name, g.Status, g.RemainingAttempts, g.Active)
	}
	return nil
}

// maybeReboot implements the installer's optional --reboot step (spec
// §4.5 step 8).
func maybeReboot(ctx *ctrlContext, mode installer.RebootMode, installedGroup string) error {
	switch mode {
	case installer.RebootNo, "":
		return nil
	case installer.RebootYes:
		return doReboot()
	case installer.RebootTryboot, installer.RebootSpare:
		if err := ctx.Flow.SetTryNext(installedGroup); err != nil {
			return err
		}
		return doReboot()
	default:
		return rugixerr.New("maybeReboot", rugixerr.ConfigInvalid,
			fmt.Errorf("unknown --reboot mode %q", mode))
	}
}

func doReboot() error {
	return syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
}
