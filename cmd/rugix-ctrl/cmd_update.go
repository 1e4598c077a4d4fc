package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rugix-project/rugix-ctrl/installer"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

type cmdUpdate struct {
	Install cmdUpdateInstall `command:"install" description:"Install an update bundle"`
}

func init() {
	var cmdUpdateData cmdUpdate
	_, _ = parser.AddCommand("update", "Manage updates", "Manage updates", &cmdUpdateData)
}

func (x *cmdUpdate) Execute(args []string) error { return nil }

type cmdUpdateInstall struct {
	VerifyBundle string `long:"verify-bundle" description:"expected root hash, alg:hex"`
	Reboot       string `long:"reboot" choice:"no" choice:"yes" choice:"spare" choice:"tryboot" default:"no"`
	BootGroup    string `long:"boot-group" description:"install into this group instead of choosing automatically"`
	Positional   struct {
		Path string `positional-arg-name:"path" description:"bundle path, or - for stdin"`
	} `positional-args:"yes" required:"yes"`
}

func (x *cmdUpdateInstall) Execute(args []string) error {
	return withCtrlLock(func() error {
		ctx, err := newContext()
		if err != nil {
			return err
		}

		rootHash, err := parseVerifyBundle(x.VerifyBundle)
		if err != nil {
			return err
		}

		opts := installer.Options{
			BundlePath:     x.Positional.Path,
			VerifyRootHash: rootHash,
			TargetGroup:    x.BootGroup,
			Reboot:         installer.RebootMode(x.Reboot),
			RootDevice:     ctx.RootDevice,
		}

		group, err := installer.Install(ctx.Registry, ctx.Flow, ctx.Hooks, opts)
		if err != nil {
			return err
		}

		fmt.Printf("installed into boot group %s\n", group)
		return maybeReboot(ctx, installer.RebootMode(x.Reboot), group)
	})
}

// parseVerifyBundle parses the "alg:hex" form of --verify-bundle (spec
// §8, S1: "--verify-bundle sha512-256:a9627e22…"). Only sha512-256 is
// defined, matching the bundle format's single hash_algo value.
func parseVerifyBundle(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 || parts[0] != "sha512-256" {
		return nil, rugixerr.New("parseVerifyBundle", rugixerr.ConfigInvalid,
			fmt.Errorf("--verify-bundle must be of the form sha512-256:<hex>, got %q", value))
	}
	return hex.DecodeString(parts[1])
}
