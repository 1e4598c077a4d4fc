// Package installer orchestrates an update install (spec §4.5): resolve
// a target boot group, run pre/post-install hooks, stream verified
// payloads from a bundle onto slots via the Block I/O layer, then arm
// the boot flow.
//
// Install/doInstall below mirror the teacher's snappy.Install/doInstall
// pair (snappy/install.go): an outer function that logs and wraps the
// error, and an inner function that does the real sequencing and returns
// a raw error.
package installer

import (
	"fmt"
	"io"

	"github.com/rugix-project/rugix-ctrl/bootloader"
	"github.com/rugix-project/rugix-ctrl/bundle"
	"github.com/rugix-project/rugix-ctrl/hooks"
	"github.com/rugix-project/rugix-ctrl/partition"
	"github.com/rugix-project/rugix-ctrl/rlog"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
	"github.com/rugix-project/rugix-ctrl/system"
)

// RebootMode selects what happens after a successful install, per the
// `--reboot` CLI flag of spec §6.
type RebootMode string

const (
	RebootNo      RebootMode = "no"
	RebootYes     RebootMode = "yes"
	RebootTryboot RebootMode = "tryboot"
	RebootSpare   RebootMode = "spare"
)

// Options controls one Install invocation.
type Options struct {
	BundlePath       string // filesystem path, or "-" for stdin
	VerifyRootHash   []byte // operator-supplied expected root hash, or nil
	TargetGroup      string // explicit target group, or "" to let the registry choose
	Reboot           RebootMode
	RootDevice       string
}

// Install performs a full update install and returns the boot group it
// installed into.
func Install(reg *system.Registry, flow bootloader.BootFlow, hookRunner *hooks.Runner, opts Options) (string, error) {
	group, err := doInstall(reg, flow, hookRunner, opts)
	if err != nil {
		return "", rlog.LogError("installer.Install", err)
	}
	return group, nil
}

func doInstall(reg *system.Registry, flow bootloader.BootFlow, hookRunner *hooks.Runner, opts Options) (group string, err error) {
	defer func() {
		if err != nil {
			err = rugixerr.New("installer.doInstall", kindOf(err), err)
		}
	}()

	group = opts.TargetGroup
	if group == "" {
		group, err = reg.ChooseInstallGroup()
		if err != nil {
			return "", err
		}
	}

	env := hookEnv(reg, group)

	if err := hookRunner.Run("update-install", "pre-update", env); err != nil {
		return "", fmt.Errorf("pre-update hook: %w", err)
	}

	if err := flow.PreInstall(group); err != nil {
		return "", fmt.Errorf("boot flow pre-install: %w", err)
	}

	reader, err := bundle.Open(opts.BundlePath, opts.VerifyRootHash)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	if err := writePayloads(reg, reader, group, opts.RootDevice); err != nil {
		return "", err
	}

	if err := flow.PostInstall(group); err != nil {
		return "", fmt.Errorf("boot flow post-install: %w", err)
	}

	if err := flow.SetTryNext(group); err != nil {
		return "", fmt.Errorf("boot flow set-try-next: %w", err)
	}

	if err := hookRunner.Run("update-install", "post-update", env); err != nil {
		rlog.L.WithError(err).Warn("post-update hook failed; install already committed to try-next")
	}

	return group, nil
}

// writePayloads streams every payload in reader onto its resolved slot,
// per spec §4.5 step 4. Any failure here leaves the active group
// untouched and the target group non-default: the partially written
// writer's file/slot is simply dropped, matching the teacher's "garbage
// collect on next success" posture but without even that, since A/B has
// no notion of accumulated garbage.
func writePayloads(reg *system.Registry, reader *bundle.Reader, group string, rootDevice string) error {
	for {
		payload, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		slotName, slot, err := reg.Resolve(payload.SlotRef, group)
		if err != nil {
			return err
		}

		path, err := partition.ResolveSlotPath(slot, rootDevice)
		if err != nil {
			return err
		}

		writer, err := partition.OpenSlotWriter(path, false, reg.IsActive(slotName))
		if err != nil {
			return err
		}

		if err := streamPayload(writer, payload); err != nil {
			return fmt.Errorf("writing slot %q: %w", slotName, err)
		}

		if err := writer.Close(); err != nil {
			return fmt.Errorf("closing slot %q: %w", slotName, err)
		}
	}
}

func streamPayload(writer *partition.ScopedWriter, payload *bundle.Payload) error {
	blocks, err := payload.Blocks()
	if err != nil {
		return err
	}

	var written uint64
	buf := make([]byte, partition.BlockSize)
	for {
		n, err := io.ReadFull(blocks, buf)
		if n > 0 {
			if werr := writer.WriteBlock(buf[:n]); werr != nil {
				return werr
			}
			written += uint64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return rugixerr.New("installer.streamPayload", rugixerr.IoError, err)
		}
	}

	if written != payload.Size {
		return rugixerr.New("installer.streamPayload", rugixerr.BundleMalformed,
			fmt.Errorf("payload %q declared size %d, wrote %d", payload.SlotRef, payload.Size, written))
	}
	return nil
}

func hookEnv(reg *system.Registry, targetGroup string) map[string]string {
	return map[string]string{
		"RUGIX_ACTIVE_GROUP": reg.ActiveGroup(),
		"RUGIX_TARGET_GROUP": targetGroup,
	}
}

func kindOf(err error) rugixerr.Kind {
	var e *rugixerr.E
	if asE(err, &e) {
		return e.Kind
	}
	return rugixerr.IoError
}

func asE(err error, target **rugixerr.E) bool {
	for err != nil {
		if e, ok := err.(*rugixerr.E); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
