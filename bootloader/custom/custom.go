// Package custom implements the "custom" boot flow variant of spec §4.4:
// an external program invoked with the operation name as its first
// argument and operation-specific arguments as JSON on stdin, expected to
// emit a JSON result on stdout and exit non-zero on failure.
//
// There is no teacher equivalent (wolfbox-snappy only ever shells out to
// fixed tools like grub-editenv); this adapter is grounded on the
// teacher's runCommand subprocess style, generalized to pass structured
// data over stdin/stdout instead of argv.
package custom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/rugix-project/rugix-ctrl/bootloader"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// Flow implements bootloader.BootFlow by delegating every operation to an
// external Program.
type Flow struct {
	Program string
}

func New(program string) *Flow {
	return &Flow{Program: program}
}

func (f *Flow) Name() bootloader.Kind { return bootloader.Custom }

type groupArgs struct {
	Group string `json:"group"`
}

type statusResult struct {
	Status string `json:"status"`
}

type attemptsResult struct {
	Attempts int `json:"attempts"`
}

type defaultResult struct {
	Group string `json:"group"`
}

func (f *Flow) SetTryNext(group string) error {
	_, err := f.call("set-try-next", groupArgs{Group: group}, nil)
	return err
}

func (f *Flow) GetDefault() (string, error) {
	var out defaultResult
	if _, err := f.call("get-default", struct{}{}, &out); err != nil {
		return "", err
	}
	return out.Group, nil
}

func (f *Flow) Commit(group string) error {
	_, err := f.call("commit", groupArgs{Group: group}, nil)
	return err
}

func (f *Flow) PreInstall(group string) error {
	_, err := f.call("pre-install", groupArgs{Group: group}, nil)
	return err
}

func (f *Flow) PostInstall(group string) error {
	_, err := f.call("post-install", groupArgs{Group: group}, nil)
	return err
}

func (f *Flow) RemainingAttempts(group string) (int, error) {
	var out attemptsResult
	if _, err := f.call("remaining-attempts", groupArgs{Group: group}, &out); err != nil {
		return 0, err
	}
	return out.Attempts, nil
}

func (f *Flow) GetStatus(group string) (bootloader.Status, error) {
	var out statusResult
	if _, err := f.call("get-status", groupArgs{Group: group}, &out); err != nil {
		return "", err
	}
	return bootloader.Status(out.Status), nil
}

func (f *Flow) MarkGood(group string) error {
	_, err := f.call("mark-good", groupArgs{Group: group}, nil)
	return err
}

func (f *Flow) MarkBad(group string) error {
	_, err := f.call("mark-bad", groupArgs{Group: group}, nil)
	return err
}

// call invokes Program with op as its first argument, writes the JSON
// encoding of args to its stdin, and decodes its stdout into result (if
// non-nil). Unknown operations are tolerated per spec §4.4/§6 — a
// non-zero exit with nothing meaningful on stdout still surfaces as
// BootFlowState, since this adapter cannot itself distinguish "unknown
// operation, intentionally ignored" from any other subprocess failure;
// that distinction belongs to the custom program's own exit code
// contract.
func (f *Flow) call(op string, args interface{}, result interface{}) ([]byte, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, rugixerr.New("custom.call", rugixerr.ConfigInvalid, err)
	}

	cmd := exec.Command(f.Program, op)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, rugixerr.New("custom.call", rugixerr.BootFlowState,
			fmt.Errorf("%s %s: %w: %s", f.Program, op, err, stderr.String()))
	}

	if result != nil && stdout.Len() > 0 {
		if err := json.Unmarshal(stdout.Bytes(), result); err != nil {
			return nil, rugixerr.New("custom.call", rugixerr.BootFlowState, err)
		}
	}
	return stdout.Bytes(), nil
}
