package stateinit

import (
	"fmt"
	"os"
	"syscall"

	"github.com/rugix-project/rugix-ctrl/rlog"
)

const serialConsole = "/dev/ttyS0"
const emergencyShell = "/bin/sh"
const fatalLogPath = "/run/rugix-init-fatal.log"

// fatal implements spec §4.6's failure semantics: log to the serial
// console (if available) and to a file under /run, then fall back to an
// emergency shell, or panic the kernel if even that is unavailable. It
// never adjusts the boot flow's default group — that remains the
// bootloader's responsibility via its own dead-man mechanisms.
func fatal(step string, err error) {
	msg := fmt.Sprintf("rugix-init: fatal during %s: %v\n", step, err)

	if console, openErr := os.OpenFile(serialConsole, os.O_WRONLY, 0); openErr == nil {
		console.WriteString(msg)
		console.Close()
	}
	if f, openErr := os.OpenFile(fatalLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); openErr == nil {
		f.WriteString(msg)
		f.Close()
	}
	rlog.L.WithField("step", step).Error(err)

	if _, statErr := os.Stat(emergencyShell); statErr == nil {
		fmt.Fprintln(os.Stderr, "rugix-init: dropping to emergency shell")
		syscall.Exec(emergencyShell, []string{emergencyShell}, os.Environ())
	}

	// Exiting PID 1 makes the kernel panic.
	fmt.Fprintln(os.Stderr, "rugix-init: no emergency shell available, exiting (kernel panic follows)")
	os.Exit(1)
}
