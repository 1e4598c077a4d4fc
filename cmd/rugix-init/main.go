// Command rugix-init is the State Manager's early-boot entry point (spec
// §4.6): invoked as PID 1 by a custom kernel cmdline, it assembles the
// root filesystem and execs the real init. It takes no flags and never
// returns control to a shell on success.
package main

import (
	"github.com/rugix-project/rugix-ctrl/rlog"
	"github.com/rugix-project/rugix-ctrl/stateinit"
)

func main() {
	rlog.Activate("/run/rugix-init.log", true)
	stateinit.Run()
}
