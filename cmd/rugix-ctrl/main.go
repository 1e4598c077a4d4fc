// Command rugix-ctrl is the Coordinator (spec §4.7): the CLI-driven
// dispatcher binding the Block I/O, Bundle Reader, Slot Registry, Boot
// Flow Driver, Installer, and hook runner behind the stable subcommand
// surface of spec §6.
//
// The subcommand-struct + init()-registration pattern below is kept
// verbatim from the teacher's cmd/snappy-go: a package-level go-flags
// parser, one struct per subcommand registered from its own init(), and
// an Execute([]string) error method doing the work.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/rugix-project/rugix-ctrl/rlog"
	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

type options struct {
	JSON bool `long:"json" description:"emit machine-readable JSON output where supported"`
}

var optionsData options

var parser = flags.NewParser(&optionsData, flags.Default)

func init() {
	if err := rlog.Activate("", false); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: failed to activate logging: %s\n", err)
	}
}

func main() {
	_, err := parser.Parse()
	if err == nil {
		os.Exit(0)
	}

	if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
		os.Exit(0)
	}
	if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrCommandRequired {
		os.Exit(2)
	}

	rlog.LogError("main", err)
	fmt.Fprintln(os.Stderr, err)
	os.Exit(rugixerr.ExitCode(err))
}
