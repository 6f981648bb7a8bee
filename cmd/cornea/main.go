// Command cornea is the CLI client and GDB-remote bridge for an ARM Iris
// Debug Server (spec.md §1): instance/resource/event inspection plus a
// gdb-proxy subcommand that serves a GDB session over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/Linaro/lite-cornea/internal/nlog"
)

func main() {
	nlog.SetVerbose(os.Getenv("CORNEA_VERBOSE") == "1")

	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, fred("Error: ")+err.Error())
		os.Exit(exitCodeFor(err))
	}
}
