// Command eventtail connects to a console event stream and prints every
// envelope it receives. It is a thin shell around realtime.Client intended for
// debugging the /ws endpoint from a terminal.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
