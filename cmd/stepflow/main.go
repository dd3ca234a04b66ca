// Command stepflow runs the workflow engine: an MCP server with the
// schedule sweeper, one-off runs, migrations and manual sweeps.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
