// mcpresso-oauth is the operator CLI for the mcpresso OAuth 2.1 core.
package main

import (
	"fmt"
	"os"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
