// taskbridge: semantic task-synchronization bridge.
//
// taskbridge links task tools through a shared vocabulary of semantic
// entities. It discovers tool-specific concepts, raises proposals for
// anything it cannot classify, and applies human decisions atomically.
//
// Usage:
//
//	taskbridge sync       # Run one mediation pass
//	taskbridge serve      # Start the MCP server (stdio transport)
//	taskbridge status     # Show vocabulary, projects and pending work
//	taskbridge proposals  # List proposals awaiting a decision
//	taskbridge decide     # Resolve one proposal
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
