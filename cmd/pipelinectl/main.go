// Command pipelinectl drives internal/core.Core directly from the shell,
// for local testing and administration without an MCP client.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
