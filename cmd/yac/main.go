// Command yac is the entry point for yet-another-chatbot, a session-scoped
// document question answering service. It provides a CLI (via Cobra) and an
// HTTP server for the bundled web front-end.
package main

import (
	"fmt"
	"os"

	"github.com/thatsimo/yet-another-chatbot/cmd/yac/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
