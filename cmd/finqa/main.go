// Command finqa answers questions about financial filings from a local
// knowledge base. It provides a CLI (via Cobra) and an HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/finqa-go/cmd/finqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
