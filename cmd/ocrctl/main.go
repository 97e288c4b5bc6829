// Package main provides ocrctl, a command line client for local and remote
// document extraction.
package main

import (
	"fmt"
	"os"

	"github.com/QThans/MinerU-runpod/cmd/ocrctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
