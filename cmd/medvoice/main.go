// Command medvoice is the entry point for the medical voice assistant.
// It provides a CLI interface (via Cobra) and an HTTP server that accepts
// spoken or typed questions and answers with text and synthesized speech.
package main

import (
	"fmt"
	"os"

	"github.com/sdhillon/medvoice-go/cmd/medvoice/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
