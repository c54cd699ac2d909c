// Package main provides the entry point for the secondbrain CLI.
package main

import (
	"os"

	"github.com/brendenrossin/secondbrain/cmd/secondbrain/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
