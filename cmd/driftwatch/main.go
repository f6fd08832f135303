// Package main is the entry point for the driftwatch CLI.
package main

import (
	"os"

	"github.com/good-yellow-bee/driftwatch/cmd/driftwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
