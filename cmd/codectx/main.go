// Package main provides the entry point for the codectx CLI.
package main

import (
	"os"

	"github.com/codectx/codectx/cmd/codectx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
