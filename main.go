// Package main is the entry point for entitycore.
package main

import (
	"fmt"
	"os"

	"entitycore/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
