// Package main is the entry point for the Siphon device stream ingest gateway.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/siphon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
