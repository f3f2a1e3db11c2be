// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "siphon",
	Short: "Siphon - Device stream ingest gateway",
	Long: `Siphon is a TCP ingest gateway for devices behind serial-to-TCP bridges.
It accepts raw device connections, reassembles framed messages out of the
arbitrarily chunked byte streams, validates them, and publishes the results
to NATS or the console.

Features:
  - Tolerant frame extraction: resynchronizes past garbage and corrupt frames
  - Bounded patience for partially received messages
  - Downlink: commands routed back to connected devices over NATS
  - Session registry: live device locations mirrored into Redis
  - Prometheus metrics and admin endpoints`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/siphon/config.yml",
		"config file path")
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
