package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/siphon/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without starting the gateway.

This is useful for pre-checking configuration before deployment.

Examples:
  siphon validate -c config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidateCommand()
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidateCommand() {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}

	enabled := 0
	if cfg.Reporters.Console.Enabled {
		enabled++
	}
	if cfg.Reporters.NATS.Enabled {
		enabled++
	}
	fmt.Printf("VALID: gateway %q listening on %s — %d reporter(s), retries=%d\n",
		cfg.GatewayID, cfg.Listen, enabled, cfg.Extractor.MaxIncompleteRetries)
}
