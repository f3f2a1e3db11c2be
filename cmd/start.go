package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"firestige.xyz/siphon/internal/config"
	"firestige.xyz/siphon/internal/log"
	"firestige.xyz/siphon/internal/metrics"
	"firestige.xyz/siphon/internal/protocol/xbus"
	"firestige.xyz/siphon/internal/reporter"
	"firestige.xyz/siphon/internal/server"
)

var shutdownTimeout time.Duration

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the Siphon device stream ingest gateway.

Examples:
  siphon start                       # Start with the default config path
  siphon start -c config.yml         # Start with config.yml
  siphon start -c config.yml -t 30s  # Custom shutdown timeout`,
	Run: func(cmd *cobra.Command, args []string) {
		runStartCommand()
	},
}

func init() {
	startCmd.Flags().DurationVarP(&shutdownTimeout, "timeout", "t", 10*time.Second,
		"graceful shutdown timeout")
	rootCmd.AddCommand(startCmd)
}

func runStartCommand() {
	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithError("failed to load config", err)
	}
	if err := log.Init(cfg.Log); err != nil {
		exitWithError("failed to initialize logging", err)
	}

	slog.Info("starting siphon", "gateway_id", cfg.GatewayID, "listen", cfg.Listen)

	reporters, natsConn, err := buildReporters(cfg)
	if err != nil {
		exitWithError("failed to build reporters", err)
	}
	defer func() {
		for _, rep := range reporters {
			if err := rep.Close(); err != nil {
				slog.Warn("failed to close reporter", "reporter", rep.Name(), "error", err)
			}
		}
	}()

	var registry *server.SessionRegistry
	if cfg.Redis.Enabled {
		registry, err = server.NewSessionRegistry(cfg.Redis)
		if err != nil {
			exitWithError("failed to connect to redis", err)
		}
		defer registry.Close()
	}

	scanner := xbus.NewScanner()
	gw, err := server.New(cfg, scanner, scanner, reporters, natsConn, registry)
	if err != nil {
		exitWithError("failed to create gateway", err)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		metricsServer.Handle("/health", http.HandlerFunc(gw.HandleHealth))
		metricsServer.Handle("/sessions", http.HandlerFunc(gw.HandleSessions))
		if err := metricsServer.Start(context.Background()); err != nil {
			exitWithError("failed to start metrics server", err)
		}
	}

	if err := gw.Start(); err != nil {
		exitWithError("failed to start gateway", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		slog.Error("gateway shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}
	slog.Info("siphon stopped")
}

// buildReporters constructs the enabled reporters. The NATS connection is
// returned separately so the gateway can attach its downlink consumer.
func buildReporters(cfg *config.Config) ([]reporter.Reporter, *nats.Conn, error) {
	var reporters []reporter.Reporter

	if cfg.Reporters.Console.Enabled {
		console, err := reporter.NewConsoleReporter(cfg.Reporters.Console.Format)
		if err != nil {
			return nil, nil, err
		}
		reporters = append(reporters, console)
	}
	if cfg.Reporters.NATS.Enabled {
		nr, err := reporter.NewNATSReporter(cfg.Reporters.NATS.URL, cfg.Reporters.NATS.SubjectPrefix)
		if err != nil {
			return nil, nil, err
		}
		reporters = append(reporters, nr)
		return reporters, nr.Conn(), nil
	}
	return reporters, nil, nil
}
