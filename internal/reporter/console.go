// Package reporter implements console debug reporter.
// Outputs envelopes to stdout in human-readable format for debugging.
package reporter

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"firestige.xyz/siphon/internal/core"
)

// ConsoleReporter outputs envelopes to console for debugging.
type ConsoleReporter struct {
	format        string // "json" or "text"
	out           io.Writer
	reportedCount atomic.Uint64
}

// NewConsoleReporter creates a console reporter writing to stdout.
// format must be "json" or "text".
func NewConsoleReporter(format string) (*ConsoleReporter, error) {
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("invalid format %q, must be json or text", format)
	}
	return &ConsoleReporter{
		format: format,
		out:    os.Stdout,
	}, nil
}

// Name returns the reporter name.
func (r *ConsoleReporter) Name() string {
	return "console"
}

// Report prints one envelope.
func (r *ConsoleReporter) Report(ctx context.Context, env *core.Envelope) error {
	r.reportedCount.Add(1)

	if r.format == "json" {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope: %w", err)
		}
		_, err = fmt.Fprintf(r.out, "%s\n", data)
		return err
	}

	_, err := fmt.Fprintf(r.out, "[%s] mid=0x%02X size=%d payload=%s\n",
		env.Device, env.MessageID, env.Size, hex.EncodeToString(env.Payload))
	return err
}

// Close logs the total reported count.
func (r *ConsoleReporter) Close() error {
	slog.Info("console reporter stopped", "total_reported", r.reportedCount.Load())
	return nil
}
