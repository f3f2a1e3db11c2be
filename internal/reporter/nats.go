// Package reporter implements NATS uplink reporter.
package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"firestige.xyz/siphon/internal/core"
	"firestige.xyz/siphon/internal/metrics"
)

// NATSReporter publishes envelopes to NATS subjects:
// <prefix>.uplink.<device> for per-device consumers and
// <prefix>.uplink.all for firehose consumers.
type NATSReporter struct {
	conn   *nats.Conn
	prefix string
	closed atomic.Bool
}

// NewNATSReporter connects to the NATS server at url.
func NewNATSReporter(url, prefix string) (*NATSReporter, error) {
	conn, err := nats.Connect(url,
		nats.Name("siphon-gateway"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	slog.Info("connected to NATS", "url", url, "subject_prefix", prefix)
	return &NATSReporter{
		conn:   conn,
		prefix: prefix,
	}, nil
}

// Name returns the reporter name.
func (r *NATSReporter) Name() string {
	return "nats"
}

// Conn exposes the underlying connection so the gateway can attach its
// downlink consumer to the same session.
func (r *NATSReporter) Conn() *nats.Conn {
	return r.conn
}

// Report publishes one envelope.
func (r *NATSReporter) Report(ctx context.Context, env *core.Envelope) error {
	if r.closed.Load() {
		return core.ErrReporterClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("%s.uplink.%s", r.prefix, env.Device)
	if err := r.conn.Publish(subject, data); err != nil {
		metrics.ReporterErrorsTotal.WithLabelValues(r.Name()).Inc()
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	if err := r.conn.Publish(r.prefix+".uplink.all", data); err != nil {
		metrics.ReporterErrorsTotal.WithLabelValues(r.Name()).Inc()
		return fmt.Errorf("failed to publish to firehose: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (r *NATSReporter) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := r.conn.Drain(); err != nil {
		r.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
