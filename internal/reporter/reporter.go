// Package reporter implements uplink delivery of extracted messages.
package reporter

import (
	"context"

	"firestige.xyz/siphon/internal/core"
)

// Reporter delivers extracted message envelopes to a backend.
// Implementations must be safe for concurrent use: one gateway fans
// envelopes from all sessions into the same reporter set.
type Reporter interface {
	// Name returns the reporter name for logs and metrics labels.
	Name() string

	// Report delivers one envelope. Delivery failures are returned to the
	// caller; the caller decides whether to log and move on.
	Report(ctx context.Context, env *core.Envelope) error

	// Close flushes and releases backend resources.
	Close() error
}
