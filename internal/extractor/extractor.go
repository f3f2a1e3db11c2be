// Package extractor turns an unbounded, arbitrarily-chunked byte stream
// into a sequence of discrete, validated wire messages.
//
// The caller pushes raw chunks in via ProcessNewData every time the
// transport delivers data; the extractor maintains a sliding buffer just
// big enough to hold any incompletely received message. Feeding very
// small chunks is discouraged: a single message must not span more than
// MaxIncompleteRetries calls to be guaranteed extraction.
package extractor

import (
	"log/slog"

	"firestige.xyz/siphon/internal/core"
	"firestige.xyz/siphon/internal/metrics"
	"firestige.xyz/siphon/internal/protocol"
)

// Status is the aggregate outcome of one ProcessNewData call.
type Status int

const (
	// StatusOK means one or more messages were extracted.
	StatusOK Status = iota
	// StatusNoData means no complete validated message is buffered yet.
	// A normal, high-frequency outcome while a message is still arriving.
	StatusNoData
	// StatusConfigError means no frame scanner is configured. The buffer
	// is left untouched.
	StatusConfigError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoData:
		return "no-data"
	case StatusConfigError:
		return "config-error"
	default:
		return "unknown"
	}
}

// DefaultMaxIncompleteRetries is the number of consecutive process calls
// an incomplete candidate message may hold up the stream before the
// extractor advances over it.
const DefaultMaxIncompleteRetries = 5

// Config contains extractor policy settings.
type Config struct {
	// MaxIncompleteRetries overrides DefaultMaxIncompleteRetries when > 0.
	MaxIncompleteRetries int
}

// retryState tracks the currently pending incomplete candidate. The zero
// value is the idle state: nothing plausible is being waited on.
type retryState struct {
	awaiting bool
	attempts int
}

func (r *retryState) reset() {
	*r = retryState{}
}

// Extractor reconstructs message boundaries from a framing-free byte
// stream. It is single-threaded: callers driving one instance from
// multiple goroutines must serialize access themselves.
type Extractor struct {
	scanner    protocol.Scanner
	acc        Accumulator
	retry      retryState
	maxRetries int
}

// New creates an extractor for the given scanner. A nil scanner is legal
// but makes every ProcessNewData call return StatusConfigError.
func New(scanner protocol.Scanner, cfg Config) *Extractor {
	maxRetries := cfg.MaxIncompleteRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxIncompleteRetries
	}
	return &Extractor{
		scanner:    scanner,
		maxRetries: maxRetries,
	}
}

// ProcessNewData appends chunk to the internal buffer and extracts every
// complete, checksum-valid message currently buffered, in stream order.
// An empty chunk is allowed and still drains already-buffered content.
//
// An incomplete-but-plausible candidate blocks extraction of anything
// after it for up to MaxIncompleteRetries calls; only the bytes known to
// precede it are discarded in the meantime. Once the budget runs out the
// candidate is dropped together with the rest of the garbage and the
// stream advances.
func (e *Extractor) ProcessNewData(chunk []byte) ([]core.Message, Status) {
	if e.scanner == nil {
		return nil, StatusConfigError
	}

	e.acc.Append(chunk)
	metrics.BufferedBytes.Add(float64(len(chunk)))

	var (
		consumed int
		out      []core.Message
	)

	finish := func() ([]core.Message, Status) {
		if consumed > 0 {
			e.acc.DropFront(consumed)
			metrics.BufferedBytes.Sub(float64(consumed))
		}
		if len(out) == 0 {
			return nil, StatusNoData
		}
		return out, StatusOK
	}

	for {
		result := e.scanner.FindMessage(e.acc.View(consumed))

		if !result.Found() || !e.scanner.ValidateMessage(result.Message) {
			if !result.HasIncomplete() {
				// Nothing plausible is pending anymore; a previously
				// observed candidate is gone and its budget with it.
				e.retry.reset()
			}
			return finish()
		}

		if result.Start > 0 {
			// There are leading bytes that are not part of this message.
			if result.HasIncomplete() {
				// An incomplete but potentially valid message precedes the
				// one we found. Wait a couple of calls for it to complete
				// before skipping it, but already drop the bytes known to
				// contain nothing useful.
				if e.retry.attempts < e.maxRetries {
					e.retry.awaiting = true
					e.retry.attempts++
					metrics.IncompleteRetriesTotal.Inc()
					if result.Incomplete > 0 {
						slog.Warn("skipping bytes from the input buffer",
							"bytes", result.Incomplete)
						metrics.BytesSkippedTotal.Add(float64(result.Incomplete))
						consumed += result.Incomplete
					}
					return finish()
				}
				// The candidate was waited on long enough and never
				// completed; advance over it.
				slog.Warn("skipping bytes that may contain an incomplete message",
					"bytes", result.Start,
					"incomplete_at", result.Incomplete,
					"found_size", result.Size)
				metrics.RetryExhaustedTotal.Inc()
			} else {
				slog.Warn("skipping bytes from the input buffer",
					"bytes", result.Start)
			}
			metrics.BytesSkippedTotal.Add(float64(result.Start))
		}

		if e.retry.awaiting {
			slog.Debug("resetting incomplete retry count",
				"attempts", e.retry.attempts)
		}
		e.retry.reset()

		consumed += result.Start + result.Size
		out = append(out, result.Message)
		metrics.MessagesExtractedTotal.Inc()
	}
}

// ClearBuffer unconditionally empties the buffer, abandoning any pending
// incomplete candidate and its retry budget. Callers use it after a
// detected discontinuity (e.g. reconnection) where stale partial data
// must not be stitched to new data.
func (e *Extractor) ClearBuffer() {
	metrics.BufferedBytes.Sub(float64(e.acc.Len()))
	e.acc.Clear()
	e.retry.reset()
}

// BufferedBytes returns the number of bytes currently buffered. Callers
// processing untrusted streams should impose a ceiling on this value and
// invoke ClearBuffer when it is exceeded.
func (e *Extractor) BufferedBytes() int {
	return e.acc.Len()
}
