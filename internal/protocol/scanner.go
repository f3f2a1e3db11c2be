// Package protocol defines the contracts between concrete wire format
// implementations and the transport-independent parts of the gateway.
package protocol

import "firestige.xyz/siphon/internal/core"

// ScanResult describes what FindMessage located in a byte window.
// Offsets are relative to the start of the window; -1 means "absent".
type ScanResult struct {
	// Start is the offset of the earliest structurally complete candidate
	// message, or -1 when the window contains none.
	Start int

	// Incomplete is the offset of a structurally plausible candidate that
	// is not yet fully buffered, or -1. When both offsets are present,
	// Incomplete < Start always holds: the incomplete candidate was seen
	// before the complete one.
	Incomplete int

	// Size is the total wire size of the candidate at Start.
	// Only meaningful when Start >= 0.
	Size int

	// Message is the structurally extracted candidate at Start, prior to
	// integrity validation. Only meaningful when Start >= 0.
	Message core.Message
}

// NoMatch returns the ScanResult for a window without any candidate.
func NoMatch() ScanResult {
	return ScanResult{Start: -1, Incomplete: -1}
}

// Found reports whether a complete candidate message was located.
func (r ScanResult) Found() bool {
	return r.Start >= 0
}

// HasIncomplete reports whether an incomplete candidate precedes the
// scan position.
func (r ScanResult) HasIncomplete() bool {
	return r.Incomplete >= 0
}

// Scanner locates and validates messages of one concrete wire format
// within a raw byte window. Implementations must be deterministic,
// side-effect free and tolerant of arbitrary garbage input; a scanner
// may be shared by any number of extractor instances.
type Scanner interface {
	// FindMessage scans window for the earliest plausible message.
	// "Not found" is a normal result on noisy input, not an error.
	FindMessage(window []byte) ScanResult

	// ValidateMessage checks the integrity (checksum) of a structurally
	// found message. Pure function of the message bytes.
	ValidateMessage(msg core.Message) bool
}

// Adapter converts between wire messages and the transport-neutral
// envelope/command types. Implemented alongside a Scanner for each wire
// format the gateway speaks.
type Adapter interface {
	// Decode interprets an extracted message into an uplink envelope.
	// The envelope's Device and ReceivedAt fields are left for the caller.
	Decode(msg core.Message) (*core.Envelope, error)

	// Encode builds the wire representation of a downlink command.
	Encode(cmd core.Command) ([]byte, error)
}
