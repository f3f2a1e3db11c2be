// Package core defines sentinel errors.
package core

import "errors"

var (
	// Configuration errors
	ErrConfigInvalid = errors.New("siphon: invalid configuration")

	// Gateway errors
	ErrNoScanner      = errors.New("siphon: no frame scanner configured")
	ErrDeviceNotFound = errors.New("siphon: device not connected")

	// Reporter errors
	ErrReporterClosed = errors.New("siphon: reporter closed")

	// Protocol errors
	ErrPayloadTooLarge = errors.New("siphon: payload exceeds wire format limit")
)
