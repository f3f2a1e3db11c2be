// Package xbus implements the XBus sensor wire format.
//
// Frame layout:
//
//	byte 0:   preamble (0xFA)
//	byte 1:   bus identifier (0xFF, master device)
//	byte 2:   message identifier (MID)
//	byte 3:   payload length, or 0xFF to select the extended form
//	bytes 4-5 (extended form only): 16-bit big-endian payload length
//	bytes n:  payload
//	last byte: checksum, chosen so that the sum of all bytes after the
//	           preamble, including the checksum itself, is 0 modulo 256
package xbus

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/siphon/internal/core"
	"firestige.xyz/siphon/internal/protocol"
)

const (
	// Preamble starts every frame on the wire.
	Preamble = 0xFA

	// BusID is the bus identifier of a master device. Candidate frames
	// with any other value in the second byte are treated as garbage.
	BusID = 0xFF

	// MaxPayload is the largest payload the extended length form allows.
	MaxPayload = 2048

	extLenMarker   = 0xFF
	shortHeaderLen = 4 // preamble + bid + mid + len
	extHeaderLen   = 6 // preamble + bid + mid + 0xFF + len16
	minFrameLen    = shortHeaderLen + 1
)

// Scanner locates, validates and translates XBus frames. It is stateless
// and safe to share across extractor instances.
type Scanner struct{}

// NewScanner returns a shared XBus scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// classify inspects a window whose first byte is a preamble and reports
// the declared total frame size, whether the frame is fully buffered,
// and whether the bytes are structurally plausible at all.
func classify(b []byte) (size int, complete bool, plausible bool) {
	if len(b) >= 2 && b[1] != BusID {
		return 0, false, false
	}
	if len(b) < shortHeaderLen {
		// Header itself is still arriving.
		return 0, false, true
	}
	if b[3] == extLenMarker {
		if len(b) < extHeaderLen {
			return 0, false, true
		}
		ext := int(binary.BigEndian.Uint16(b[4:6]))
		if ext > MaxPayload {
			return 0, false, false
		}
		size = extHeaderLen + ext + 1
	} else {
		size = shortHeaderLen + int(b[3]) + 1
	}
	if len(b) < size {
		return size, false, true
	}
	return size, true, true
}

// FindMessage scans window for the earliest complete XBus frame with a
// correct checksum, recording the earliest plausible-but-unfinished
// candidate seen before it. Complete frames with a broken checksum are
// treated as garbage and scanned past, so the stream resynchronizes on
// the next preamble instead of stalling on a corrupt frame.
func (s *Scanner) FindMessage(window []byte) protocol.ScanResult {
	res := protocol.NoMatch()
	for i := 0; i < len(window); i++ {
		if window[i] != Preamble {
			continue
		}
		size, complete, plausible := classify(window[i:])
		if !plausible {
			continue
		}
		if !complete {
			if res.Incomplete < 0 {
				res.Incomplete = i
			}
			continue
		}
		if !checksumOK(window[i : i+size]) {
			continue
		}
		raw := make([]byte, size)
		copy(raw, window[i:i+size])
		res.Start = i
		res.Size = size
		res.Message = core.NewMessage(raw)
		return res
	}
	return res
}

// ValidateMessage reports whether msg is a well-formed XBus frame with a
// correct checksum.
func (s *Scanner) ValidateMessage(msg core.Message) bool {
	raw := msg.Bytes()
	if len(raw) < minFrameLen || raw[0] != Preamble || raw[1] != BusID {
		return false
	}
	size, complete, plausible := classify(raw)
	if !plausible || !complete || size != len(raw) {
		return false
	}
	return checksumOK(raw)
}

func checksumOK(frame []byte) bool {
	var sum byte
	for _, b := range frame[1:] {
		sum += b
	}
	return sum == 0
}

// MessageID returns the MID of a well-formed frame.
func MessageID(msg core.Message) uint8 {
	raw := msg.Bytes()
	if len(raw) < shortHeaderLen {
		return 0
	}
	return raw[2]
}

// Payload returns the payload bytes of a well-formed frame. The returned
// slice aliases the message bytes.
func Payload(msg core.Message) []byte {
	raw := msg.Bytes()
	if len(raw) < minFrameLen {
		return nil
	}
	if raw[3] == extLenMarker && len(raw) >= extHeaderLen+1 {
		return raw[extHeaderLen : len(raw)-1]
	}
	return raw[shortHeaderLen : len(raw)-1]
}

// Marshal builds a frame for the given MID and payload, selecting the
// extended length form when the payload does not fit the short form.
func Marshal(mid uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", core.ErrPayloadTooLarge, len(payload))
	}

	var frame []byte
	if len(payload) < int(extLenMarker) {
		frame = make([]byte, 0, shortHeaderLen+len(payload)+1)
		frame = append(frame, Preamble, BusID, mid, byte(len(payload)))
	} else {
		frame = make([]byte, 0, extHeaderLen+len(payload)+1)
		frame = append(frame, Preamble, BusID, mid, extLenMarker)
		frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)))
	}
	frame = append(frame, payload...)

	var sum byte
	for _, b := range frame[1:] {
		sum += b
	}
	return append(frame, -sum), nil
}

// Decode interprets an extracted frame into an uplink envelope.
func (s *Scanner) Decode(msg core.Message) (*core.Envelope, error) {
	if !s.ValidateMessage(msg) {
		return nil, fmt.Errorf("xbus: not a valid frame (%d bytes)", msg.Size())
	}
	return &core.Envelope{
		MessageID: MessageID(msg),
		Size:      msg.Size(),
		Payload:   Payload(msg),
	}, nil
}

// Encode builds the wire representation of a downlink command.
func (s *Scanner) Encode(cmd core.Command) ([]byte, error) {
	return Marshal(cmd.MessageID, cmd.Payload)
}
