// Package core defines core types with zero external dependencies.
package core

// Message is a single extracted, integrity-validated wire message.
// The extractor hands ownership of the underlying bytes to the caller
// when the message is yielded; the bytes are never mutated afterwards.
type Message struct {
	raw []byte
}

// NewMessage wraps raw frame bytes in a Message. The caller must not
// retain or modify raw after the call.
func NewMessage(raw []byte) Message {
	return Message{raw: raw}
}

// Bytes returns the full frame bytes, including framing and checksum.
func (m Message) Bytes() []byte {
	return m.raw
}

// Size returns the total wire size of the message.
func (m Message) Size() int {
	return len(m.raw)
}

// Envelope is the transport-neutral uplink record published for each
// extracted message.
type Envelope struct {
	Device     string `json:"device"`
	MessageID  uint8  `json:"message_id"`
	Size       int    `json:"size"`
	Payload    []byte `json:"payload"`
	ReceivedAt int64  `json:"received_at"`
}

// Command is a downlink request addressed to a connected device.
type Command struct {
	Device    string `json:"device"`
	MessageID uint8  `json:"message_id"`
	Payload   []byte `json:"payload,omitempty"`
}
