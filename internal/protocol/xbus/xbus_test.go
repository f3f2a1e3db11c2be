package xbus

import (
	"bytes"
	"testing"

	"firestige.xyz/siphon/internal/core"
)

func mustMarshal(t *testing.T, mid uint8, payload []byte) []byte {
	t.Helper()
	frame, err := Marshal(mid, payload)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return frame
}

func TestMarshal_ShortForm(t *testing.T) {
	frame := mustMarshal(t, 0x36, []byte{0x10, 0x20, 0x30})

	if len(frame) != shortHeaderLen+3+1 {
		t.Fatalf("unexpected frame length %d", len(frame))
	}
	if frame[0] != Preamble || frame[1] != BusID || frame[2] != 0x36 || frame[3] != 3 {
		t.Fatalf("unexpected header: % X", frame[:4])
	}

	var sum byte
	for _, b := range frame[1:] {
		sum += b
	}
	if sum != 0 {
		t.Fatalf("checksum does not cancel: sum=%#x", sum)
	}
}

func TestMarshal_ExtendedForm(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	frame := mustMarshal(t, 0x36, payload)

	if frame[3] != extLenMarker {
		t.Fatalf("expected extended length marker, got %#x", frame[3])
	}
	if got := int(frame[4])<<8 | int(frame[5]); got != 300 {
		t.Fatalf("expected extended length 300, got %d", got)
	}
	if len(frame) != extHeaderLen+300+1 {
		t.Fatalf("unexpected frame length %d", len(frame))
	}

	var sum byte
	for _, b := range frame[1:] {
		sum += b
	}
	if sum != 0 {
		t.Fatalf("checksum does not cancel: sum=%#x", sum)
	}
}

func TestMarshal_PayloadTooLarge(t *testing.T) {
	if _, err := Marshal(0x36, make([]byte, MaxPayload+1)); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestScanner_FindMessageInGarbage(t *testing.T) {
	s := NewScanner()
	frame := mustMarshal(t, 0x36, []byte("imu-data"))

	window := append([]byte{0x00, 0x13, 0x37, 0xFB}, frame...)
	window = append(window, 0xDE, 0xAD)

	res := s.FindMessage(window)
	if !res.Found() {
		t.Fatal("expected to find the frame")
	}
	if res.Start != 4 {
		t.Fatalf("expected start offset 4, got %d", res.Start)
	}
	if res.Size != len(frame) {
		t.Fatalf("expected size %d, got %d", len(frame), res.Size)
	}
	if !bytes.Equal(res.Message.Bytes(), frame) {
		t.Fatal("extracted frame mismatch")
	}
}

func TestScanner_FindMessageNotFound(t *testing.T) {
	s := NewScanner()
	res := s.FindMessage([]byte{0x01, 0x02, 0x03, 0xFB, 0x00})
	if res.Found() || res.HasIncomplete() {
		t.Fatalf("expected empty result, got start=%d incomplete=%d", res.Start, res.Incomplete)
	}
}

func TestScanner_FindMessageEmptyWindow(t *testing.T) {
	s := NewScanner()
	res := s.FindMessage(nil)
	if res.Found() || res.HasIncomplete() {
		t.Fatal("expected empty result for empty window")
	}
}

func TestScanner_IncompleteCandidate(t *testing.T) {
	s := NewScanner()
	frame := mustMarshal(t, 0x36, []byte("full frame"))

	// The first 8 bytes of a large frame declare far more data than the
	// window holds; a complete frame follows the fragment.
	big := mustMarshal(t, 0x36, make([]byte, 600))
	window := append(append([]byte{}, big[:8]...), frame...)

	res := s.FindMessage(window)
	if !res.HasIncomplete() || res.Incomplete != 0 {
		t.Fatalf("expected incomplete candidate at 0, got %d", res.Incomplete)
	}
	if !res.Found() || res.Start != 8 {
		t.Fatalf("expected complete frame at 8, got %d", res.Start)
	}
	if res.Incomplete >= res.Start {
		t.Fatal("incomplete offset must precede start offset")
	}
}

// A wrong bus identifier after the preamble disqualifies the candidate
// entirely; it must not be reported as incomplete.
func TestScanner_WrongBusIDIsGarbage(t *testing.T) {
	s := NewScanner()
	res := s.FindMessage([]byte{Preamble, 0x01, 0x36, 0x00})
	if res.Found() || res.HasIncomplete() {
		t.Fatal("wrong bus id must be classified as garbage")
	}
}

// A corrupted complete frame is scanned past so the stream can
// resynchronize on the next preamble.
func TestScanner_ResyncPastCorruptFrame(t *testing.T) {
	s := NewScanner()
	bad := mustMarshal(t, 0x36, []byte("corrupt me"))
	bad[len(bad)-1] ^= 0x55
	good := mustMarshal(t, 0x32, []byte("survivor"))

	res := s.FindMessage(append(bad, good...))
	if !res.Found() {
		t.Fatal("expected to find the good frame")
	}
	if res.Start != len(bad) {
		t.Fatalf("expected start at %d, got %d", len(bad), res.Start)
	}
	if MessageID(res.Message) != 0x32 {
		t.Fatalf("unexpected MID %#x", MessageID(res.Message))
	}
}

func TestScanner_ImplausibleExtendedLength(t *testing.T) {
	s := NewScanner()
	window := []byte{Preamble, BusID, 0x36, extLenMarker, 0xFF, 0xFF, 0x00}
	res := s.FindMessage(window)
	if res.Found() || res.HasIncomplete() {
		t.Fatal("extended length beyond MaxPayload must be garbage")
	}
}

func TestScanner_ValidateMessage(t *testing.T) {
	s := NewScanner()

	frame := mustMarshal(t, 0x36, []byte("check me"))
	if !s.ValidateMessage(core.NewMessage(frame)) {
		t.Fatal("valid frame rejected")
	}

	corrupt := append([]byte{}, frame...)
	corrupt[6] ^= 0x01
	if s.ValidateMessage(core.NewMessage(corrupt)) {
		t.Fatal("corrupt frame accepted")
	}

	if s.ValidateMessage(core.NewMessage(frame[:3])) {
		t.Fatal("truncated frame accepted")
	}
	if s.ValidateMessage(core.NewMessage(nil)) {
		t.Fatal("empty message accepted")
	}
}

func TestPayloadAndMessageID(t *testing.T) {
	payload := []byte("short payload")
	frame := mustMarshal(t, 0x36, payload)
	msg := core.NewMessage(frame)

	if MessageID(msg) != 0x36 {
		t.Fatalf("unexpected MID %#x", MessageID(msg))
	}
	if !bytes.Equal(Payload(msg), payload) {
		t.Fatalf("payload mismatch: %q", Payload(msg))
	}

	extPayload := make([]byte, 600)
	extFrame := mustMarshal(t, 0x42, extPayload)
	if !bytes.Equal(Payload(core.NewMessage(extFrame)), extPayload) {
		t.Fatal("extended-form payload mismatch")
	}
}

func TestDecodeEncode_RoundTrip(t *testing.T) {
	s := NewScanner()

	frame, err := s.Encode(core.Command{MessageID: 0x30, Payload: []byte{0x01}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	env, err := s.Decode(core.NewMessage(frame))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.MessageID != 0x30 || env.Size != len(frame) || !bytes.Equal(env.Payload, []byte{0x01}) {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	s := NewScanner()
	if _, err := s.Decode(core.NewMessage([]byte{0x00, 0x01, 0x02})); err == nil {
		t.Fatal("expected error decoding garbage")
	}
}
