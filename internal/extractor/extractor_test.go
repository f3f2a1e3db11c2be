package extractor

import (
	"bytes"
	"testing"

	"firestige.xyz/siphon/internal/core"
	"firestige.xyz/siphon/internal/protocol"
)

// testScanner implements protocol.Scanner for a toy frame format used
// only in tests:
//
//	'S' | payload length (1 byte) | payload | XOR checksum of payload
//
// FindMessage is purely structural; checksum verification happens in
// ValidateMessage, so the extractor's validation branch is exercised.
type testScanner struct{}

func (testScanner) FindMessage(window []byte) protocol.ScanResult {
	res := protocol.NoMatch()
	for i := 0; i < len(window); i++ {
		if window[i] != 'S' {
			continue
		}
		rest := window[i:]
		if len(rest) < 2 {
			if res.Incomplete < 0 {
				res.Incomplete = i
			}
			continue
		}
		size := 3 + int(rest[1])
		if len(rest) < size {
			if res.Incomplete < 0 {
				res.Incomplete = i
			}
			continue
		}
		raw := make([]byte, size)
		copy(raw, rest[:size])
		res.Start = i
		res.Size = size
		res.Message = core.NewMessage(raw)
		return res
	}
	return res
}

func (testScanner) ValidateMessage(msg core.Message) bool {
	raw := msg.Bytes()
	if len(raw) < 3 || raw[0] != 'S' {
		return false
	}
	var x byte
	for _, b := range raw[2 : len(raw)-1] {
		x ^= b
	}
	return x == raw[len(raw)-1]
}

// buildFrame constructs a valid test frame around payload.
func buildFrame(payload []byte) []byte {
	frame := make([]byte, 0, 3+len(payload))
	frame = append(frame, 'S', byte(len(payload)))
	frame = append(frame, payload...)
	var x byte
	for _, b := range payload {
		x ^= b
	}
	return append(frame, x)
}

func newTestExtractor() *Extractor {
	return New(testScanner{}, Config{})
}

func TestProcessNewData_NoScanner(t *testing.T) {
	e := New(nil, Config{})
	msgs, status := e.ProcessNewData(buildFrame([]byte("data")))
	if status != StatusConfigError {
		t.Fatalf("expected StatusConfigError, got %v", status)
	}
	if msgs != nil {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
	if e.BufferedBytes() != 0 {
		t.Fatal("buffer must not be touched without a scanner")
	}
}

func TestProcessNewData_SingleMessage(t *testing.T) {
	e := newTestExtractor()
	payload := []byte("orientation sample")

	msgs, status := e.ProcessNewData(buildFrame(payload))
	if status != StatusOK {
		t.Fatalf("expected StatusOK, got %v", status)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if !bytes.Equal(msgs[0].Bytes(), buildFrame(payload)) {
		t.Fatal("extracted message does not match input frame")
	}
	if e.BufferedBytes() != 0 {
		t.Fatalf("expected drained buffer, got %d residual bytes", e.BufferedBytes())
	}
}

// Clean back-to-back input must survive any chunking without losing a
// byte, regardless of where the chunk boundaries fall inside messages.
func TestProcessNewData_CleanStreamAnyChunking(t *testing.T) {
	payloads := [][]byte{
		[]byte("alpha"),
		[]byte("bravo-longer-payload"),
		{},
		[]byte{0x00, 0xFF, 'S', 0x01}, // payload containing the sync byte
		[]byte("echo"),
	}
	var stream []byte
	for _, p := range payloads {
		stream = append(stream, buildFrame(p)...)
	}

	for _, chunkSize := range []int{1, 2, 3, 7, 16, len(stream)} {
		e := newTestExtractor()
		var got []core.Message
		for off := 0; off < len(stream); off += chunkSize {
			end := off + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			msgs, status := e.ProcessNewData(stream[off:end])
			if status == StatusConfigError {
				t.Fatalf("chunk size %d: unexpected config error", chunkSize)
			}
			got = append(got, msgs...)
		}
		if len(got) != len(payloads) {
			t.Fatalf("chunk size %d: expected %d messages, got %d", chunkSize, len(payloads), len(got))
		}
		for i, p := range payloads {
			if !bytes.Equal(got[i].Bytes(), buildFrame(p)) {
				t.Fatalf("chunk size %d: message %d out of order or corrupted", chunkSize, i)
			}
		}
		if e.BufferedBytes() != 0 {
			t.Fatalf("chunk size %d: %d residual bytes", chunkSize, e.BufferedBytes())
		}
	}
}

func TestProcessNewData_SplitMessage(t *testing.T) {
	frame := buildFrame([]byte("split across two reads"))

	for cut := 1; cut < len(frame); cut++ {
		e := newTestExtractor()

		msgs, status := e.ProcessNewData(frame[:cut])
		if status != StatusNoData {
			t.Fatalf("cut %d: expected StatusNoData after first half, got %v", cut, status)
		}
		if len(msgs) != 0 {
			t.Fatalf("cut %d: got %d premature messages", cut, len(msgs))
		}

		msgs, status = e.ProcessNewData(frame[cut:])
		if status != StatusOK {
			t.Fatalf("cut %d: expected StatusOK after second half, got %v", cut, status)
		}
		if len(msgs) != 1 || !bytes.Equal(msgs[0].Bytes(), frame) {
			t.Fatalf("cut %d: reassembled message mismatch", cut)
		}
	}
}

func TestProcessNewData_GarbageSkip(t *testing.T) {
	e := newTestExtractor()

	garbage := bytes.Repeat([]byte{0x00, 0x7F, 0xFE}, 21) // never contains 'S'
	frame := buildFrame([]byte("signal"))

	msgs, status := e.ProcessNewData(append(append([]byte{}, garbage...), frame...))
	if status != StatusOK {
		t.Fatalf("expected StatusOK, got %v", status)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Bytes(), frame) {
		t.Fatal("message after garbage not extracted correctly")
	}
	if e.BufferedBytes() != 0 {
		t.Fatalf("expected empty buffer after garbage skip, got %d bytes", e.BufferedBytes())
	}
}

func TestProcessNewData_MultipleMessagesOneCall(t *testing.T) {
	e := newTestExtractor()

	var stream []byte
	for i := 0; i < 4; i++ {
		stream = append(stream, buildFrame([]byte{byte(i)})...)
	}

	msgs, status := e.ProcessNewData(stream)
	if status != StatusOK {
		t.Fatalf("expected StatusOK, got %v", status)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages in one call, got %d", len(msgs))
	}
}

func TestProcessNewData_ChecksumFailureYieldsNothing(t *testing.T) {
	e := newTestExtractor()

	frame := buildFrame([]byte("payload"))
	frame[len(frame)-1] ^= 0xFF // corrupt the checksum

	msgs, status := e.ProcessNewData(frame)
	if status != StatusNoData {
		t.Fatalf("expected StatusNoData for corrupt frame, got %v", status)
	}
	if len(msgs) != 0 {
		t.Fatal("corrupt frame must never be emitted")
	}
}

// An incomplete-but-plausible candidate that never completes must be
// waited on for exactly MaxIncompleteRetries calls, then discarded, and
// no message may ever be emitted for it.
func TestProcessNewData_RetryThenGiveUp(t *testing.T) {
	e := newTestExtractor()

	// Candidate declares 200 payload bytes that never arrive; a complete
	// valid frame follows it in the same buffer.
	incomplete := []byte{'S', 200, 0x01, 0x02}
	frame := buildFrame([]byte("real message"))

	input := append(append([]byte{}, incomplete...), frame...)

	for call := 1; call <= DefaultMaxIncompleteRetries; call++ {
		chunk := input
		if call > 1 {
			chunk = nil
		}
		msgs, status := e.ProcessNewData(chunk)
		if status != StatusNoData {
			t.Fatalf("call %d: expected StatusNoData while waiting, got %v", call, status)
		}
		if len(msgs) != 0 {
			t.Fatalf("call %d: got %d messages while waiting", call, len(msgs))
		}
	}

	// Retry budget exhausted: the incomplete candidate is discarded and
	// the complete message behind it is finally extracted.
	msgs, status := e.ProcessNewData(nil)
	if status != StatusOK {
		t.Fatalf("expected StatusOK after retries exhausted, got %v", status)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Bytes(), frame) {
		t.Fatal("expected exactly the trailing valid message")
	}
	if e.BufferedBytes() != 0 {
		t.Fatalf("expected buffer drained past the candidate, got %d bytes", e.BufferedBytes())
	}
}

// While an incomplete candidate is waited on, bytes strictly before it
// are already discarded.
func TestProcessNewData_RetryDropsLeadingGarbage(t *testing.T) {
	e := newTestExtractor()

	garbage := []byte{0x10, 0x20, 0x30}
	incomplete := []byte{'S', 50, 0xAA}
	frame := buildFrame([]byte("x"))

	input := append(append(append([]byte{}, garbage...), incomplete...), frame...)
	before := len(input)

	_, status := e.ProcessNewData(input)
	if status != StatusNoData {
		t.Fatalf("expected StatusNoData, got %v", status)
	}
	if e.BufferedBytes() != before-len(garbage) {
		t.Fatalf("expected %d bytes after garbage drop, got %d",
			before-len(garbage), e.BufferedBytes())
	}
}

// A fresh full retry budget applies after every successful extraction.
func TestProcessNewData_RetryBudgetResetsOnSuccess(t *testing.T) {
	e := newTestExtractor()

	incomplete := []byte{'S', 30, 0x01}
	frame := buildFrame([]byte("first"))

	// Burn most of the budget on one candidate.
	input := append(append([]byte{}, incomplete...), frame...)
	for call := 1; call <= DefaultMaxIncompleteRetries; call++ {
		chunk := input
		if call > 1 {
			chunk = nil
		}
		if _, status := e.ProcessNewData(chunk); status != StatusNoData {
			t.Fatalf("call %d: expected StatusNoData, got %v", call, status)
		}
	}
	msgs, status := e.ProcessNewData(nil)
	if status != StatusOK || len(msgs) != 1 {
		t.Fatalf("expected first message after budget exhaustion, got status %v", status)
	}

	// A new incomplete candidate now gets the full budget again.
	second := buildFrame([]byte("second"))
	input = append(append([]byte{}, incomplete...), second...)
	for call := 1; call <= DefaultMaxIncompleteRetries; call++ {
		chunk := input
		if call > 1 {
			chunk = nil
		}
		if _, status := e.ProcessNewData(chunk); status != StatusNoData {
			t.Fatalf("second candidate, call %d: expected StatusNoData, got %v", call, status)
		}
	}
	msgs, status = e.ProcessNewData(nil)
	if status != StatusOK || len(msgs) != 1 || !bytes.Equal(msgs[0].Bytes(), second) {
		t.Fatal("expected second message after fresh budget exhaustion")
	}
}

// An empty chunk still drains already-buffered content.
func TestProcessNewData_EmptyChunkDrains(t *testing.T) {
	e := newTestExtractor()

	incomplete := []byte{'S', 20, 0x01}
	frame := buildFrame([]byte("buffered"))

	// The complete frame sits in the buffer but is blocked behind the
	// incomplete candidate for the duration of the retry budget.
	e.ProcessNewData(append(append([]byte{}, incomplete...), frame...))
	for i := 1; i < DefaultMaxIncompleteRetries; i++ {
		e.ProcessNewData(nil)
	}

	msgs, status := e.ProcessNewData(nil)
	if status != StatusOK {
		t.Fatalf("expected StatusOK from empty-chunk drain, got %v", status)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Bytes(), frame) {
		t.Fatal("empty-chunk drain did not yield the buffered message")
	}
}

// ClearBuffer abandons pending data: pre-reset and post-reset bytes must
// never be stitched together.
func TestClearBuffer_NoStitching(t *testing.T) {
	e := newTestExtractor()

	frame := buildFrame([]byte("do not stitch me"))
	half := len(frame) / 2

	if _, status := e.ProcessNewData(frame[:half]); status != StatusNoData {
		t.Fatalf("expected StatusNoData for first half, got %v", status)
	}

	e.ClearBuffer()
	if e.BufferedBytes() != 0 {
		t.Fatal("expected empty buffer after ClearBuffer")
	}

	// The second half alone must not produce a message.
	msgs, status := e.ProcessNewData(frame[half:])
	if status != StatusNoData || len(msgs) != 0 {
		t.Fatal("second half alone must not yield a message")
	}

	// A fresh valid message afterwards yields exactly that message.
	fresh := buildFrame([]byte("fresh"))
	msgs, status = e.ProcessNewData(fresh)
	if status != StatusOK {
		t.Fatalf("expected StatusOK for fresh message, got %v", status)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Bytes(), fresh) {
		t.Fatal("fresh message after reset mismatch")
	}
}

func TestClearBuffer_ResetsRetryBudget(t *testing.T) {
	e := newTestExtractor()

	incomplete := []byte{'S', 40, 0x01}
	frame := buildFrame([]byte("v"))

	// Partially burn the budget, then reset.
	e.ProcessNewData(append(append([]byte{}, incomplete...), frame...))
	e.ProcessNewData(nil)
	e.ClearBuffer()

	// The same pattern must again survive the full budget.
	input := append(append([]byte{}, incomplete...), frame...)
	for call := 1; call <= DefaultMaxIncompleteRetries; call++ {
		chunk := input
		if call > 1 {
			chunk = nil
		}
		if _, status := e.ProcessNewData(chunk); status != StatusNoData {
			t.Fatalf("call %d after reset: expected StatusNoData, got %v", call, status)
		}
	}
	if _, status := e.ProcessNewData(nil); status != StatusOK {
		t.Fatal("expected extraction after full fresh budget")
	}
}
