package extractor

import "fmt"

// compactThreshold is the dead-prefix size above which DropFront copies
// the live bytes back to the front of the backing slice. Until then the
// drop is a head-index bump, so repeated scans over long streams stay
// linear.
const compactThreshold = 4096

// Accumulator is an append-only, front-poppable byte buffer representing
// the sliding window of not-yet-consumed stream data. Bytes are kept in
// stream order. It is exclusively owned by one extractor and carries no
// locking of its own.
type Accumulator struct {
	buf  []byte
	head int
}

// Append adds p at the tail. The bytes are copied; p is not retained.
func (a *Accumulator) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	a.buf = append(a.buf, p...)
}

// Len returns the number of buffered bytes.
func (a *Accumulator) Len() int {
	return len(a.buf) - a.head
}

// View returns a read-only window from offset to the end without
// copying. offset must be within [0, Len()].
func (a *Accumulator) View(offset int) []byte {
	if offset < 0 || offset > a.Len() {
		panic(fmt.Sprintf("extractor: view offset %d out of range [0,%d]", offset, a.Len()))
	}
	return a.buf[a.head+offset:]
}

// DropFront irrevocably removes the first n bytes. Dropping more than
// Len() is a programming error.
func (a *Accumulator) DropFront(n int) {
	if n < 0 || n > a.Len() {
		panic(fmt.Sprintf("extractor: cannot drop %d of %d buffered bytes", n, a.Len()))
	}
	a.head += n
	if a.head == len(a.buf) {
		a.buf = a.buf[:0]
		a.head = 0
		return
	}
	if a.head >= compactThreshold && a.head > len(a.buf)/2 {
		live := copy(a.buf, a.buf[a.head:])
		a.buf = a.buf[:live]
		a.head = 0
	}
}

// Clear resets the accumulator to empty. Used for out-of-band
// resynchronization after a detected transport discontinuity.
func (a *Accumulator) Clear() {
	a.buf = a.buf[:0]
	a.head = 0
}
