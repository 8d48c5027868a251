// Package accumulator implements the bounded byte buffer the transport uses
// to collect one inbound message: a fixed stack-resident area backed by a
// growable overflow string, matching the original MessageStorage<N>
// template (spec §4.5).
// file: internal/rpc/accumulator/accumulator.go
package accumulator

// DefaultCapacity is the default size of the stack-resident area (spec §4.5:
// "default 32 KiB").
const DefaultCapacity = 32 * 1024

// Accumulator collects bytes until the caller can determine the message is
// complete (or gives up). Writes always fill the fixed-size area first and
// only flush into the overflow string once that area is full; reading back
// the final string re-joins overflow + area without copying when the area
// alone holds everything.
type Accumulator struct {
	area     []byte // fixed-capacity area; area[:filled] holds unflushed bytes.
	filled   int
	overflow []byte // flushed bytes, grows without bound.
	written  int    // total bytes ever flushed into overflow.
}

// New creates an Accumulator with the given stack-area capacity. A
// non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Accumulator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Accumulator{area: make([]byte, capacity)}
}

// Remaining reports how many bytes of writable space are left in the
// current fixed-size window (before a flush would be required).
func (a *Accumulator) Remaining() int {
	return len(a.area) - a.filled
}

// Reserve returns a slice of the writable window the caller may read into
// directly. The caller must call Commit with the number of bytes actually
// written before calling Reserve again.
func (a *Accumulator) Reserve() []byte {
	return a.area[a.filled:]
}

// Commit records that n bytes of the slice returned by Reserve were
// written, flushing the area into the overflow buffer once it is full.
func (a *Accumulator) Commit(n int) {
	if n <= 0 {
		return
	}
	a.filled += n
	if a.filled > len(a.area) {
		a.filled = len(a.area)
	}
	if a.filled == len(a.area) {
		a.flush()
	}
}

// flush appends the filled area into overflow and resets the area window.
func (a *Accumulator) flush() {
	if a.filled == 0 {
		return
	}
	a.overflow = append(a.overflow, a.area[:a.filled]...)
	a.written += a.filled
	a.filled = 0
}

// Stored reports the total number of bytes committed so far, across both
// the area and the overflow buffer.
func (a *Accumulator) Stored() int {
	return a.written + a.filled
}

// Full reports whether the bytes stored so far (area plus overflow) have
// reached maxSize; a non-positive maxSize means no limit. The accumulator
// never refuses a write
// on its own (overflow is unbounded); callers enforce the configured
// maximum size by comparing Stored() against it, matching spec §4.6's
// FULL_BUFFER condition being a transport-level limit, not an accumulator
// invariant.
func (a *Accumulator) Full(maxSize int) bool {
	return maxSize > 0 && a.Stored() >= maxSize
}

// Finalise returns the complete accumulated byte string. Calling Finalise
// repeatedly is idempotent and never mutates the accumulator's state, so
// the transport may probe completeness (via the codec) after every Commit
// without disturbing further reads.
func (a *Accumulator) Finalise() []byte {
	if a.written == 0 {
		// Nothing has ever been flushed: the area alone holds everything,
		// return it directly with no copy.
		return a.area[:a.filled]
	}
	if a.filled == 0 {
		return a.overflow
	}
	return append(append([]byte{}, a.overflow...), a.area[:a.filled]...)
}

// Reset clears all accumulated data, allowing the Accumulator to be reused
// for the next connection instead of allocating a new one.
func (a *Accumulator) Reset() {
	a.filled = 0
	a.written = 0
	a.overflow = a.overflow[:0]
}
