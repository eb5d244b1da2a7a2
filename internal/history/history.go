// Package history implements the sender-side retransmit buffer: a ring of
// the last N encoded blocks, keyed by sequence, that the peer path consults
// when a sink requests a resend.
//
// It generalises the fixed-size per-client datagram cache used for simple
// NACK-triggered voice retransmission into a capacity derived from the
// negotiated resend buffer duration, with an explicit update lock so a
// concurrent reader never observes a torn write.
package history

import "sync"

// entry is a single slot in the ring.
type entry struct {
	seq  uint32
	data []byte
	set  bool
}

// Buffer is a ring of the last capacity encoded blocks. Safe for
// concurrent push/find: push runs on the audio thread, find on the
// network thread servicing a retransmit request.
type Buffer struct {
	mu       sync.Mutex // the "update lock"
	capacity int
	ring     []entry
}

// CapacityFromDuration derives a ring size from the resend buffer
// duration in milliseconds, the sample rate, and the encoder's block
// size in samples, rounded up.
func CapacityFromDuration(resendBufferMs float64, sampleRate, blockSize int) int {
	if blockSize <= 0 || sampleRate <= 0 {
		return 1
	}
	blocksPerSec := float64(sampleRate) / float64(blockSize)
	n := int(resendBufferMs/1000*blocksPerSec + 0.999999)
	if n < 1 {
		n = 1
	}
	return n
}

// New creates a Buffer with the given ring capacity (clamped to at least 1).
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{capacity: capacity, ring: make([]entry, capacity)}
}

// Push stores a copy of data under seq, possibly overwriting the oldest
// entry still occupying that ring slot.
func (b *Buffer) Push(seq uint32, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	idx := int(seq) % b.capacity
	b.mu.Lock()
	b.ring[idx] = entry{seq: seq, data: cp, set: true}
	b.mu.Unlock()
}

// Find returns the cached block for seq, or nil if it has been evicted or
// was never pushed.
func (b *Buffer) Find(seq uint32) []byte {
	idx := int(seq) % b.capacity
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.ring[idx]
	if e.set && e.seq == seq {
		return e.data
	}
	return nil
}

// Reset clears the ring, e.g. on a format change that invalidates all
// previously cached blocks.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.ring {
		b.ring[i] = entry{}
	}
}

// Len reports how many ring slots currently hold a live entry.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.ring {
		if e.set {
			n++
		}
	}
	return n
}
