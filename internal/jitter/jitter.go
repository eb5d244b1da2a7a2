// Package jitter implements the per-source receive buffer: ordered/gappy
// block reassembly driven by an ACK list of outstanding sequence numbers,
// with backoff-scheduled retransmit requests and flush-triggered recovery.
//
// It generalises the fixed-depth, fixed-size ring used for simple per-sender
// voice buffering into a variable-capacity queue that tracks completeness
// per block and gives up on a block only after its retransmit budget is
// exhausted.
package jitter

import "time"

// Default backoff parameters. A real caller normally overrides these from
// negotiated stream parameters; the zero value of Config uses them.
const (
	DefaultResendInterval     = 20 * time.Millisecond
	DefaultResendMaxBackoff   = 200 * time.Millisecond
	DefaultResendMaxNumFrames = 16
	DefaultResendLimit        = 5
)

// Block is one reassembled unit (an audio encoder block, or a logical
// reliable-message block). Complete is false while frames are still
// missing; Empty marks the sentinel block used to force a flush.
type Block struct {
	Seq      uint32
	Frames   [][]byte // Frames[i] nil until that fragment arrives
	Received int      // count of non-nil Frames
	NumFrames int
	Complete bool
	Empty    bool
}

func newBlock(seq uint32, numFrames int) *Block {
	if numFrames < 1 {
		numFrames = 1
	}
	return &Block{Seq: seq, Frames: make([][]byte, numFrames), NumFrames: numFrames}
}

func (b *Block) setFrame(frame int, data []byte) {
	if frame < 0 || frame >= len(b.Frames) {
		return
	}
	if b.Frames[frame] == nil {
		b.Received++
	}
	b.Frames[frame] = data
	if b.Received >= b.NumFrames {
		b.Complete = true
	}
}

// ackEntry tracks one outstanding sequence's retransmit schedule.
type ackEntry struct {
	remaining   int
	lastRequest time.Time
	interval    time.Duration
}

// Config tunes the buffer's capacity and retransmit behaviour.
type Config struct {
	Capacity           int // queue depth in blocks
	ResendInterval     time.Duration
	ResendMaxBackoff   time.Duration
	ResendMaxNumFrames int // per-tick cap on retransmit requests emitted
	ResendLimit        int // retransmit attempts before giving up on a block
}

func (c Config) withDefaults() Config {
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.ResendInterval <= 0 {
		c.ResendInterval = DefaultResendInterval
	}
	if c.ResendMaxBackoff <= 0 {
		c.ResendMaxBackoff = DefaultResendMaxBackoff
	}
	if c.ResendMaxNumFrames <= 0 {
		c.ResendMaxNumFrames = DefaultResendMaxNumFrames
	}
	if c.ResendLimit <= 0 {
		c.ResendLimit = DefaultResendLimit
	}
	return c
}

// CapacityFromDuration derives a queue capacity from a buffer duration in
// milliseconds and the encoder's block length in milliseconds, rounded up
// with a one-block safety margin.
func CapacityFromDuration(bufferMs, blockMs float64) int {
	if blockMs <= 0 {
		blockMs = 20
	}
	n := int(bufferMs/blockMs + 0.999999)
	return n + 1
}

// ResendRequest names a sequence (and, for a partial resend, a specific
// frame) the caller should ask the sender to retransmit. Frame == -1 means
// "the entire block".
type ResendRequest struct {
	Seq   uint32
	Frame int
}

// Buffer is a single source's receive-side reassembly queue. Not safe for
// concurrent use — callers serialise access the way the audio/network
// threads hand off through a command queue.
type Buffer struct {
	cfg Config

	blocks map[uint32]*Block
	acks   map[uint32]*ackEntry

	next  uint32 // next sequence to deliver
	newest uint32
	started bool // true once the first packet has seeded next/newest

	needRecovery bool
	fadeIn       bool

	lost      uint64
	reordered uint64
	resent    uint64
	gap       uint64
	formatErr uint64
}

// New creates a Buffer with the given configuration (zero value OK).
func New(cfg Config) *Buffer {
	cfg = cfg.withDefaults()
	return &Buffer{
		cfg:    cfg,
		blocks: make(map[uint32]*Block),
		acks:   make(map[uint32]*ackEntry),
	}
}

// Counters reports the buffer's cumulative loss-classification counts.
type Counters struct {
	Lost, Reordered, Resent, Gap, FormatErrors uint64
}

func (b *Buffer) Counters() Counters {
	return Counters{Lost: b.lost, Reordered: b.reordered, Resent: b.resent, Gap: b.gap, FormatErrors: b.formatErr}
}

// Push accepts one fragment of block seq, frame index of numFrames total.
// A numFrames of 0 and nil data marks the empty sentinel block used to
// force a flush.
func (b *Buffer) Push(seq uint32, frame, numFrames int, data []byte) {
	if !b.started {
		b.next = seq
		b.newest = seq
		b.started = true
	}

	if numFrames == 0 && data == nil {
		b.flush(seq)
		return
	}

	if int32(seq-b.next) < 0 {
		if _, awaited := b.acks[seq]; awaited {
			b.resent++
		} else {
			b.reordered++
		}
		return
	}

	gap := int64(seq) - int64(b.newest)
	if gap > int64(b.cfg.Capacity) || b.needRecovery {
		b.flush(seq)
	}

	blk, ok := b.blocks[seq]
	if !ok {
		blk = newBlock(seq, numFrames)
		b.blocks[seq] = blk
		if _, tracked := b.acks[seq]; !tracked {
			b.acks[seq] = &ackEntry{remaining: b.cfg.ResendLimit}
		}
	}
	blk.setFrame(frame, data)

	if int32(seq-b.newest) > 0 {
		b.newest = seq
	}

	if len(b.blocks) > b.cfg.Capacity {
		b.evictOldest()
	}

	if blk.Complete {
		delete(b.acks, seq)
	}
}

// flush drops all queued blocks, resets next to seq, and arms fade-in for
// the next delivered real block.
func (b *Buffer) flush(seq uint32) {
	b.blocks = make(map[uint32]*Block)
	b.acks = make(map[uint32]*ackEntry)
	b.next = seq
	b.newest = seq
	b.needRecovery = false
	b.fadeIn = true
}

// evictOldest drops the oldest queued block. If it was the block currently
// due for delivery and it was complete, that's a genuine buffer overflow
// and forces a flush so delivery doesn't stall behind a backlog.
func (b *Buffer) evictOldest() {
	var oldest uint32
	found := false
	for seq := range b.blocks {
		if !found || int32(seq-oldest) < 0 {
			oldest = seq
			found = true
		}
	}
	if !found {
		return
	}
	blk := b.blocks[oldest]
	delete(b.blocks, oldest)
	delete(b.acks, oldest)
	if oldest == b.next && blk.Complete {
		b.needRecovery = true
	}
}

// MarkRecovery flags that the stream needs a flush on the next arrival,
// e.g. after an xrun reported by the resampler.
func (b *Buffer) MarkRecovery() { b.needRecovery = true }

// Pop delivers as many consecutive blocks as are ready (complete, or given
// up on), advancing next past each. Frames is nil for a given-up block
// (signalling silence/PLC to the decoder); FadeIn is true on the first
// delivered block following a flush.
type Delivery struct {
	Seq    uint32
	Frames [][]byte // nil if the block was never completed
	FadeIn bool
}

func (b *Buffer) Pop() []Delivery {
	var out []Delivery
	for {
		blk, haveBlock := b.blocks[b.next]
		ack, haveAck := b.acks[b.next]

		ready := haveBlock && blk.Complete
		gaveUp := haveAck && ack.remaining <= 0
		if !ready && !gaveUp {
			break
		}

		d := Delivery{Seq: b.next, FadeIn: b.fadeIn}
		b.fadeIn = false
		if ready {
			d.Frames = blk.Frames
		} else {
			b.lost++
			b.gap++
		}
		out = append(out, d)

		delete(b.blocks, b.next)
		delete(b.acks, b.next)
		b.next++
	}
	return out
}

// Tick runs the background retransmit scheduler: for every incomplete
// block and every unscheduled gap in (next..newest-1), it emits a resend
// request if enough time has passed since the last one, applying
// exponential backoff and the remaining-attempts budget. Emits at most
// ResendMaxNumFrames requests and garbage-collects stale ACK entries.
func (b *Buffer) Tick(now time.Time) []ResendRequest {
	for seq := range b.acks {
		if int32(seq-b.next) < 0 {
			delete(b.acks, seq)
		}
	}

	for seq := b.next; int32(seq-b.newest) < 0; seq++ {
		if _, tracked := b.blocks[seq]; tracked {
			continue
		}
		if _, tracked := b.acks[seq]; !tracked {
			b.acks[seq] = &ackEntry{remaining: b.cfg.ResendLimit}
		}
	}

	var reqs []ResendRequest
	for seq, entry := range b.acks {
		if len(reqs) >= b.cfg.ResendMaxNumFrames {
			break
		}
		if entry.remaining <= 0 {
			continue
		}
		interval := entry.interval
		if interval <= 0 {
			interval = b.cfg.ResendInterval
		}
		if !entry.lastRequest.IsZero() && now.Sub(entry.lastRequest) < interval {
			continue
		}

		if blk, ok := b.blocks[seq]; ok {
			for frame, data := range blk.Frames {
				if data == nil {
					reqs = append(reqs, ResendRequest{Seq: seq, Frame: frame})
				}
			}
		} else {
			reqs = append(reqs, ResendRequest{Seq: seq, Frame: -1})
		}

		entry.lastRequest = now
		entry.remaining--
		next := interval * 2
		if next > b.cfg.ResendMaxBackoff {
			next = b.cfg.ResendMaxBackoff
		}
		entry.interval = next
	}
	return reqs
}

// CountFormatError records a malformed packet without disturbing sequence
// state.
func (b *Buffer) CountFormatError() { b.formatErr++ }

// Reset clears all state, e.g. on a session teardown.
func (b *Buffer) Reset() {
	b.blocks = make(map[uint32]*Block)
	b.acks = make(map[uint32]*ackEntry)
	b.next, b.newest = 0, 0
	b.started = false
	b.needRecovery = false
	b.fadeIn = false
}
