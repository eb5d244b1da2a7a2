// Package stream implements the audio stream engine: the sender-side
// packetizer (format/salt management, fragmentation, redundancy, history
// buffer, fade in/out) and the receiver-side pipeline (format-keyed
// decoder construction, jitter buffer feed, decoding).
package stream

import (
	"math/rand"
	"sync"

	"aoo/internal/codec"
	"aoo/internal/history"
	"aoo/internal/proto"
)

// Format describes a source's current audio configuration. A new Salt is
// assigned whenever any field changes, per §4.G.
type Format struct {
	Salt       uint32
	SampleRate int
	Channels   int
	BlockSize  int // samples per channel per encoder block
	Codec      string
}

// runState is the source's simple two-state run/stop model.
type runState int

const (
	stopped runState = iota
	fadingIn
	running
	fadingOut
	draining
)

const drainBlocks = 4 // blocks of silence pushed after a stop to flush sink lookahead

// Packet is one fragment ready to hand to the peer path for sending to a
// sink, carrying enough of the header to be wire-encoded by the caller.
type Packet struct {
	Seq       uint32
	Frame     int
	NumFrames int
	Data      []byte
	FormatMsg bool // true if this is a source format announcement, not data
}

// Source is the sender-side half of the audio stream engine for one
// local audio source.
type Source struct {
	mu sync.Mutex

	id         proto.ID
	format     Format
	codecInst  codec.Codec
	registry   *codec.Registry
	history    *history.Buffer
	redundancy int
	packetSize int // max bytes per fragment, header already subtracted

	seq   uint32
	state runState

	drainRemaining int
	formatChanged  bool // latched: send format again on next tick for sinks that missed it

	pendingFormatRequests map[proto.ID]bool
}

// NewSource creates a Source with the given registry (for codec lookups)
// and packet fragment size (already net of header bytes).
func NewSource(id proto.ID, registry *codec.Registry, packetSize int) *Source {
	return &Source{
		id:                    id,
		registry:              registry,
		redundancy:            1,
		packetSize:            packetSize,
		pendingFormatRequests: make(map[proto.ID]bool),
	}
}

// Configure sets the source's format, assigning a new random salt and
// resizing the history buffer and codec instance to match.
func (s *Source) Configure(sampleRate, channels, blockSize int, codecName string, resendBufferMs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.registry.New(codecName, sampleRate, channels, blockSize)
	if err != nil {
		return err
	}

	s.format = Format{
		Salt:       rand.Uint32(),
		SampleRate: sampleRate,
		Channels:   channels,
		BlockSize:  blockSize,
		Codec:      codecName,
	}
	s.codecInst = c
	capacity := history.CapacityFromDuration(resendBufferMs, sampleRate, blockSize)
	s.history = history.New(capacity)
	s.formatChanged = true
	return nil
}

// SetRedundancy sets how many times each frame is sent in immediate
// succession (default 1).
func (s *Source) SetRedundancy(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.redundancy = n
	s.mu.Unlock()
}

// Play transitions from stopped to fading-in on the next processed block.
func (s *Source) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stopped {
		s.state = fadingIn
	}
}

// Stop schedules a fade-out followed by a silent drain, after which block
// emission halts.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == running || s.state == fadingIn {
		s.state = fadingOut
	}
}

// Format returns a copy of the source's current format.
func (s *Source) Format() Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// RequestFormat records that sinkID missed the latest format (e.g. it
// reported a salt mismatch), so the next ProcessBlock includes a format
// message for it.
func (s *Source) RequestFormat(sinkID proto.ID) {
	s.mu.Lock()
	s.pendingFormatRequests[sinkID] = true
	s.mu.Unlock()
}

// ProcessBlock encodes one block of interleaved PCM (already resampled to
// the encoder's rate) and returns the fragments to send to every
// attached sink, applying fade in/out/drain and redundancy. Silence is
// substituted for pcm while draining so sequence numbers and sample rate
// keep advancing through the stop.
func (s *Source) ProcessBlock(pcm []int16) []Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stopped {
		return nil
	}

	switch s.state {
	case fadingOut:
		applyFade(pcm, 1, 0)
		s.state = draining
		s.drainRemaining = drainBlocks
	case draining:
		for i := range pcm {
			pcm[i] = 0
		}
		s.drainRemaining--
		if s.drainRemaining <= 0 {
			s.state = stopped
		}
	case fadingIn:
		applyFade(pcm, 0, 1)
		s.state = running
	}

	var out []Packet
	if s.formatChanged {
		out = append(out, Packet{FormatMsg: true})
		s.formatChanged = false
	}
	for sinkID := range s.pendingFormatRequests {
		out = append(out, Packet{FormatMsg: true})
		delete(s.pendingFormatRequests, sinkID)
	}

	bufSize := codec.MaxOpusPacketBytes
	if raw := len(pcm) * 2; raw > bufSize {
		bufSize = raw // uncompressed PCM needs two bytes per sample
	}
	encoded := make([]byte, bufSize)
	n, err := s.codecInst.Encode(pcm, encoded)
	if err != nil {
		return out
	}
	block := encoded[:n]

	seq := s.seq
	s.seq++
	s.history.Push(seq, block)

	frames := fragmentBlock(block, s.packetSize)
	for rep := 0; rep < s.redundancy; rep++ {
		for i, f := range frames {
			out = append(out, Packet{Seq: seq, Frame: i, NumFrames: len(frames), Data: f})
		}
	}
	return out
}

func fragmentBlock(data []byte, maxFrameSize int) [][]byte {
	if maxFrameSize < 1 {
		maxFrameSize = len(data)
		if maxFrameSize < 1 {
			maxFrameSize = 1
		}
	}
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var frames [][]byte
	for off := 0; off < len(data); off += maxFrameSize {
		end := off + maxFrameSize
		if end > len(data) {
			end = len(data)
		}
		frames = append(frames, data[off:end])
	}
	return frames
}

// applyFade ramps pcm linearly from startGain to endGain across the block.
func applyFade(pcm []int16, startGain, endGain float64) {
	n := len(pcm)
	if n == 0 {
		return
	}
	for i := range pcm {
		g := startGain + (endGain-startGain)*float64(i)/float64(n-1)
		pcm[i] = int16(float64(pcm[i]) * g)
	}
}

// Resend copies the cached block for seq out of the history buffer, for
// the peer path to retransmit on a sink's request.
func (s *Source) Resend(seq uint32) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		return nil
	}
	return s.history.Find(seq)
}
