package stream

import (
	"sync"
	"time"

	"aoo/internal/codec"
	"aoo/internal/jitter"
	"aoo/internal/proto"
)

// sourceState is one remote source's receive pipeline, keyed by
// (source id, salt) as far as format validity goes.
type sourceState struct {
	format    Format
	decoder   codec.Codec
	buf       *jitter.Buffer
	needFormat bool // salt mismatch observed; format message requested
}

// Sink is the receiver-side half of the audio stream engine, multiplexing
// one or more remote sources into a single playback pipeline.
type Sink struct {
	mu       sync.Mutex
	registry *codec.Registry
	jitterCfg jitter.Config

	sources map[proto.ID]*sourceState
}

// NewSink creates a Sink with the given codec registry and jitter buffer
// configuration (applied to every source's reassembly queue).
func NewSink(registry *codec.Registry, jitterCfg jitter.Config) *Sink {
	return &Sink{registry: registry, jitterCfg: jitterCfg, sources: make(map[proto.ID]*sourceState)}
}

// HandleFormat processes a format message from sourceID, constructing a
// fresh decoder and jitter buffer sized for the new format and arming the
// jitter buffer for recovery (so the first data block fades in cleanly).
func (s *Sink) HandleFormat(sourceID proto.ID, f Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dec, err := s.registry.New(f.Codec, f.SampleRate, f.Channels, f.BlockSize)
	if err != nil {
		return err
	}

	st := &sourceState{
		format:  f,
		decoder: dec,
		buf:     jitter.New(s.jitterCfg),
	}
	st.buf.MarkRecovery()
	s.sources[sourceID] = st
	return nil
}

// HandleData processes one incoming fragment. A salt mismatching the
// source's current format requests a fresh format message and drops the
// packet rather than feeding a decoder that no longer matches the wire
// data.
func (s *Sink) HandleData(sourceID proto.ID, salt uint32, seq uint32, frame, numFrames int, data []byte) (needFormat bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sources[sourceID]
	if !ok || st.format.Salt != salt {
		if ok {
			st.needFormat = true
		}
		return true
	}
	st.buf.Push(seq, frame, numFrames, data)
	return false
}

// Decoded is one block ready for the audio callback, carrying its own
// per-block sample rate and channel count.
type Decoded struct {
	SourceID   proto.ID
	SampleRate int
	Channels   int
	// PCM is the decoder's output; nil if decoding failed. For a block
	// the jitter buffer gave up on, the decoder is fed nil data: PCM
	// then yields no samples and Opus yields concealment audio.
	PCM []int16
}

// Pop drains ready blocks across every tracked source, decoding complete
// ones and emitting silence for blocks the jitter buffer gave up on.
func (s *Sink) Pop() []Decoded {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Decoded
	for id, st := range s.sources {
		for _, d := range st.buf.Pop() {
			dec := Decoded{SourceID: id, SampleRate: st.format.SampleRate, Channels: st.format.Channels}
			if d.Frames != nil {
				block := make([]byte, 0)
				for _, f := range d.Frames {
					block = append(block, f...)
				}
				pcm := make([]int16, st.format.BlockSize*st.format.Channels)
				if n, err := st.decoder.Decode(block, pcm); err == nil {
					dec.PCM = pcm[:n*st.format.Channels]
				}
			} else {
				pcm := make([]int16, st.format.BlockSize*st.format.Channels)
				if n, err := st.decoder.Decode(nil, pcm); err == nil {
					dec.PCM = pcm[:n*st.format.Channels]
				}
			}
			out = append(out, dec)
		}
	}
	return out
}

// Tick runs the background retransmit scheduler for every tracked
// source's jitter buffer.
func (s *Sink) Tick(now time.Time) map[proto.ID][]jitter.ResendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqs := make(map[proto.ID][]jitter.ResendRequest)
	for id, st := range s.sources {
		if r := st.buf.Tick(now); len(r) > 0 {
			reqs[id] = r
		}
	}
	return reqs
}

// NeedsFormat reports and clears whether sourceID's last data arrival
// mismatched its salt.
func (s *Sink) NeedsFormat(sourceID proto.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sources[sourceID]
	if !ok || !st.needFormat {
		return false
	}
	st.needFormat = false
	return true
}
