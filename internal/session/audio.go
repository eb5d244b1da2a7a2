package session

import (
	"net"
	"time"

	"aoo/internal/codec"
	"aoo/internal/jitter"
	"aoo/internal/proto"
	"aoo/internal/reliable"
	"aoo/internal/stream"
)

// AudioConfig configures the local source and every remote sink the
// engine drives once EnableAudio is called.
type AudioConfig struct {
	SampleRate     int
	Channels       int
	BlockSize      int
	Codec          string // registered in Registry; defaults to "pcm" if empty
	PacketSize     int     // max bytes per fragment, net of header
	ResendBufferMs float64 // local source's retransmit history depth
	Jitter         jitter.Config
	Registry       *codec.Registry // nil uses a fresh registry with only "pcm"
}

func (c AudioConfig) withDefaults() AudioConfig {
	if c.Codec == "" {
		c.Codec = "pcm"
	}
	if c.PacketSize <= 0 {
		c.PacketSize = maxPeerFrameSize
	}
	if c.Registry == nil {
		c.Registry = codec.NewRegistry()
	}
	return c
}

// EnableAudio configures the local audio source and the shared sink that
// decodes every remote peer's stream, readying the engine to carry
// audio once peers are joined. Safe to call again to reconfigure (e.g.
// on a sample-rate change): it assigns a fresh salt and replaces the
// sink, so every remote source will be asked for a fresh format.
func (e *Engine) EnableAudio(cfg AudioConfig) error {
	cfg = cfg.withDefaults()

	e.mu.Lock()
	e.audioCfg = cfg
	if e.source == nil {
		e.source = stream.NewSource(e.localUserID, cfg.Registry, cfg.PacketSize)
	}
	e.sink = stream.NewSink(cfg.Registry, cfg.Jitter)
	source := e.source
	e.mu.Unlock()

	return source.Configure(cfg.SampleRate, cfg.Channels, cfg.BlockSize, cfg.Codec, cfg.ResendBufferMs)
}

// PlayAudio starts (or resumes, after a fade-in) local audio output.
func (e *Engine) PlayAudio() {
	e.mu.Lock()
	source := e.source
	e.mu.Unlock()
	if source != nil {
		source.Play()
	}
}

// StopAudio fades out and drains local audio output.
func (e *Engine) StopAudio() {
	e.mu.Lock()
	source := e.source
	e.mu.Unlock()
	if source != nil {
		source.Stop()
	}
}

// SendAudioBlock encodes one block of interleaved PCM through the local
// source and broadcasts the resulting fragments to every roster peer as
// TypeSource format/data messages.
func (e *Engine) SendAudioBlock(pcm []int16) error {
	e.mu.Lock()
	source := e.source
	e.mu.Unlock()
	if source == nil {
		return proto.NewError(proto.ErrBadFormat, "audio not enabled")
	}

	packets := source.ProcessBlock(pcm)
	if len(packets) == 0 {
		return nil
	}

	conn, err := e.roster.ensureUDP()
	if err != nil {
		return err
	}

	format := source.Format()
	e.roster.mu.RLock()
	peers := make([]*peerEntry, 0, len(e.roster.peers))
	for _, p := range e.roster.peers {
		peers = append(peers, p)
	}
	e.roster.mu.RUnlock()

	for _, pkt := range packets {
		for _, entry := range peers {
			if pkt.FormatMsg {
				e.sendSourceFormat(conn, entry, format)
			} else {
				e.sendSourceData(conn, entry, format.Salt, pkt)
			}
		}
	}
	return nil
}

// sendSourceFormat announces the local source's current format to one
// peer, salt reinterpreted as an int32 bit pattern since the OSC codec
// has no native unsigned type.
func (e *Engine) sendSourceFormat(conn net.PacketConn, entry *peerEntry, f stream.Format) {
	h := proto.Header{Type: proto.TypeSource, Cmd: "format"}
	args := []proto.Arg{
		int32(entry.info.GroupID), int32(e.LocalUserID()),
		int32(f.SampleRate), int32(f.Channels), int32(f.BlockSize), f.Codec,
		int32(f.Salt),
	}
	e.roster.sendTo(conn, entry.path.RealAddr(), h, args)
}

// sendSourceData forwards one encoded fragment to one peer.
func (e *Engine) sendSourceData(conn net.PacketConn, entry *peerEntry, salt uint32, pkt stream.Packet) {
	h := proto.Header{Type: proto.TypeSource, Cmd: "data"}
	args := []proto.Arg{
		int32(entry.info.GroupID), int32(e.LocalUserID()), int32(salt),
		int32(pkt.Seq), int32(pkt.Frame), int32(pkt.NumFrames), pkt.Data,
	}
	e.roster.sendTo(conn, entry.path.RealAddr(), h, args)
}

// sendDataRequest asks sourceEntry's owner to retransmit one block or
// frame, per a sink's resend schedule.
func (e *Engine) sendDataRequest(conn net.PacketConn, sourceEntry *peerEntry, rr jitter.ResendRequest) {
	h := proto.Header{Type: proto.TypeSink, Cmd: "data_request"}
	args := []proto.Arg{
		int32(sourceEntry.info.GroupID), int32(e.LocalUserID()),
		int32(rr.Seq), int32(rr.Frame),
	}
	e.roster.sendTo(conn, sourceEntry.path.RealAddr(), h, args)
}

// DecodedAudio is one block ready for local playback.
type DecodedAudio = stream.Decoded

// PopAudio drains every decoded block ready across all tracked remote
// sources, for the caller to mix and play.
func (e *Engine) PopAudio() []DecodedAudio {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Pop()
}

// tickAudio drives the sink's retransmit scheduler and requests missing
// frames from the owning peer's source. Called from roster.tick.
func (e *Engine) tickAudio(now time.Time) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return
	}

	reqs := sink.Tick(now)
	if len(reqs) == 0 {
		return
	}

	conn, err := e.roster.ensureUDP()
	if err != nil {
		return
	}
	for sourceID, rrs := range reqs {
		e.roster.mu.RLock()
		entry := e.roster.findByUser(sourceID)
		e.roster.mu.RUnlock()
		if entry == nil {
			continue
		}
		for _, rr := range rrs {
			e.sendDataRequest(conn, entry, rr)
		}
	}
}

// handleSourceFormat processes an incoming TypeSource "format" message:
// gid, uid, sampleRate, channels, blockSize, codecName, salt(as int32 bits).
func (e *Engine) handleSourceFormat(args []proto.Arg) {
	if len(args) < 7 {
		return
	}
	uid, ok := args[1].(int32)
	if !ok {
		return
	}
	sampleRate, _ := args[2].(int32)
	channels, _ := args[3].(int32)
	blockSize, _ := args[4].(int32)
	codecName, _ := args[5].(string)
	salt, _ := args[6].(int32)

	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return
	}
	sink.HandleFormat(proto.ID(uid), stream.Format{
		Salt: uint32(salt), SampleRate: int(sampleRate),
		Channels: int(channels), BlockSize: int(blockSize), Codec: codecName,
	})
}

// handleSourceData processes an incoming TypeSource "data" message: gid,
// uid, salt, seq, frame, numFrames, data. A salt mismatch immediately
// sends a format_request to the owning peer.
func (e *Engine) handleSourceData(args []proto.Arg) {
	if len(args) < 7 {
		return
	}
	uid, ok := args[1].(int32)
	if !ok {
		return
	}
	salt, _ := args[2].(int32)
	seq, _ := args[3].(int32)
	frame, _ := args[4].(int32)
	numFrames, _ := args[5].(int32)
	data, _ := args[6].([]byte)

	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return
	}
	sourceID := proto.ID(uid)
	needFormat := sink.HandleData(sourceID, uint32(salt), uint32(seq), int(frame), int(numFrames), data)
	if needFormat {
		e.roster.mu.RLock()
		entry := e.roster.findByUser(sourceID)
		e.roster.mu.RUnlock()
		if entry == nil {
			return
		}
		conn, err := e.roster.ensureUDP()
		if err != nil {
			return
		}
		h := proto.Header{Type: proto.TypeSink, Cmd: "format_request"}
		reqArgs := []proto.Arg{int32(entry.info.GroupID), int32(e.LocalUserID())}
		e.roster.sendTo(conn, entry.path.RealAddr(), h, reqArgs)
	}
}

// handleFormatRequest marks entry's owner as missing the current
// format, so the next processed audio block includes a fresh format
// message, which SendAudioBlock sends to every roster peer.
func (e *Engine) handleFormatRequest(entry *peerEntry) {
	e.mu.Lock()
	source := e.source
	e.mu.Unlock()
	if source == nil {
		return
	}
	source.RequestFormat(entry.info.UserID)
}

// handleDataRequest serves one retransmit request against the local
// source's history. The cached block is re-fragmented at the configured
// packet size; a request for frame -1 re-sends every fragment, any other
// frame re-sends only that fragment.
func (e *Engine) handleDataRequest(entry *peerEntry, args []proto.Arg) {
	if len(args) < 4 {
		return
	}
	seq, ok := args[2].(int32)
	if !ok {
		return
	}
	frame, _ := args[3].(int32)

	e.mu.Lock()
	source := e.source
	packetSize := e.audioCfg.PacketSize
	e.mu.Unlock()
	if source == nil {
		return
	}
	block := source.Resend(uint32(seq))
	if block == nil {
		return
	}

	conn, err := e.roster.ensureUDP()
	if err != nil {
		return
	}
	format := source.Format()
	h := proto.Header{Type: proto.TypeSource, Cmd: "data"}
	frames := reliable.Fragment(block, packetSize)
	for i, f := range frames {
		if frame >= 0 && int(frame) != i {
			continue
		}
		sendArgs := []proto.Arg{
			int32(entry.info.GroupID), int32(e.LocalUserID()), int32(format.Salt),
			int32(seq), int32(i), int32(len(frames)), f,
		}
		e.roster.sendTo(conn, entry.path.RealAddr(), h, sendArgs)
	}
}
