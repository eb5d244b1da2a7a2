package codec

import (
	"gopkg.in/hraban/opus.v2"

	"aoo/internal/proto"
)

// MaxOpusPacketBytes is the RFC 6716 maximum size of a single Opus packet.
const MaxOpusPacketBytes = 1275

// Opus wraps gopkg.in/hraban/opus.v2 behind the Codec interface so the
// stream engine can select it interchangeably with PCM.
type Opus struct {
	channels int
	enc      *opus.Encoder
	dec      *opus.Decoder
}

// NewOpus constructs an Opus codec instance for the given sample rate and
// channel count, targeting VoIP application tuning.
func NewOpus(sampleRate, channels, _ int) (Codec, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &Opus{channels: channels, enc: enc, dec: dec}, nil
}

// SetBitrate adjusts the encoder's target bitrate in bits/sec.
func (o *Opus) SetBitrate(bps int) error { return o.enc.SetBitrate(bps) }

func (o *Opus) Name() string { return "opus" }

func (o *Opus) Encode(pcm []int16, dst []byte) (int, error) {
	if len(dst) < MaxOpusPacketBytes {
		return 0, proto.NewError(proto.ErrInsufficientBuffer, "opus encode: dst too small")
	}
	return o.enc.Encode(pcm, dst)
}

// Decode decompresses data into pcm. A nil data triggers Opus's built-in
// packet loss concealment instead of failing on a missing block.
func (o *Opus) Decode(data []byte, pcm []int16) (int, error) {
	return o.dec.Decode(data, pcm)
}

// RegisterOpus adds the Opus codec factory to r. Call this from a binary
// that links the cgo-backed libopus binding; libraries that must stay
// portable leave it unregistered and fall back to PCM.
func RegisterOpus(r *Registry) {
	r.Register("opus", NewOpus)
}
