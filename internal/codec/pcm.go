package codec

import (
	"encoding/binary"

	"aoo/internal/proto"
)

// PCM is the built-in uncompressed codec: each sample is written as a
// big-endian int16. It exists so a stream always has a usable codec even
// when no compressed codec is linked in, and as the reference
// implementation new codecs are validated against.
type PCM struct {
	channels  int
	frameSize int
}

// NewPCM creates a PCM codec for the given channel count and nominal
// frame size (samples per channel).
func NewPCM(channels, frameSize int) *PCM {
	if channels < 1 {
		channels = 1
	}
	return &PCM{channels: channels, frameSize: frameSize}
}

func (p *PCM) Name() string { return "pcm" }

func (p *PCM) Encode(pcm []int16, dst []byte) (int, error) {
	need := len(pcm) * 2
	if len(dst) < need {
		return 0, proto.NewError(proto.ErrInsufficientBuffer, "pcm encode: dst too small")
	}
	for i, s := range pcm {
		binary.BigEndian.PutUint16(dst[i*2:], uint16(s))
	}
	return need, nil
}

func (p *PCM) Decode(data []byte, pcm []int16) (int, error) {
	n := len(data) / 2
	if n > len(pcm) {
		n = len(pcm)
	}
	for i := 0; i < n; i++ {
		pcm[i] = int16(binary.BigEndian.Uint16(data[i*2:]))
	}
	return n / p.channels, nil
}
