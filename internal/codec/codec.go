// Package codec defines the pluggable audio codec boundary the stream
// engine is built against: a Codec interface, a Registry clients and
// sources look the active codec up in by name, and a built-in PCM codec
// that is always present so a stream never starts with zero usable codecs.
package codec

import "aoo/internal/proto"

// Codec encodes and decodes one block of interleaved int16 PCM to and
// from its compressed wire representation. Implementations are not
// required to be safe for concurrent use; callers serialise per source.
type Codec interface {
	// Name identifies the codec on the wire, e.g. "pcm" or "opus".
	Name() string
	// Encode compresses pcm (frameSize*channels int16 samples,
	// interleaved) into dst, returning the number of bytes written.
	Encode(pcm []int16, dst []byte) (int, error)
	// Decode decompresses data into pcm (frameSize*channels int16
	// samples), returning the number of samples per channel decoded.
	Decode(data []byte, pcm []int16) (int, error)
}

// Factory builds a fresh Codec instance for a given sample rate, channel
// count, and nominal frame size (samples per channel per block).
type Factory func(sampleRate, channels, frameSize int) (Codec, error)

// Registry maps codec names to factories. The zero value is not usable;
// use NewRegistry.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a Registry with the built-in PCM codec pre-registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("pcm", func(sampleRate, channels, frameSize int) (Codec, error) {
		return NewPCM(channels, frameSize), nil
	})
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// New builds a Codec instance for the named, previously registered codec.
func (r *Registry) New(name string, sampleRate, channels, frameSize int) (Codec, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, proto.NewError(proto.ErrNotFound, "unknown codec "+name)
	}
	return f(sampleRate, channels, frameSize)
}

// Names returns the registered codec names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	return names
}
