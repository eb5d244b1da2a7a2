// Package resample implements the dynamic resampler and its driving time
// DLL (delay-locked loop): a ring of interleaved samples read at a
// fractional index whose rate is continuously re-estimated from the
// audio process-callback's actual timing rather than its nominal rate.
package resample

import (
	"aoo/internal/adapt"
	"time"
)

// DLL smooths process-callback arrival timestamps into an estimate of the
// real sample rate being produced, the way a clock-recovery loop tracks a
// drifting remote oscillator.
type DLL struct {
	nominalRate   float64
	blockSize     int
	bandwidth     float64 // loop filter bandwidth, in Hz
	e2            float64 // accumulated phase error
	periodEstimate float64 // smoothed inter-callback period, seconds

	last     time.Time
	primed   bool
	needReset bool
}

// NewDLL creates a time filter for a stream nominally producing blockSize
// samples every block at nominalRate Hz. bandwidth controls how quickly the
// estimate adapts; 0 selects a conservative default.
func NewDLL(nominalRate float64, blockSize int, bandwidth float64) *DLL {
	if bandwidth <= 0 {
		bandwidth = 1.0 // Hz
	}
	return &DLL{nominalRate: nominalRate, blockSize: blockSize, bandwidth: bandwidth}
}

// Update feeds one process-callback timestamp into the filter. now should
// be the time the callback fired. xrun should be true if the caller
// detected that this callback was preceded by an audio dropout.
func (d *DLL) Update(now time.Time, xrun bool) {
	if xrun {
		d.Reset()
		d.needReset = true
		return
	}

	nominal := float64(d.blockSize) / d.nominalRate
	if !d.primed {
		d.last = now
		d.periodEstimate = nominal
		d.primed = true
		return
	}

	observed := now.Sub(d.last).Seconds()
	d.last = now

	// An absurdly long gap between callbacks is itself an xrun: the
	// scheduler stalled long enough that the estimate can't be trusted.
	if observed > nominal*8 {
		d.Reset()
		d.needReset = true
		return
	}

	// First-order loop filter: nudge the estimate toward the observed
	// period, weighted by the configured bandwidth.
	alpha := d.bandwidth * nominal
	if alpha > 1 {
		alpha = 1
	}
	d.periodEstimate += alpha * (observed - d.periodEstimate)
}

// Reset drops the accumulated estimate, e.g. after an xrun or a stream
// restart; the next Update reprimes from scratch.
func (d *DLL) Reset() {
	d.primed = false
	d.periodEstimate = 0
	d.e2 = 0
}

// NeedsRecovery reports (and clears) whether the last Update detected a
// condition serious enough that the jitter buffer should flush.
func (d *DLL) NeedsRecovery() bool {
	v := d.needReset
	d.needReset = false
	return v
}

// EstimatedRate returns the DLL's current estimate of the real sample
// rate, clamped to within adapt.DLLRateClamp of nominal. Returns the
// nominal rate verbatim before the filter is primed or when the estimate
// has drifted outside the trusted band (treated as a startup glitch).
func (d *DLL) EstimatedRate() float64 {
	if !d.primed || d.periodEstimate <= 0 {
		return d.nominalRate
	}
	estimate := float64(d.blockSize) / d.periodEstimate

	lo := d.nominalRate * (1 - adapt.DLLRateClamp)
	hi := d.nominalRate * (1 + adapt.DLLRateClamp)
	if estimate < lo || estimate > hi {
		return d.nominalRate
	}
	return estimate
}

// Ring is a dynamic resampler: interleaved samples read back at a
// fractional index whose advance per output sample is ratio =
// remoteRate / localRateDLL, letting playback track a remote clock that
// runs at a slightly different rate than the local audio device.
type Ring struct {
	channels int
	buf      []float32 // interleaved
	capacity int        // frames

	writePos int // frames written, mod capacity
	filled   int // frames currently buffered

	readPos float64 // fractional read index, in frames
}

// NewRing creates a resampler ring holding up to capacity frames of
// channels-channel interleaved audio.
func NewRing(capacity, channels int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	if channels < 1 {
		channels = 1
	}
	return &Ring{channels: channels, capacity: capacity, buf: make([]float32, capacity*channels)}
}

// Write appends frames (interleaved, len(frames) must be a multiple of
// channels) to the ring, overwriting the oldest data if it would overflow.
func (r *Ring) Write(frames []float32) {
	n := len(frames) / r.channels
	for i := 0; i < n; i++ {
		off := (r.writePos % r.capacity) * r.channels
		copy(r.buf[off:off+r.channels], frames[i*r.channels:(i+1)*r.channels])
		r.writePos++
		if r.filled < r.capacity {
			r.filled++
		} else {
			// overflowing: the oldest unread frame is lost, so the read
			// position must not lag behind the new oldest sample.
			// readPos counts from the oldest buffered frame, which just
			// moved forward by one.
			r.readPos -= 1
			if r.readPos < 0 {
				r.readPos = 0
			}
		}
	}
}

// Available reports how many frames remain unread (may be fractional at
// the boundary; callers round down).
func (r *Ring) Available() float64 {
	return float64(r.filled) - r.readPos
}

// Read produces n output frames at the given ratio (output-to-input
// sample advance, i.e. > 1 speeds up consumption of buffered input),
// using linear interpolation between the two nearest buffered samples.
// Always returns n frames; if the ring runs dry, the remaining output
// frames are zero.
func (r *Ring) Read(n int, ratio float64) []float32 {
	out := make([]float32, n*r.channels)
	for i := 0; i < n; i++ {
		if r.readPos >= float64(r.filled)-1 {
			break // not enough buffered to interpolate safely
		}
		idx0 := int(r.readPos)
		frac := r.readPos - float64(idx0)

		a := (r.writePos - r.filled + idx0) % r.capacity
		if a < 0 {
			a += r.capacity
		}
		b := (a + 1) % r.capacity

		for c := 0; c < r.channels; c++ {
			s0 := r.buf[a*r.channels+c]
			s1 := r.buf[b*r.channels+c]
			out[i*r.channels+c] = s0 + float32(frac)*(s1-s0)
		}
		r.readPos += ratio
	}

	consumed := int(r.readPos)
	if consumed > 0 {
		r.filled -= consumed
		if r.filled < 0 {
			r.filled = 0
		}
		r.readPos -= float64(consumed)
	}
	return out
}

// Ratio computes the resampler's output-to-input ratio from the remote
// source's reported sample rate and the local DLL-estimated rate.
func Ratio(remoteRate, localRateDLL float64) float64 {
	if localRateDLL <= 0 {
		return 1
	}
	return remoteRate / localRateDLL
}
