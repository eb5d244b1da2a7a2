package resample

import (
	"testing"
	"time"
)

func TestDLLConvergesNearNominalUnderRegularCallbacks(t *testing.T) {
	d := NewDLL(48000, 960, 2.0)
	now := time.Now()
	period := time.Duration(960) * time.Second / 48000
	for i := 0; i < 50; i++ {
		d.Update(now, false)
		now = now.Add(period)
	}
	rate := d.EstimatedRate()
	if rate < 48000*0.99 || rate > 48000*1.01 {
		t.Errorf("expected estimate close to nominal 48000, got %v", rate)
	}
}

func TestDLLClampsWildEstimate(t *testing.T) {
	d := NewDLL(48000, 960, 100.0) // aggressive bandwidth to force a big swing
	now := time.Now()
	d.Update(now, false)
	// A callback that arrives far later than nominal pulls periodEstimate
	// way up, which should be clamped back to nominal by EstimatedRate.
	now = now.Add(100 * time.Millisecond)
	d.Update(now, false)

	rate := d.EstimatedRate()
	lo, hi := 48000*0.9, 48000*1.1
	if rate < lo || rate > hi {
		t.Errorf("expected clamped estimate within +/-10%% of nominal, got %v", rate)
	}
}

func TestDLLXrunResetsAndFlagsRecovery(t *testing.T) {
	d := NewDLL(48000, 960, 1.0)
	d.Update(time.Now(), false)
	d.Update(time.Now(), true)

	if !d.NeedsRecovery() {
		t.Error("expected NeedsRecovery true after xrun")
	}
	if d.NeedsRecovery() {
		t.Error("NeedsRecovery should clear after being read once")
	}
	if rate := d.EstimatedRate(); rate != 48000 {
		t.Errorf("expected nominal rate after reset, got %v", rate)
	}
}

func TestDLLLongGapTreatedAsXrun(t *testing.T) {
	d := NewDLL(48000, 960, 1.0)
	now := time.Now()
	d.Update(now, false)
	d.Update(now.Add(2*time.Second), false) // way more than 8x nominal period

	if !d.NeedsRecovery() {
		t.Error("expected long gap to be treated as xrun")
	}
}

func TestRingRoundTripAtUnityRatio(t *testing.T) {
	r := NewRing(64, 1)
	samples := make([]float32, 32)
	for i := range samples {
		samples[i] = float32(i)
	}
	r.Write(samples)

	out := r.Read(20, 1.0)
	if len(out) != 20 {
		t.Fatalf("expected 20 output frames, got %d", len(out))
	}
	// At unity ratio with linear interpolation the first few samples should
	// track the input closely.
	if out[0] < -0.01 || out[0] > 0.01 {
		t.Errorf("expected first output frame near 0, got %v", out[0])
	}
}

func TestRatioComputation(t *testing.T) {
	if got := Ratio(48000, 48000); got != 1.0 {
		t.Errorf("equal rates: got %v, want 1.0", got)
	}
	if got := Ratio(44100, 48000); got <= 0 || got >= 1 {
		t.Errorf("44100/48000 should be in (0,1), got %v", got)
	}
	if got := Ratio(48000, 0); got != 1.0 {
		t.Errorf("zero local rate should fall back to 1.0, got %v", got)
	}
}
