package stream

import (
	"testing"

	"aoo/internal/codec"
	"aoo/internal/jitter"
)

func TestSourceConfigureAssignsSalt(t *testing.T) {
	src := NewSource(1, codec.NewRegistry(), 1200)
	if err := src.Configure(48000, 1, 960, "pcm", 1000); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if src.Format().Salt == 0 {
		// astronomically unlikely but not impossible; re-roll once.
		if err := src.Configure(48000, 1, 960, "pcm", 1000); err != nil {
			t.Fatalf("reconfigure: %v", err)
		}
	}
	if src.Format().Salt == 0 {
		t.Error("expected Configure to assign a non-zero salt")
	}
	if src.Format().SampleRate != 48000 || src.Format().BlockSize != 960 {
		t.Errorf("unexpected format: %+v", src.Format())
	}
}

func TestProcessBlockStoppedEmitsNothing(t *testing.T) {
	src := NewSource(1, codec.NewRegistry(), 1200)
	src.Configure(48000, 1, 960, "pcm", 1000)
	pcm := make([]int16, 960)
	if out := src.ProcessBlock(pcm); out != nil {
		t.Errorf("expected no packets while stopped, got %d", len(out))
	}
}

func TestProcessBlockFirstEmissionIncludesFormat(t *testing.T) {
	src := NewSource(1, codec.NewRegistry(), 1200)
	src.Configure(48000, 1, 960, "pcm", 1000)
	src.Play()

	pcm := make([]int16, 960)
	out := src.ProcessBlock(pcm)
	if len(out) == 0 || !out[0].FormatMsg {
		t.Fatalf("expected leading format message, got %+v", out)
	}
}

func TestProcessBlockSequenceAdvancesAndRedundancyRepeats(t *testing.T) {
	src := NewSource(1, codec.NewRegistry(), 4096)
	src.Configure(48000, 1, 4, "pcm", 1000)
	src.SetRedundancy(2)
	src.Play()

	pcm := []int16{1, 2, 3, 4}
	out := src.ProcessBlock(pcm)

	var dataPackets int
	for _, p := range out {
		if !p.FormatMsg {
			dataPackets++
		}
	}
	if dataPackets != 2 {
		t.Errorf("expected redundancy=2 to emit the single fragment twice, got %d", dataPackets)
	}

	second := src.ProcessBlock([]int16{1, 2, 3, 4})
	if len(second) == 0 || second[0].FormatMsg || second[0].Seq != 1 {
		t.Errorf("expected the next block to carry seq 1, got %+v", second)
	}
}

func TestSinkFormatThenDataRoundTrip(t *testing.T) {
	registry := codec.NewRegistry()
	sink := NewSink(registry, jitter.Config{Capacity: 8})

	f := Format{Salt: 42, SampleRate: 48000, Channels: 1, BlockSize: 4, Codec: "pcm"}
	if err := sink.HandleFormat(1, f); err != nil {
		t.Fatalf("handle format: %v", err)
	}

	pcmCodec := codec.NewPCM(1, 4)
	encoded := make([]byte, 8)
	pcmCodec.Encode([]int16{10, 20, 30, 40}, encoded)

	if needFormat := sink.HandleData(1, 42, 0, 0, 1, encoded); needFormat {
		t.Fatal("unexpected format request for matching salt")
	}

	decoded := sink.Pop()
	if len(decoded) != 1 {
		t.Fatalf("expected 1 decoded block, got %d", len(decoded))
	}
	if decoded[0].PCM[0] != 10 {
		t.Errorf("decoded mismatch: %v", decoded[0].PCM)
	}
}

func TestSinkSaltMismatchRequestsFormat(t *testing.T) {
	registry := codec.NewRegistry()
	sink := NewSink(registry, jitter.Config{Capacity: 8})
	sink.HandleFormat(1, Format{Salt: 1, SampleRate: 48000, Channels: 1, BlockSize: 4, Codec: "pcm"})

	needFormat := sink.HandleData(1, 999, 0, 0, 1, []byte{0, 0, 0, 0})
	if !needFormat {
		t.Fatal("expected salt mismatch to request a format message")
	}
	if !sink.NeedsFormat(1) {
		t.Fatal("expected NeedsFormat to report the pending request")
	}
	if sink.NeedsFormat(1) {
		t.Fatal("expected NeedsFormat to clear after being read")
	}
}

func TestSourceResendServesFromHistory(t *testing.T) {
	src := NewSource(1, codec.NewRegistry(), 4096)
	src.Configure(48000, 1, 4, "pcm", 1000)
	src.Play()
	src.ProcessBlock([]int16{1, 2, 3, 4})

	if got := src.Resend(0); got == nil {
		t.Error("expected seq 0 to be retrievable from history immediately after sending")
	}
}
