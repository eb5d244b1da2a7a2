package main

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"

	"aoo/internal/proto"
	"aoo/internal/session"
)

// audioIO owns the local PortAudio capture/playback streams and the two
// goroutines that pump int16 PCM between them and the session engine.
type audioIO struct {
	engine *session.Engine
	logger *log.Logger

	sampleRate int
	channels   int
	blockSize  int

	captureStream  *portaudio.Stream
	playbackStream *portaudio.Stream

	stopCh chan struct{}
	wg     sync.WaitGroup

	mixMu sync.Mutex
	mix   map[proto.ID][]int16 // per-source carryover when a decoded block doesn't align to blockSize
}

// resolveDevice returns the device at idx if valid, otherwise the
// fallback (typically the host API's default device).
func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

// startAudioIO opens the capture/playback streams and starts the pump
// goroutines. engine must already have EnableAudio called on it.
func startAudioIO(engine *session.Engine, logger *log.Logger, inputDevID, outputDevID, sampleRate, channels, blockSize int) (*audioIO, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	inputDev, err := resolveDevice(devices, inputDevID, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, err
	}
	outputDev, err := resolveDevice(devices, outputDevID, portaudio.DefaultOutputDevice)
	if err != nil {
		return nil, err
	}

	captureBuf := make([]float32, blockSize*channels)
	captureParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: channels,
			Latency:  inputDev.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: blockSize,
	}
	captureStream, err := portaudio.OpenStream(captureParams, captureBuf)
	if err != nil {
		return nil, err
	}

	playbackBuf := make([]float32, blockSize*channels)
	playbackParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outputDev,
			Channels: channels,
			Latency:  outputDev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: blockSize,
	}
	playbackStream, err := portaudio.OpenStream(playbackParams, playbackBuf)
	if err != nil {
		captureStream.Close()
		return nil, err
	}

	if err := captureStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		return nil, err
	}
	if err := playbackStream.Start(); err != nil {
		captureStream.Stop()
		captureStream.Close()
		playbackStream.Close()
		return nil, err
	}

	a := &audioIO{
		engine: engine, logger: logger,
		sampleRate: sampleRate, channels: channels, blockSize: blockSize,
		captureStream: captureStream, playbackStream: playbackStream,
		stopCh: make(chan struct{}),
		mix:    make(map[proto.ID][]int16),
	}

	a.wg.Add(2)
	go func() { defer a.wg.Done(); a.captureLoop(captureBuf) }()
	go func() { defer a.wg.Done(); a.playbackLoop(playbackBuf) }()

	logger.Info("audio started", "capture", inputDev.Name, "playback", outputDev.Name)
	return a, nil
}

func clampFloat32(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}

// captureLoop reads one block at a time from the input device, converts
// it to int16, and hands it to the session engine to encode and
// broadcast to every joined peer.
func (a *audioIO) captureLoop(buf []float32) {
	pcm := make([]int16, len(buf))
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}
		if err := a.captureStream.Read(); err != nil {
			select {
			case <-a.stopCh:
			default:
				a.logger.Error("capture read", "err", err)
			}
			return
		}
		for i, s := range buf {
			pcm[i] = int16(clampFloat32(s) * 32767)
		}
		if err := a.engine.SendAudioBlock(pcm); err != nil {
			a.logger.Error("send audio block", "err", err)
		}
	}
}

// playbackLoop drains decoded audio from every tracked remote source,
// additively mixes it into the output buffer, and writes it to the
// output device once per block period.
func (a *audioIO) playbackLoop(buf []float32) {
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}

		for i := range buf {
			buf[i] = 0
		}

		for _, d := range a.engine.PopAudio() {
			n := len(d.PCM)
			if n > len(buf) {
				n = len(buf)
			}
			for i := 0; i < n; i++ {
				buf[i] = clampFloat32(buf[i] + float32(d.PCM[i])/32768.0)
			}
		}

		if err := a.playbackStream.Write(); err != nil {
			select {
			case <-a.stopCh:
			default:
				a.logger.Error("playback write", "err", err)
			}
			return
		}
	}
}

// Stop halts both streams and waits for the pump goroutines to exit
// before releasing the native stream handles.
func (a *audioIO) Stop() {
	close(a.stopCh)
	a.captureStream.Stop()
	a.playbackStream.Stop()
	a.wg.Wait()
	a.captureStream.Close()
	a.playbackStream.Close()
}
