// Command aooclient is a headless demo peer: it joins a group on a
// rendezvous server, captures local microphone audio with PortAudio,
// streams it to every other peer in the group, and plays back whatever
// it receives from them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"

	"aoo/internal/codec"
	"aoo/internal/config"
	"aoo/internal/jitter"
	"aoo/internal/peerpath"
	"aoo/internal/proto"
	"aoo/internal/session"
)

func main() {
	prefs := config.Load()

	host := flag.String("host", "127.0.0.1", "rendezvous server host")
	port := flag.Int("port", 7704, "rendezvous server TCP port")
	group := flag.String("group", prefs.DefaultGroup, "group name to join")
	user := flag.String("user", prefs.Username, "user name to join as (default: a generated name)")
	groupPwd := flag.String("group-pass", "", "group password")
	userPwd := flag.String("user-pass", "", "user password")
	relay := flag.Bool("relay", false, "request UDP relay fallback from the server")
	sampleRate := flag.Int("rate", 48000, "sample rate in Hz")
	channels := flag.Int("channels", 1, "channel count")
	blockSize := flag.Int("block", 960, "samples per channel per block")
	useOpus := flag.Bool("opus", false, "encode with Opus instead of raw PCM")
	inputDev := flag.Int("input-device", prefs.InputDeviceID, "PortAudio input device index (default: system default)")
	outputDev := flag.Int("output-device", prefs.OutputDeviceID, "PortAudio output device index (default: system default)")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "aooclient"})

	if *user == "" {
		*user = fmt.Sprintf("guest-%d", time.Now().UnixNano()%100000)
	}
	if *group == "" {
		*group = "lobby"
	}

	prefs.Username = *user
	prefs.DefaultGroup = *group
	prefs.InputDeviceID = *inputDev
	prefs.OutputDeviceID = *outputDev
	if err := config.Save(prefs); err != nil {
		logger.Warn("save preferences", "err", err)
	}

	if err := portaudio.Initialize(); err != nil {
		logger.Fatal("portaudio init", "err", err)
	}
	defer portaudio.Terminate()

	engine := session.New(peerpath.Config{})
	engine.SetCallbacks(session.Callbacks{
		OnPeerJoin: func(p session.PeerInfo) {
			logger.Info("peer joined", "user", p.UserName, "uid", p.UserID)
		},
		OnPeerLeave: func(groupID, userID proto.ID) {
			logger.Info("peer left", "uid", userID)
		},
		OnPeerChanged: func(p session.PeerInfo) {
			logger.Info("peer updated", "uid", p.UserID)
		},
		OnGroupEject: func(groupID proto.ID) {
			logger.Warn("ejected from group", "gid", groupID)
		},
		OnError: func(err error) {
			logger.Error("session error", "err", err)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if err := engine.Connect(ctx, *host, *port, "", nil); err != nil {
		logger.Fatal("connect", "err", err)
	}
	defer engine.Disconnect()
	logger.Info("connected", "uid", engine.LocalUserID())

	joinResult, err := engine.JoinGroup(ctx, *group, *user, *groupPwd, *userPwd, nil, nil, *relay)
	if err != nil {
		logger.Fatal("join group", "err", err)
	}
	logger.Info("joined group", "group", *group, "gid", joinResult.GroupID, "uid", joinResult.UserID)

	registry := codec.NewRegistry()
	codecName := "pcm"
	if *useOpus {
		codec.RegisterOpus(registry)
		codecName = "opus"
	}

	blockMs := float64(*blockSize) / float64(*sampleRate) * 1000
	jitterCapacity := jitter.CapacityFromDuration(prefs.JitterBufferMs, blockMs)
	audioCfg := session.AudioConfig{
		SampleRate:     *sampleRate,
		Channels:       *channels,
		BlockSize:      *blockSize,
		Codec:          codecName,
		ResendBufferMs: prefs.ResendBufferMs,
		Jitter: jitter.Config{
			Capacity:       jitterCapacity,
			ResendInterval: time.Duration(prefs.ResendIntervalMs) * time.Millisecond,
		},
		Registry: registry,
	}
	if err := engine.EnableAudio(audioCfg); err != nil {
		logger.Fatal("enable audio", "err", err)
	}
	engine.PlayAudio()

	io, err := startAudioIO(engine, logger, *inputDev, *outputDev, *sampleRate, *channels, *blockSize)
	if err != nil {
		logger.Fatal("start audio io", "err", err)
	}

	logger.Info("streaming, press ctrl-c to quit")
	<-ctx.Done()

	engine.StopAudio()
	io.Stop()
	if err := engine.LeaveGroup(context.Background(), joinResult.GroupID); err != nil {
		logger.Warn("leave group", "err", err)
	}
}
