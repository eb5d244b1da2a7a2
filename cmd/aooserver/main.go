// Command aooserver runs the rendezvous session broker: TCP control plane,
// UDP relay, and an admin HTTP surface.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"

	"aoo/internal/httpapi"
	"aoo/internal/rendezvous"
	"aoo/internal/store"
)

// Version is the current server version. Set at build time via -ldflags.
var Version = "0.1.0-dev"

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], "aoo.db") {
			return
		}
	}

	addr := flag.String("addr", ":7704", "TCP control-plane listen address")
	udpAddr := flag.String("udp-addr", ":7704", "UDP relay listen address")
	apiAddr := flag.String("api-addr", ":8080", "admin HTTP API listen address (empty to disable)")
	dbPath := flag.String("db", "aoo.db", "SQLite database path for persistent groups/users (empty to disable persistence)")
	allowAutoGroup := flag.Bool("auto-create-group", true, "auto-create a group on first join")
	allowAutoUser := flag.Bool("auto-create-user", true, "auto-create a user on first join")
	relayEnabled := flag.Bool("relay", true, "enable UDP relay fallback for peers that can't connect directly")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "aooserver"})

	cfg := rendezvous.Config{
		AllowAutoCreateGroup: *allowAutoGroup,
		AllowAutoCreateUser:  *allowAutoUser,
		RelayEnabled:         *relayEnabled,
	}

	var st *store.Store
	if *dbPath != "" {
		var err error
		st, err = store.New(*dbPath)
		if err != nil {
			logger.Fatal("open store", "err", err)
		}
		defer st.Close()
		cfg.Persist = st
		logger.Info("persistent store opened", "path", *dbPath)
	}

	// api is referenced by cfg.OnEvent before it exists; the closure
	// defers the nil check to call time, by which api is set.
	var api *httpapi.Server
	if *apiAddr != "" {
		cfg.OnEvent = func(ev rendezvous.Event) {
			if api != nil {
				api.OnRendezvousEvent(ev)
			}
		}
	}

	rdv := rendezvous.NewServer(cfg)

	if *apiAddr != "" {
		api = httpapi.New(rdv, Version)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal("listen tcp", "addr", *addr, "err", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	udpConn, err := net.ListenPacket("udp", *udpAddr)
	if err != nil {
		logger.Fatal("listen udp", "addr", *udpAddr, "err", err)
	}
	go func() {
		<-ctx.Done()
		udpConn.Close()
	}()
	go func() {
		if err := rdv.ServeUDP(udpConn); err != nil {
			logger.Error("udp relay loop exited", "err", err)
		}
	}()

	if api != nil {
		go api.Run(ctx, *apiAddr)
		logger.Info("admin api listening", "addr", *apiAddr)
	}

	logger.Info("rendezvous server listening", "tcp", *addr, "udp", *udpAddr, "version", Version)
	if err := rdv.Serve(ln); err != nil {
		select {
		case <-ctx.Done():
			// expected: listener closed during shutdown
		default:
			logger.Error("tcp accept loop exited", "err", err)
		}
	}

	time.Sleep(100 * time.Millisecond) // let in-flight admin requests drain
}
