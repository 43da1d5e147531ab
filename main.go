// Command mediaclient is a headless runner that wires the transport, the
// optional test-tone publisher, and the jitter/playout engine together. It has no GUI
// (spec.md's Non-goals explicitly exclude one) — it exists to exercise the
// engine against a real moq:// server and, optionally, a synthetic test
// publisher for manual soak testing.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mediaclient/internal/config"
	"mediaclient/internal/jitter"
	"mediaclient/internal/packet"
	"mediaclient/internal/testtone"
	"mediaclient/internal/transport"
	"mediaclient/internal/videodecode"
	"mediaclient/internal/videoplayout"
)

// parseStartupAddr scans args for a moq:// URL and returns the host:port.
// Returns "" if no moq:// argument is found or if the addr portion is empty.
func parseStartupAddr(args []string) string {
	const scheme = "moq://"
	for _, arg := range args {
		if strings.HasPrefix(arg, scheme) {
			addr := strings.TrimPrefix(arg, scheme)
			addr = strings.TrimRight(addr, "/")
			return addr
		}
	}
	return ""
}

func main() {
	var (
		serverFlag = flag.String("server", "", "server address (host:port, moq://, https://)")
		clientID   = flag.Uint64("client-id", 1, "local client id used for published objects")
		sourceID   = flag.Uint64("source-id", 1, "local source id used for published objects")
		publish    = flag.Bool("publish", false, "stream a synthetic test tone instead of a microphone")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg := config.Load()

	addr := *serverFlag
	if addr == "" {
		addr = parseStartupAddr(os.Args[1:])
	}
	if addr == "" && len(cfg.Servers) > 0 {
		addr = cfg.Servers[0].Addr
	}
	if addr == "" {
		log.Error("no server address given (use -server, a moq:// argument, or a saved server)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tr := transport.New(log)
	if err := tr.Connect(ctx, addr); err != nil {
		log.Error("connect failed", "addr", addr, "err", err)
		os.Exit(1)
	}
	defer tr.Disconnect()

	engine := jitter.New(jitter.Config{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Format:     cfg.SampleFormat(),
		FrameSize:  cfg.Audio.SampleRate / 50, // 20 ms frames
		BucketMode: cfg.BucketMode(),
		NewDecoder: func() (videoplayout.VideoDecoder, error) { return videodecode.New() },
		OnNewStream: func(key jitter.StreamKey) {
			log.Info("new stream", "client", key.ClientID, "source", key.SourceID)
		},
		OnIdrNeeded: func(req packet.IdrRequest) {
			tr.RequestIdr(req)
		},
	})
	tr.SetOnIdrRequest(func(req packet.IdrRequest) {
		log.Warn("upstream IDR requested", "client", req.ClientID, "source", req.SourceID)
	})

	if *publish {
		pub := testtone.New(*clientID, *sourceID, tr, log)
		if err := pub.Start(ctx); err != nil {
			log.Error("test publisher failed to start", "err", err)
			os.Exit(1)
		}
		defer pub.Stop()
	}

	// A real capture.Pipeline sits upstream of Publish on the send side, fed
	// by a microphone device; the headless runner has no audio hardware to
	// drive it from, so -publish exercises the send path with testtone
	// instead. Playback (PopAudio/PopVideo pulled by an output device) is
	// likewise out of scope here — this loop only proves the receive path.
	sub, err := tr.Subscribe(transport.ObjectName(*clientID, *sourceID))
	if err != nil {
		log.Error("subscribe failed", "err", err)
		os.Exit(1)
	}

	prune := time.NewTicker(time.Second)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-prune.C:
			engine.PruneIdleStreams(time.Now())
			engine.UpdateLinkQuality(*clientID, tr.GetMetrics().PacketLoss)
		case p, ok := <-sub:
			if !ok {
				return
			}
			if _, err := engine.Push(p, time.Now()); err != nil {
				log.Warn("push failed", "err", err)
			}
		}
	}
}
