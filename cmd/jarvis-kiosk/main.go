// jarvis-kiosk runs one voice session against a jarvisd backend: it
// mints a credential, binds the microphone and speaker to the realtime
// transport, bridges model tool calls, and reports usage when the
// session ends.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BricePourLe13/jarvis-voice/internal/kiosk"
	"github.com/BricePourLe13/jarvis-voice/internal/session"
	"github.com/BricePourLe13/jarvis-voice/internal/transport"
)

type options struct {
	backendURL  string
	realtimeURL string
	token       string
	gymID       string
	memberID    string
	badgeID     string
	surface     string
	idle        time.Duration
	maxDuration time.Duration
	micDevice   string
	noAudio     bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "jarvis-kiosk: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "jarvis-kiosk: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var idleMS, maxMS int

	flag.StringVar(&cfg.backendURL, "backend-url", "http://127.0.0.1:8080", "jarvisd base URL")
	flag.StringVar(&cfg.realtimeURL, "realtime-url", "", "override the provider realtime endpoint (dev/proxy)")
	flag.StringVar(&cfg.token, "token", "", "bearer token presented to the backend")
	flag.StringVar(&cfg.gymID, "gym-id", "", "gym tenant id (required)")
	flag.StringVar(&cfg.memberID, "member-id", "", "member id, for kiosk sessions")
	flag.StringVar(&cfg.badgeID, "badge-id", "", "badge id, alternative to member-id")
	flag.StringVar(&cfg.surface, "surface", "kiosk", "surface: kiosk or vitrine")
	flag.IntVar(&idleMS, "idle-ms", 45000, "kiosk inactivity timeout in milliseconds")
	flag.IntVar(&maxMS, "max-duration-ms", 120000, "vitrine session cap in milliseconds")
	flag.StringVar(&cfg.micDevice, "mic", "default", "ALSA capture device for ffmpeg")
	flag.BoolVar(&cfg.noAudio, "no-audio", false, "control channel only, no mic or speaker")
	flag.Parse()

	cfg.backendURL = strings.TrimRight(strings.TrimSpace(cfg.backendURL), "/")
	if cfg.backendURL == "" {
		return options{}, fmt.Errorf("backend-url is required")
	}
	cfg.gymID = strings.TrimSpace(cfg.gymID)
	if cfg.gymID == "" {
		return options{}, fmt.Errorf("gym-id is required")
	}
	cfg.surface = strings.ToLower(strings.TrimSpace(cfg.surface))
	if cfg.surface != "kiosk" && cfg.surface != "vitrine" {
		return options{}, fmt.Errorf("surface must be kiosk or vitrine, got %q", cfg.surface)
	}
	if idleMS <= 0 {
		idleMS = 45000
	}
	if maxMS <= 0 {
		maxMS = 120000
	}
	cfg.idle = time.Duration(idleMS) * time.Millisecond
	cfg.maxDuration = time.Duration(maxMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	factory := session.NewFactory(cfg.backendURL, session.WithToken(cfg.token))
	backend := session.NewBackend(cfg.backendURL, session.WithBackendToken(cfg.token))

	var mic transport.MicSource
	var playback transport.PlaybackSink
	if !cfg.noAudio {
		mic = transport.NewFFmpegMicSource(cfg.micDevice)
		playback = transport.NewFFplayPlaybackSink()
	}
	conn := transport.NewClient(transport.ClientConfig{
		BaseURL:  cfg.realtimeURL,
		Mic:      mic,
		Playback: playback,
	}, nil)

	policy := kiosk.PolicyKiosk(cfg.idle)
	if cfg.surface == "vitrine" {
		policy = kiosk.PolicyVitrine(cfg.maxDuration)
	}

	events := make(chan kiosk.Event, 64)
	stopped := make(chan struct{}, 1)
	ctrl := kiosk.NewController(policy, factory, conn, backend,
		kiosk.WithToolInvoker(backend),
		kiosk.WithEventSink(func(ev kiosk.Event) {
			select {
			case events <- ev:
			default: // never block the controller
			}
		}),
	)

	// Ship instrumentation to the backend so the admin monitor sees the
	// kiosk's side of the session.
	go func() {
		for ev := range events {
			log.Printf("[kiosk] %s %s %s", ev.Type, ev.SessionID, ev.Detail)
			if ev.Type == "session_stopped" {
				select {
				case stopped <- struct{}{}:
				default:
				}
			}
			postCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := backend.PostEvent(postCtx, ev.SessionID, ev.Type, ev.Detail); err != nil {
				log.Printf("[kiosk] ship event %s: %v", ev.Type, err)
			}
			cancel()
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	id, err := ctrl.Start(startCtx, session.CreateRequest{
		GymID:    cfg.gymID,
		MemberID: cfg.memberID,
		BadgeID:  cfg.badgeID,
		Surface:  cfg.surface,
	})
	startCancel()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	log.Printf("[kiosk] session %s live on %s, Ctrl-C to stop", id, cfg.surface)

	select {
	case <-ctx.Done():
		log.Printf("[kiosk] shutdown signal received")
		ctrl.Stop(kiosk.ReasonShutdown)
	case <-stopped:
		// Ended by policy (cap, idle, transport failure); usage is
		// already reported.
	}
	return nil
}
