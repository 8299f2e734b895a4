// jarvis-probe replays synthetic text turns against a live realtime
// session and reports per-stage latency quantiles. It mints a session
// from a jarvisd backend exactly like a kiosk would, drives the
// provider over the websocket transport, and prints a JSON latency
// snapshot to stdout. Optionally it captures the assistant audio to a
// WAV file for manual listening checks.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BricePourLe13/jarvis-voice/internal/audio"
	"github.com/BricePourLe13/jarvis-voice/internal/observability"
	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
	"github.com/BricePourLe13/jarvis-voice/internal/session"
	"github.com/BricePourLe13/jarvis-voice/internal/transport"
)

type options struct {
	backendURL     string
	realtimeURL    string
	token          string
	gymID          string
	memberID       string
	badgeID        string
	surface        string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	wavPath        string
	verbose        bool
}

var defaultUtterances = []string{
	"Reply in one short sentence: what are the opening hours?",
	"Reply in one short sentence: how do I book a class?",
	"Reply in one short sentence: is there a pool?",
	"Reply in one short sentence: what does a day pass cost?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "jarvis-probe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "jarvis-probe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.backendURL, "backend-url", "http://127.0.0.1:8080", "jarvisd base URL")
	flag.StringVar(&cfg.realtimeURL, "realtime-url", "", "realtime provider URL (defaults to the OpenAI endpoint)")
	flag.StringVar(&cfg.token, "token", "", "bearer token for the backend")
	flag.StringVar(&cfg.gymID, "gym-id", "", "gym the probe session belongs to (required)")
	flag.StringVar(&cfg.memberID, "member-id", "", "optional member to probe as")
	flag.StringVar(&cfg.badgeID, "badge-id", "", "optional badge to probe as")
	flag.StringVar(&cfg.surface, "surface", "vitrine", "session surface: kiosk or vitrine")
	flag.IntVar(&cfg.turns, "turns", 4, "number of text turns to replay")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 250, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for response.done per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.StringVar(&cfg.wavPath, "wav", "", "write captured assistant audio to this WAV file")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.backendURL = strings.TrimRight(strings.TrimSpace(cfg.backendURL), "/")
	if cfg.backendURL == "" {
		return options{}, fmt.Errorf("backend-url is required")
	}
	if strings.TrimSpace(cfg.gymID) == "" {
		return options{}, fmt.Errorf("gym-id is required")
	}
	switch cfg.surface {
	case "kiosk", "vitrine":
	default:
		return options{}, fmt.Errorf("surface must be kiosk or vitrine, got %q", cfg.surface)
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	var factoryOpts []session.FactoryOption
	var backendOpts []session.BackendOption
	if cfg.token != "" {
		factoryOpts = append(factoryOpts, session.WithToken(cfg.token))
		backendOpts = append(backendOpts, session.WithBackendToken(cfg.token))
	}
	factory := session.NewFactory(cfg.backendURL, factoryOpts...)
	backend := session.NewBackend(cfg.backendURL, backendOpts...)

	grant, err := factory.Create(ctx, session.CreateRequest{
		GymID:    cfg.gymID,
		MemberID: cfg.memberID,
		BadgeID:  cfg.badgeID,
		Surface:  cfg.surface,
	})
	if err != nil {
		return fmt.Errorf("mint session: %w", err)
	}
	startedAt := time.Now()
	defer func() {
		endCtx, endCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer endCancel()
		report, err := backend.EndSession(endCtx, grant.SessionID, time.Since(startedAt), "user_stop")
		if err != nil {
			fmt.Fprintf(os.Stderr, "jarvis-probe: end session: %v\n", err)
			return
		}
		if cfg.verbose {
			fmt.Fprintf(os.Stderr, "jarvis-probe: billed %ds = %d credits, %d remaining\n",
				report.DurationSeconds, report.CreditsUsed, report.RemainingCredits)
		}
	}()

	if cfg.verbose {
		fmt.Fprintf(os.Stderr, "jarvis-probe: session=%s model=%s surface=%s turns=%d\n",
			grant.SessionID, grant.Model, cfg.surface, cfg.turns)
	}

	window := observability.NewLatencyWindow(cfg.turns)
	tracker := newTurnTracker(window, cfg.wavPath != "")

	router := realtime.NewRouter()
	router.On(realtime.TypeResponseCreated, func(realtime.Event) {
		tracker.onResponseCreated()
	})
	router.On(realtime.TypeAudioDelta, func(ev realtime.Event) {
		if delta, ok := ev.(realtime.AudioDelta); ok {
			tracker.onAudioDelta(delta.Delta)
		}
	})
	router.On(realtime.TypeAudioTranscriptDelta, func(ev realtime.Event) {
		if delta, ok := ev.(realtime.AudioTranscriptDelta); ok {
			tracker.onTranscriptDelta(delta.Delta)
		}
	})
	router.On(realtime.TypeResponseDone, func(realtime.Event) {
		tracker.onResponseDone()
	})
	router.On(realtime.TypeError, func(ev realtime.Event) {
		if e, ok := ev.(realtime.ErrorEvent); ok {
			fmt.Fprintf(os.Stderr, "jarvis-probe: provider error: %s\n", e.Error.Message)
		}
		window.ObserveIndicator("provider_errors")
	})

	conn := transport.NewWSClient(transport.WSClientConfig{BaseURL: cfg.realtimeURL}, router)
	if err := conn.Connect(ctx, grant); err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}
	defer conn.Disconnect()

	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Fprintf(os.Stderr, "jarvis-probe: turn %d/%d text=%q\n", i+1, cfg.turns, text)
		}

		done := tracker.begin(time.Now())
		if err := conn.SendText(text); err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}
		if err := awaitDone(ctx, done, cfg.turnTimeout); err != nil {
			return fmt.Errorf("turn %d await response.done: %w", i+1, err)
		}
		if cfg.verbose {
			if transcript := tracker.takeTranscript(); transcript != "" {
				fmt.Fprintf(os.Stderr, "jarvis-probe: turn %d transcript: %s\n", i+1, transcript)
			}
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	snapshot := window.Snapshot()
	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	fmt.Println(string(out))

	if cfg.wavPath != "" {
		pcm := tracker.capturedPCM()
		if len(pcm) == 0 {
			fmt.Fprintf(os.Stderr, "jarvis-probe: no audio captured, skipping %s\n", cfg.wavPath)
			return nil
		}
		if samples := audio.PCM16ToFloat(pcm); audio.IsSilent(samples, 0) {
			fmt.Fprintf(os.Stderr, "jarvis-probe: captured audio is near-silent (RMS %.5f), capture may be broken\n",
				audio.RMS(samples))
		}
		if err := audio.WriteWAVPCM16LEFile(cfg.wavPath, pcm, audio.DefaultSampleRate); err != nil {
			return fmt.Errorf("write wav capture: %w", err)
		}
		if cfg.verbose {
			fmt.Fprintf(os.Stderr, "jarvis-probe: wrote %d PCM bytes to %s\n", len(pcm), cfg.wavPath)
		}
	}
	return nil
}

func awaitDone(ctx context.Context, done <-chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	}
}

// turnTracker latches the first occurrence of each stage per turn and
// feeds the elapsed times into the latency window. Handlers run on the
// transport's read goroutine; begin runs on the replay goroutine.
type turnTracker struct {
	mu            sync.Mutex
	window        *observability.LatencyWindow
	capture       bool
	start         time.Time
	sawCreated    bool
	sawAudio      bool
	sawTranscript bool
	done          chan struct{}
	transcript    strings.Builder
	pcm           []byte
}

func newTurnTracker(window *observability.LatencyWindow, capture bool) *turnTracker {
	return &turnTracker{window: window, capture: capture}
}

// begin arms the tracker for one turn and returns the channel closed on
// response.done.
func (t *turnTracker) begin(start time.Time) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = start
	t.sawCreated = false
	t.sawAudio = false
	t.sawTranscript = false
	t.done = make(chan struct{})
	return t.done
}

func (t *turnTracker) onResponseCreated() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.start.IsZero() || t.sawCreated {
		return
	}
	t.sawCreated = true
	t.window.ObserveSince("send_to_response_created", t.start)
}

func (t *turnTracker) onAudioDelta(delta string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.start.IsZero() {
		return
	}
	if !t.sawAudio {
		t.sawAudio = true
		t.window.ObserveSince("send_to_first_audio", t.start)
	}
	t.window.ObserveIndicator("audio_chunks")
	if !t.capture || delta == "" {
		return
	}
	raw, err := audio.DecodeBase64(delta)
	if err != nil {
		t.window.ObserveIndicator("audio_decode_errors")
		return
	}
	t.pcm = append(t.pcm, raw...)
}

func (t *turnTracker) onTranscriptDelta(delta string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.start.IsZero() {
		return
	}
	if !t.sawTranscript {
		t.sawTranscript = true
		t.window.ObserveSince("send_to_first_transcript", t.start)
	}
	t.transcript.WriteString(delta)
}

func (t *turnTracker) onResponseDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.start.IsZero() {
		return
	}
	t.window.ObserveSince("response_total", t.start)
	t.start = time.Time{}
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
}

// takeTranscript returns the accumulated transcript and resets it.
func (t *turnTracker) takeTranscript() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := strings.TrimSpace(t.transcript.String())
	t.transcript.Reset()
	return out
}

func (t *turnTracker) capturedPCM() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pcm
}
