package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/BricePourLe13/jarvis-voice/internal/realtime"
	"github.com/BricePourLe13/jarvis-voice/internal/session"
)

const (
	defaultRealtimeURL  = "https://api.openai.com/v1/realtime"
	controlChannelLabel = "oai-events"
	opusClockRate       = 48000
	opusChannels        = 2
)

// ErrControlChannelClosed is returned when an event is sent before the
// control channel is open or after teardown.
var ErrControlChannelClosed = errors.New("transport: control channel is not open")

// ClientConfig wires a realtime client's collaborators. Mic and
// Playback may be nil for control-channel-only sessions.
type ClientConfig struct {
	BaseURL    string
	ICEServers []string
	Mic        MicSource
	Playback   PlaybackSink
	HTTPClient *http.Client
	Logf       func(format string, args ...any)
}

// Client is a WebRTC realtime connection. It owns the microphone and
// playback devices for the lifetime of a connection and feeds every
// provider event through the router.
type Client struct {
	cfg    ClientConfig
	router *realtime.Router
	states *StateTracker
	logf   func(format string, args ...any)

	mu          sync.Mutex
	pc          *webrtc.PeerConnection
	dc          *webrtc.DataChannel
	cancelPumps context.CancelFunc
	pendingCfg  *realtime.SessionConfig
}

func NewClient(cfg ClientConfig, router *realtime.Router) *Client {
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	if router == nil {
		router = realtime.NewRouter()
	}
	return &Client{
		cfg:    cfg,
		router: router,
		states: NewStateTracker(),
		logf:   logf,
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State { return c.states.State() }

// OnStateChange registers a lifecycle observer.
func (c *Client) OnStateChange(fn func(old, next State)) { c.states.OnChange(fn) }

// Router exposes the event router for handler registration.
func (c *Client) Router() *realtime.Router { return c.router }

// Connect dials the realtime endpoint with a one-shot grant. Calling it
// while connecting or connected is a no-op; after a terminal failure
// the client must be disconnected first.
func (c *Client) Connect(ctx context.Context, grant *session.Grant) error {
	switch s := c.states.State(); s {
	case StateConnecting, StateConnected, StateListening, StateSpeaking:
		c.logf("[transport] connect ignored: already %s", s)
		return nil
	}
	if !c.states.Set(StateConnecting) {
		return fmt.Errorf("cannot connect from state %q, disconnect first", c.states.State())
	}
	if grant == nil {
		c.states.Set(StateError)
		return fmt.Errorf("nil session grant")
	}
	secret, err := grant.Secret()
	if err != nil {
		c.states.Set(StateError)
		return err
	}
	if !grant.ExpiresAt.IsZero() && time.Now().After(grant.ExpiresAt) {
		c.states.Set(StateError)
		return fmt.Errorf("session credential expired at %s", grant.ExpiresAt.Format(time.RFC3339))
	}

	pumpCtx, cancelPumps := context.WithCancel(context.Background())
	fail := func(err error) error {
		cancelPumps()
		c.closeDevices()
		c.states.Set(StateError)
		return err
	}

	// Capture is claimed before any negotiation starts, so a broken
	// microphone surfaces as its device cause.
	var micStream io.ReadCloser
	if c.cfg.Mic != nil {
		micStream, err = c.cfg.Mic.Start(pumpCtx)
		if err != nil {
			return fail(fmt.Errorf("acquire microphone: %w", err))
		}
	}

	// nil selects the default STUN server; an explicitly empty list
	// gathers host candidates only.
	iceServers := c.cfg.ICEServers
	if iceServers == nil {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	var rtcConfig webrtc.Configuration
	if len(iceServers) > 0 {
		rtcConfig.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	pc, err := webrtc.NewPeerConnection(rtcConfig)
	if err != nil {
		return fail(fmt.Errorf("create peer connection: %w", err))
	}

	cleanup := func(err error) error {
		c.mu.Lock()
		if c.pc == pc {
			c.pc, c.dc, c.cancelPumps, c.pendingCfg = nil, nil, nil, nil
		}
		c.mu.Unlock()
		_ = pc.Close()
		return fail(err)
	}

	dc, err := pc.CreateDataChannel(controlChannelLabel, nil)
	if err != nil {
		return cleanup(fmt.Errorf("create control channel: %w", err))
	}
	dc.OnOpen(func() {
		c.logf("[transport] control channel open")
		c.states.Set(StateConnected)
		c.mu.Lock()
		cfg := c.pendingCfg
		c.pendingCfg = nil
		c.mu.Unlock()
		if cfg != nil {
			if err := c.UpdateSession(*cfg); err != nil {
				c.logf("[transport] apply session config: %v", err)
			}
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.handleEvent(msg.Data)
	})

	if c.cfg.Mic != nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: opusChannels},
			"audio", "jarvis-mic")
		if err != nil {
			return cleanup(fmt.Errorf("create mic track: %w", err))
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			return cleanup(fmt.Errorf("publish mic track: %w", err))
		}
		go drainRTCP(sender)
		go c.pumpMic(pumpCtx, track, micStream)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go c.pumpPlayback(pumpCtx, track)
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		switch s {
		case webrtc.ICEConnectionStateDisconnected:
			// Often transient; ICE may restore the pair on its own.
			c.logf("[transport] ice disconnected, waiting for recovery")
		case webrtc.ICEConnectionStateFailed:
			go c.fail(errors.New("ice connection failed"))
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return cleanup(fmt.Errorf("create offer: %w", err))
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return cleanup(fmt.Errorf("set local description: %w", err))
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return cleanup(ctx.Err())
	}

	local := pc.LocalDescription()
	if local == nil {
		return cleanup(errors.New("no local description after gathering"))
	}

	answer, err := ExchangeSDP(ctx, c.cfg.HTTPClient, c.baseURL(), grant.Model, secret, local.SDP)
	if err != nil {
		return cleanup(fmt.Errorf("sdp exchange: %w", err))
	}

	c.mu.Lock()
	c.pc = pc
	c.dc = dc
	c.cancelPumps = cancelPumps
	c.pendingCfg = grant.SessionConfig
	c.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return cleanup(fmt.Errorf("apply answer: %w", err))
	}
	c.logf("[transport] connected to realtime session %s", grant.SessionID)
	return nil
}

// Disconnect tears the connection down completely. It is safe to call
// in any state, repeatedly.
func (c *Client) Disconnect() error {
	return c.teardown(StateDisconnected)
}

func (c *Client) fail(err error) {
	c.logf("[transport] terminal failure: %v", err)
	_ = c.teardown(StateError)
}

func (c *Client) teardown(final State) error {
	c.mu.Lock()
	pc := c.pc
	cancel := c.cancelPumps
	c.pc, c.dc, c.cancelPumps, c.pendingCfg = nil, nil, nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pc != nil {
		_ = pc.Close()
	}
	c.closeDevices()
	c.states.Set(final)
	return nil
}

func (c *Client) closeDevices() {
	if c.cfg.Mic != nil {
		_ = c.cfg.Mic.Close()
	}
	if c.cfg.Playback != nil {
		_ = c.cfg.Playback.Close()
	}
}

func (c *Client) baseURL() string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL
	}
	return defaultRealtimeURL
}

// SendEvent marshals a client event onto the control channel.
func (c *Client) SendEvent(ev realtime.Event) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrControlChannelClosed
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return dc.SendText(string(payload))
}

// SendText injects a typed user message and asks for a response.
func (c *Client) SendText(text string) error {
	if err := c.SendEvent(realtime.NewUserText(text)); err != nil {
		return err
	}
	return c.SendEvent(realtime.NewResponseCreate())
}

// UpdateSession pushes new session configuration to the provider.
func (c *Client) UpdateSession(cfg realtime.SessionConfig) error {
	return c.SendEvent(realtime.NewSessionUpdate(cfg))
}

// SendFunctionResult returns a tool result to the model and asks it to
// continue the response.
func (c *Client) SendFunctionResult(callID, output string) error {
	if err := c.SendEvent(realtime.NewFunctionCallOutput(callID, output)); err != nil {
		return err
	}
	return c.SendEvent(realtime.NewResponseCreate())
}

func (c *Client) handleEvent(raw []byte) {
	dispatchServerEvent(raw, c.states, c.router, c.logf)
}

// pumpMic reads Ogg/Opus pages from the capture stream and writes them
// to the published track. The capture process paces the stream, so each
// read blocks until a page of real audio exists.
func (c *Client) pumpMic(ctx context.Context, track *webrtc.TrackLocalStaticSample, stream io.ReadCloser) {
	defer stream.Close()

	ogg, _, err := oggreader.NewWith(stream)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.fail(fmt.Errorf("microphone stream: %w", err))
		return
	}

	var lastGranule uint64
	for {
		pageData, pageHeader, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logf("[transport] microphone read: %v", err)
			return
		}
		sampleCount := float64(pageHeader.GranulePosition - lastGranule)
		lastGranule = pageHeader.GranulePosition
		sampleDuration := time.Duration((sampleCount/opusClockRate)*1000) * time.Millisecond
		if err := track.WriteSample(media.Sample{Data: pageData, Duration: sampleDuration}); err != nil {
			if ctx.Err() == nil {
				c.logf("[transport] write mic sample: %v", err)
			}
			return
		}
	}
}

// pumpPlayback forwards the remote audio track into the playback sink
// as an Ogg/Opus stream.
func (c *Client) pumpPlayback(ctx context.Context, track *webrtc.TrackRemote) {
	if c.cfg.Playback == nil {
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	}

	out, err := c.cfg.Playback.Start(ctx)
	if err != nil {
		c.logf("[transport] playback unavailable: %v", err)
		c.fail(err)
		return
	}
	defer out.Close()

	w, err := oggwriter.NewWith(out, opusClockRate, opusChannels)
	if err != nil {
		c.logf("[transport] playback writer: %v", err)
		return
	}
	defer w.Close()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				c.logf("[transport] playback read: %v", err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			// DTX padding carries no Opus frame.
			continue
		}
		if err := w.WriteRTP(pkt); err != nil {
			c.logf("[transport] playback write: %v", err)
			return
		}
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
