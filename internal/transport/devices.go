package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DeviceErrorReason classifies why an audio device could not be used.
type DeviceErrorReason string

const (
	DevicePermission DeviceErrorReason = "permission"
	DeviceBusy       DeviceErrorReason = "busy"
	DeviceNotFound   DeviceErrorReason = "notfound"
	DeviceTimeout    DeviceErrorReason = "timeout"
)

// DeviceError wraps a capture or playback failure with enough context
// for the kiosk UI to tell the user what to fix.
type DeviceError struct {
	Device string
	Reason DeviceErrorReason
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Device, e.Reason, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func classifyDeviceError(device string, err error) error {
	reason := DeviceNotFound
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, exec.ErrNotFound) || strings.Contains(msg, "no such"):
		reason = DeviceNotFound
	case strings.Contains(msg, "permission denied") || errors.Is(err, os.ErrPermission):
		reason = DevicePermission
	case strings.Contains(msg, "busy"):
		reason = DeviceBusy
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout"):
		reason = DeviceTimeout
	}
	return &DeviceError{Device: device, Reason: reason, Err: err}
}

// MicSource provides microphone audio as an Ogg/Opus stream. Start may
// be called again after Close; each call owns a fresh capture.
type MicSource interface {
	Start(ctx context.Context) (io.ReadCloser, error)
	Close() error
}

// PlaybackSink consumes an Ogg/Opus stream and plays it out loud.
type PlaybackSink interface {
	Start(ctx context.Context) (io.WriteCloser, error)
	Close() error
}

// commandProcess manages one external audio process.
type commandProcess struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	tail   *tailBuffer
	closed bool
}

func (p *commandProcess) stop() error {
	p.mu.Lock()
	cmd := p.cmd
	p.cmd = nil
	p.closed = true
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	// Best-effort graceful shutdown.
	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}

// CommandMicSource captures the microphone by running an encoder
// command (ffmpeg by default) that writes Ogg/Opus to stdout.
type CommandMicSource struct {
	Path string
	Args []string

	proc commandProcess
}

// NewFFmpegMicSource captures from an ALSA device and encodes Opus at
// the realtime transport's 48kHz stereo framing.
func NewFFmpegMicSource(device string) *CommandMicSource {
	if device == "" {
		device = "default"
	}
	return &CommandMicSource{
		Path: "ffmpeg",
		Args: []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "alsa", "-i", device,
			"-c:a", "libopus", "-b:a", "48k",
			"-ar", "48000", "-ac", "2",
			"-f", "ogg", "-",
		},
	}
}

func (s *CommandMicSource) Start(ctx context.Context) (io.ReadCloser, error) {
	path, err := exec.LookPath(s.Path)
	if err != nil {
		return nil, classifyDeviceError("microphone", err)
	}

	tail := newTailBuffer(8 << 10)
	cmd := exec.CommandContext(ctx, path, s.Args...)
	cmd.Stderr = tail

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, classifyDeviceError("microphone", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyDeviceError("microphone", err)
	}

	s.proc.mu.Lock()
	s.proc.cmd = cmd
	s.proc.tail = tail
	s.proc.closed = false
	s.proc.mu.Unlock()
	return stdout, nil
}

func (s *CommandMicSource) Close() error { return s.proc.stop() }

// LogTail returns the last stderr output from the capture process.
func (s *CommandMicSource) LogTail() string {
	s.proc.mu.Lock()
	defer s.proc.mu.Unlock()
	if s.proc.tail == nil {
		return ""
	}
	return s.proc.tail.String()
}

// CommandPlaybackSink plays an Ogg/Opus stream by piping it to a player
// command (ffplay by default).
type CommandPlaybackSink struct {
	Path string
	Args []string

	proc commandProcess
}

func NewFFplayPlaybackSink() *CommandPlaybackSink {
	return &CommandPlaybackSink{
		Path: "ffplay",
		Args: []string{"-hide_banner", "-loglevel", "error", "-nodisp", "-autoexit", "-"},
	}
}

func (s *CommandPlaybackSink) Start(ctx context.Context) (io.WriteCloser, error) {
	path, err := exec.LookPath(s.Path)
	if err != nil {
		return nil, classifyDeviceError("speaker", err)
	}

	tail := newTailBuffer(8 << 10)
	cmd := exec.CommandContext(ctx, path, s.Args...)
	cmd.Stderr = tail

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, classifyDeviceError("speaker", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyDeviceError("speaker", err)
	}

	s.proc.mu.Lock()
	s.proc.cmd = cmd
	s.proc.tail = tail
	s.proc.closed = false
	s.proc.mu.Unlock()
	return stdin, nil
}

func (s *CommandPlaybackSink) Close() error { return s.proc.stop() }

// tailBuffer keeps the last max bytes written, for error reporting from
// device subprocesses.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 16 << 10
	}
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
