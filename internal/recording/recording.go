// Package recording drives voice-note capture: a per-capture state machine,
// a controller that allows one live capture at a time, and an ffmpeg device.
package recording

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/scheduler"
)

type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

var (
	ErrPermissionDenied  = errors.New("microphone access denied")
	ErrCaptureFailure    = errors.New("capture failed")
	ErrInvalidTransition = errors.New("invalid recording transition")
	ErrAlreadyActive     = errors.New("another recording is active")
)

// Device is the capture hardware. Stop finalizes the output and returns the
// path of the written file, or "" when nothing was captured.
type Device interface {
	Start(ctx context.Context, path string) error
	Pause() error
	Resume() error
	Stop() (string, error)
}

// Permissions answers whether the microphone may be used.
type Permissions interface {
	RequestMicrophoneAccess(ctx context.Context) bool
}

type PermissionFunc func(ctx context.Context) bool

func (f PermissionFunc) RequestMicrophoneAccess(ctx context.Context) bool { return f(ctx) }

// TickInterval is how often OnTick callbacks fire while recording.
const TickInterval = time.Second

// Controller hands out capture sessions and guarantees at most one of them
// holds the device at any time.
type Controller struct {
	dir       string
	newDevice func() Device
	perms     Permissions
	log       zerolog.Logger
	now       func() time.Time

	mu     sync.Mutex
	active *Session
}

func NewController(dir string, newDevice func() Device, perms Permissions, log zerolog.Logger) *Controller {
	return &Controller{
		dir:       dir,
		newDevice: newDevice,
		perms:     perms,
		log:       log,
		now:       time.Now,
	}
}

// SetClock replaces the wall clock used for elapsed time and file names.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// NewSession returns an idle session.
func (c *Controller) NewSession() *Session {
	return &Session{
		ctrl:   c,
		device: c.newDevice(),
		state:  StateIdle,
		log:    c.log,
	}
}

// Active reports the session currently holding the device, if any.
func (c *Controller) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) acquire(s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.active != s {
		return ErrAlreadyActive
	}
	c.active = s
	return nil
}

func (c *Controller) release(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == s {
		c.active = nil
	}
}

func (c *Controller) nextPath() (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}
	return filepath.Join(c.dir, fmt.Sprintf("recording_%d.mp3", c.now().UnixMilli())), nil
}

// Session is one capture. It moves idle → recording ⇄ paused → stopped and
// is not reusable after stopping.
type Session struct {
	ctrl   *Controller
	device Device
	log    zerolog.Logger

	mu       sync.Mutex
	state    State
	path     string
	captured string
	elapsed  time.Duration
	since    time.Time
	ticker   *scheduler.Scheduler
	onTick   func(time.Duration)
}

// OnTick registers fn to receive the elapsed time once per TickInterval
// while recording.
func (s *Session) OnTick(fn func(elapsed time.Duration)) {
	s.mu.Lock()
	s.onTick = fn
	s.mu.Unlock()
}

func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("start from %s: %w", s.state, ErrInvalidTransition)
	}
	if !s.ctrl.perms.RequestMicrophoneAccess(ctx) {
		return ErrPermissionDenied
	}
	if err := s.ctrl.acquire(s); err != nil {
		return err
	}
	path, err := s.ctrl.nextPath()
	if err != nil {
		s.ctrl.release(s)
		return fmt.Errorf("%w: %v", ErrCaptureFailure, err)
	}
	if err := s.device.Start(ctx, path); err != nil {
		s.ctrl.release(s)
		return fmt.Errorf("%w: start device: %v", ErrCaptureFailure, err)
	}
	s.path = path
	s.elapsed = 0
	s.since = s.ctrl.now()
	s.state = StateRecording
	s.ticker = s.startTicker()
	s.log.Info().Str("path", path).Msg("recording started")
	return nil
}

func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StateRecording {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("pause from %s: %w", st, ErrInvalidTransition)
	}
	if err := s.device.Pause(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: pause device: %v", ErrCaptureFailure, err)
	}
	s.elapsed += s.ctrl.now().Sub(s.since)
	s.state = StatePaused
	t := s.ticker
	s.ticker = nil
	s.mu.Unlock()

	stopTicker(t)
	return nil
}

func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf("resume from %s: %w", s.state, ErrInvalidTransition)
	}
	if err := s.device.Resume(); err != nil {
		return fmt.Errorf("%w: resume device: %v", ErrCaptureFailure, err)
	}
	s.since = s.ctrl.now()
	s.state = StateRecording
	s.ticker = s.startTicker()
	return nil
}

// Stop finalizes the capture and returns the captured file. The session is
// stopped even when the device produced nothing; in that case the error
// wraps ErrCaptureFailure and no file is recorded.
func (s *Session) Stop() (string, error) {
	s.mu.Lock()
	if s.state != StateRecording && s.state != StatePaused {
		st := s.state
		s.mu.Unlock()
		return "", fmt.Errorf("stop from %s: %w", st, ErrInvalidTransition)
	}
	path, err := s.finish()
	t := s.ticker
	s.ticker = nil
	s.mu.Unlock()

	stopTicker(t)
	return path, err
}

// Close releases the device. A capture in progress is stopped and its
// output kept if the device produced any.
func (s *Session) Close() {
	s.mu.Lock()
	var t *scheduler.Scheduler
	if s.state == StateRecording || s.state == StatePaused {
		if _, err := s.finish(); err != nil {
			s.log.Warn().Err(err).Msg("recording released on close")
		}
		t = s.ticker
		s.ticker = nil
	} else if s.state == StateIdle {
		s.state = StateStopped
	}
	s.mu.Unlock()

	stopTicker(t)
}

// finish stops the device. Callers hold s.mu.
func (s *Session) finish() (string, error) {
	if s.state == StateRecording {
		s.elapsed += s.ctrl.now().Sub(s.since)
	}
	s.state = StateStopped
	defer s.ctrl.release(s)

	out, err := s.device.Stop()
	if err != nil {
		return "", fmt.Errorf("%w: stop device: %v", ErrCaptureFailure, err)
	}
	if out == "" {
		return "", fmt.Errorf("%w: device returned no output", ErrCaptureFailure)
	}
	s.captured = out
	s.log.Info().Str("path", out).Dur("elapsed", s.elapsed).Msg("recording stopped")
	return out, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed is the recorded duration, excluding time spent paused.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Session) elapsedLocked() time.Duration {
	if s.state == StateRecording {
		return s.elapsed + s.ctrl.now().Sub(s.since)
	}
	return s.elapsed
}

// CapturedFile returns the finalized file; ok is false until a successful Stop.
func (s *Session) CapturedFile() (path string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captured, s.captured != ""
}

// startTicker is called with s.mu held.
func (s *Session) startTicker() *scheduler.Scheduler {
	if s.onTick == nil {
		return nil
	}
	t := scheduler.New(s.log)
	err := t.Every(TickInterval, "recording-tick", func(ctx context.Context) {
		s.mu.Lock()
		if s.state != StateRecording {
			s.mu.Unlock()
			return
		}
		elapsed, fn := s.elapsedLocked(), s.onTick
		s.mu.Unlock()
		if fn != nil {
			fn(elapsed)
		}
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("recording tick not scheduled")
		return nil
	}
	t.Start()
	return t
}

// stopTicker waits for a running tick, so it must be called without s.mu.
func stopTicker(t *scheduler.Scheduler) {
	if t != nil {
		t.Stop()
	}
}

// FormatElapsed renders d as m:ss.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
