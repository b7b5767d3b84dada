package recording

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// FFmpegDevice captures the microphone into an mp3 file with an ffmpeg
// child process.
type FFmpegDevice struct {
	Binary      string
	InputFormat string
	InputDevice string
	StopTimeout time.Duration
	Log         zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	path    string
	paused  bool
	done    chan error
	logFile *os.File
}

func NewFFmpegDevice(inputFormat, inputDevice string, log zerolog.Logger) *FFmpegDevice {
	return &FFmpegDevice{
		Binary:      "ffmpeg",
		InputFormat: inputFormat,
		InputDevice: inputDevice,
		StopTimeout: 5 * time.Second,
		Log:         log,
	}
}

func (d *FFmpegDevice) Start(_ context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil {
		return errors.New("ffmpeg already running")
	}

	// The process outlives the caller's context; Stop ends it.
	cmd := exec.Command(d.Binary,
		"-hide_banner",
		"-f", d.InputFormat,
		"-i", d.InputDevice,
		"-ac", "1",
		"-ar", "44100",
		"-codec:a", "libmp3lame",
		"-y",
		path,
	)
	if f, err := os.Create(path + ".ffmpeg.log"); err == nil {
		cmd.Stderr = f
		d.logFile = f
	}
	if err := cmd.Start(); err != nil {
		d.closeLog()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	d.cmd, d.path, d.done, d.paused = cmd, path, done, false
	d.Log.Debug().Int("pid", cmd.Process.Pid).Str("path", path).Msg("ffmpeg started")
	return nil
}

func (d *FFmpegDevice) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return errors.New("ffmpeg not running")
	}
	if err := suspend(d.cmd.Process); err != nil {
		return fmt.Errorf("suspend ffmpeg: %w", err)
	}
	d.paused = true
	return nil
}

func (d *FFmpegDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return errors.New("ffmpeg not running")
	}
	if err := resume(d.cmd.Process); err != nil {
		return fmt.Errorf("resume ffmpeg: %w", err)
	}
	d.paused = false
	return nil
}

// Stop asks ffmpeg to finish the file and waits for it, killing the
// process after StopTimeout. An absent or empty file yields "".
func (d *FFmpegDevice) Stop() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return "", errors.New("ffmpeg not running")
	}
	defer func() {
		d.cmd, d.done = nil, nil
		d.closeLog()
	}()

	if d.paused {
		_ = resume(d.cmd.Process)
	}
	if err := d.cmd.Process.Signal(os.Interrupt); err != nil {
		d.Log.Warn().Err(err).Msg("ffmpeg interrupt failed")
	}

	timeout := d.StopTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case err := <-d.done:
		// ffmpeg exits non-zero after an interrupt even when the file is complete
		if err != nil {
			d.Log.Debug().Err(err).Msg("ffmpeg exited")
		}
	case <-time.After(timeout):
		_ = d.cmd.Process.Kill()
		<-d.done
		d.Log.Warn().Dur("timeout", timeout).Msg("ffmpeg killed")
	}

	info, err := os.Stat(d.path)
	if err != nil || info.Size() == 0 {
		return "", nil
	}
	d.Log.Debug().Str("size", humanize.Bytes(uint64(info.Size()))).Msg("capture finalized")
	return d.path, nil
}

func (d *FFmpegDevice) closeLog() {
	if d.logFile != nil {
		_ = d.logFile.Close()
		d.logFile = nil
	}
}

// BinaryPermission grants microphone access when the capture binary is
// installed.
func BinaryPermission(binary string) PermissionFunc {
	return func(context.Context) bool {
		_, err := exec.LookPath(binary)
		return err == nil
	}
}
