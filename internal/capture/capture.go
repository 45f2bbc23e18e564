// Package capture runs the external video capture process and detects when
// its output file appears.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/config"
	"github.com/SkynetNext/gift-recorder/internal/logger"
	"go.uber.org/zap"
)

// VideoExt is the extension of the recorded video file
const VideoExt = ".mp4"

// ErrCaptureStart is returned when the capture process cannot be launched
var ErrCaptureStart = errors.New("failed to start capture process")

// Capturer records the live stream of a room into a file
type Capturer interface {
	// Start launches the recording of roomID into path and returns immediately
	Start(ctx context.Context, roomID, path string) error

	// Stop ends the recording and waits for it to exit
	Stop(ctx context.Context) error
}

// Streamlink runs the streamlink command line tool
type Streamlink struct {
	cfg config.CaptureConfig

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// NewStreamlink creates a capturer from configuration
func NewStreamlink(cfg config.CaptureConfig) *Streamlink {
	return &Streamlink{cfg: cfg}
}

// Args returns the command arguments for recording roomID into path
func (s *Streamlink) Args(roomID, path string) []string {
	args := []string{
		fmt.Sprintf(s.cfg.StreamURLTemplate, roomID),
		s.cfg.Quality,
		"-o", path,
	}
	return append(args, s.cfg.ExtraArgs...)
}

// Start launches the capture process with its output discarded
func (s *Streamlink) Start(ctx context.Context, roomID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return fmt.Errorf("%w: already running", ErrCaptureStart)
	}

	// Stdout and Stderr are left nil so the output goes to the null device
	cmd := exec.Command(s.cfg.Command, s.Args(roomID, path)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureStart, err)
	}

	s.cmd = cmd
	s.done = make(chan struct{})
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()

	logger.InfoWithTrace(ctx, "capture started",
		zap.String("command", s.cfg.Command),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("output", path),
	)
	return nil
}

// Stop interrupts the process and kills it if it has not exited within the
// configured stop timeout. Stopping a capturer that never started is a no-op.
func (s *Streamlink) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.L.Warn("failed to interrupt capture process", zap.Error(err))
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		logger.L.Info("capture stopped", zap.Int("pid", cmd.Process.Pid))
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	logger.L.Warn("capture process did not exit, killing", zap.Int("pid", cmd.Process.Pid))
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill capture process: %w", err)
	}
	<-done
	return nil
}

// Exited reports whether the process has exited and its wait error
func (s *Streamlink) Exited() (bool, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false, nil
	}
	select {
	case <-done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return true, s.err
	default:
		return false, nil
	}
}

// VideoPath returns the video file path for a session base name
func VideoPath(dir, baseName string) string {
	return filepath.Join(dir, baseName+VideoExt)
}
