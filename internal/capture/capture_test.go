package capture

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/config"
)

func TestStreamlink_Args(t *testing.T) {
	s := NewStreamlink(config.Default().Capture)
	got := s.Args("288016", "result/[288016]2024-01-02@15-04-05.mp4")
	want := []string{
		"https://www.douyu.com/288016", "worst",
		"-o", "result/[288016]2024-01-02@15-04-05.mp4",
		"--plugin-dirs", "./", "-f",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Args() = %q, want %q", got, want)
	}
}

func TestVideoPath(t *testing.T) {
	got := VideoPath("result", "[room]2024-01-02@15-04-05")
	want := filepath.Join("result", "[room]2024-01-02@15-04-05.mp4")
	if got != want {
		t.Errorf("VideoPath() = %q, want %q", got, want)
	}
}

func TestStreamlink_StartMissingCommand(t *testing.T) {
	cfg := config.Default().Capture
	cfg.Command = "gift-recorder-no-such-command"
	s := NewStreamlink(cfg)

	err := s.Start(context.Background(), "1", filepath.Join(t.TempDir(), "x.mp4"))
	if !errors.Is(err, ErrCaptureStart) {
		t.Fatalf("expected ErrCaptureStart, got %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop after failed start: %v", err)
	}
}

// shellCapture runs script via "sh -c"; the trailing "-o path" become $0 and $1
func shellCapture(t *testing.T, script string, stopTimeout time.Duration) *Streamlink {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("sh not available: %v", err)
	}
	return NewStreamlink(config.CaptureConfig{
		Command:           "sh",
		StreamURLTemplate: "%s",
		Quality:           script,
		StopTimeout:       stopTimeout,
	})
}

func TestStreamlink_StopInterrupts(t *testing.T) {
	s := shellCapture(t, "exec sleep 30", 5*time.Second)

	if err := s.Start(context.Background(), "-c", filepath.Join(t.TempDir(), "x.mp4")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if exited, _ := s.Exited(); exited {
		t.Fatal("process exited immediately")
	}

	begin := time.Now()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 4*time.Second {
		t.Errorf("Stop took %v, interrupt was not honored", elapsed)
	}
	if exited, _ := s.Exited(); !exited {
		t.Error("process still running after Stop")
	}
}

func TestStreamlink_StopKillsAfterTimeout(t *testing.T) {
	s := shellCapture(t, "trap '' INT; exec sleep 30", 100*time.Millisecond)

	if err := s.Start(context.Background(), "-c", filepath.Join(t.TempDir(), "x.mp4")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Give the shell time to install the trap
	time.Sleep(100 * time.Millisecond)

	begin := time.Now()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Errorf("Stop took %v", elapsed)
	}
	if exited, _ := s.Exited(); !exited {
		t.Error("process still running after Stop")
	}
}

func TestStreamlink_StartTwice(t *testing.T) {
	s := shellCapture(t, "exec sleep 30", time.Second)
	path := filepath.Join(t.TempDir(), "x.mp4")

	if err := s.Start(context.Background(), "-c", path); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Start(context.Background(), "-c", path); !errors.Is(err, ErrCaptureStart) {
		t.Errorf("second Start: expected ErrCaptureStart, got %v", err)
	}
}
