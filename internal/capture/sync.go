package capture

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/logger"
	"github.com/SkynetNext/gift-recorder/internal/metrics"
	"github.com/SkynetNext/gift-recorder/internal/session"
	"go.uber.org/zap"
)

// ErrSyncTimeout is returned when the recording file did not appear within the wait limit
var ErrSyncTimeout = errors.New("recording file did not appear")

// Synchronizer waits for the capture output file and pins the session's
// recording start to the moment it is first observed.
type Synchronizer struct {
	Dir      string
	Name     string
	Interval time.Duration
	MaxWait  time.Duration // 0 waits until ctx is done

	now func() time.Time
}

// NewSynchronizer creates a synchronizer watching dir for name
func NewSynchronizer(dir, name string, interval, maxWait time.Duration) *Synchronizer {
	return &Synchronizer{
		Dir:      dir,
		Name:     name,
		Interval: interval,
		MaxWait:  maxWait,
		now:      time.Now,
	}
}

// Run polls the directory until the file exists, then marks the recording
// start on sess. It returns ErrSyncTimeout after MaxWait and ctx.Err() on
// cancellation; in both cases the session keeps its provisional start.
// A missing directory is treated as "not yet".
func (s *Synchronizer) Run(ctx context.Context, sess *session.Session) error {
	var deadline <-chan time.Time
	if s.MaxWait > 0 {
		timer := time.NewTimer(s.MaxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		if s.present() {
			start := s.now()
			if sess.MarkRecordingStarted(start) {
				delay := start.Sub(sess.CreatedAt)
				metrics.RecordingSyncDelay.Set(delay.Seconds())
				logger.L.Info("recording started",
					zap.String("session_id", sess.ID),
					zap.String("file", s.Name),
					zap.Duration("delay", delay),
				)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			logger.L.Warn("recording file not found, offsets stay relative to session start",
				zap.String("session_id", sess.ID),
				zap.String("file", s.Name),
				zap.Duration("waited", s.MaxWait),
			)
			return ErrSyncTimeout
		case <-ticker.C:
		}
	}
}

func (s *Synchronizer) present() bool {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Name() == s.Name {
			return true
		}
	}
	return false
}
