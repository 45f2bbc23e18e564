package export

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/gift"
	"github.com/SkynetNext/gift-recorder/internal/logger"
	"github.com/SkynetNext/gift-recorder/internal/metrics"
	"go.uber.org/zap"
)

// ErrSinkUnavailable is returned by a guarded sink while its breaker is open
var ErrSinkUnavailable = errors.New("sink unavailable")

// BreakerState represents circuit breaker state
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// GuardedSink wraps an auxiliary sink with a circuit breaker. After
// maxFailures consecutive write failures the sink is skipped for cooldown,
// then a single trial write decides whether it is used again.
// Skipped events are not replayed.
type GuardedSink struct {
	Sink

	maxFailures int64
	cooldown    time.Duration
	now         func() time.Time

	state    int32 // BreakerState (atomic)
	failures int64 // consecutive failures (atomic)

	mu       sync.Mutex
	openedAt time.Time
}

// Guard wraps sink with a breaker
func Guard(sink Sink, maxFailures int64, cooldown time.Duration) *GuardedSink {
	return &GuardedSink{
		Sink:        sink,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// State returns the current breaker state
func (g *GuardedSink) State() BreakerState {
	return BreakerState(atomic.LoadInt32(&g.state))
}

// WriteEvent forwards the event unless the breaker is open
func (g *GuardedSink) WriteEvent(ctx context.Context, ev *gift.Event) error {
	if !g.allow() {
		metrics.ExportSkipped.WithLabelValues(g.Name()).Inc()
		return ErrSinkUnavailable
	}

	if err := g.Sink.WriteEvent(ctx, ev); err != nil {
		g.recordFailure()
		return err
	}
	g.recordSuccess()
	return nil
}

func (g *GuardedSink) allow() bool {
	switch g.State() {
	case BreakerClosed:
		return true
	case BreakerOpen:
		g.mu.Lock()
		openedAt := g.openedAt
		g.mu.Unlock()
		if g.now().Sub(openedAt) < g.cooldown {
			return false
		}
		// Only the writer that moves the breaker to half-open gets the trial write
		return atomic.CompareAndSwapInt32(&g.state, int32(BreakerOpen), int32(BreakerHalfOpen))
	default:
		return false
	}
}

func (g *GuardedSink) recordSuccess() {
	atomic.StoreInt64(&g.failures, 0)
	if atomic.CompareAndSwapInt32(&g.state, int32(BreakerHalfOpen), int32(BreakerClosed)) {
		logger.L.Info("sink recovered", zap.String("sink", g.Name()))
	}
}

func (g *GuardedSink) recordFailure() {
	failures := atomic.AddInt64(&g.failures, 1)
	if g.State() != BreakerHalfOpen && failures < g.maxFailures {
		return
	}

	g.mu.Lock()
	g.openedAt = g.now()
	g.mu.Unlock()
	if prev := atomic.SwapInt32(&g.state, int32(BreakerOpen)); prev != int32(BreakerOpen) {
		logger.L.Warn("sink disabled after repeated failures",
			zap.String("sink", g.Name()),
			zap.Int64("failures", failures),
			zap.Duration("cooldown", g.cooldown),
		)
	}
}
