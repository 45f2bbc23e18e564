// Package export moves queued gift events into their destinations.
package export

import (
	"context"
	"sync"

	"github.com/SkynetNext/gift-recorder/internal/gift"
	"github.com/SkynetNext/gift-recorder/internal/logger"
	"github.com/SkynetNext/gift-recorder/internal/metrics"
	"go.uber.org/zap"
)

// Sink receives exported events in arrival order
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string

	// WriteEvent writes one event
	WriteEvent(ctx context.Context, ev *gift.Event) error

	// Close flushes pending output and releases resources
	Close() error
}

// Worker drains the session queue into every sink.
// It runs until the queue is closed and empty, so events queued before
// shutdown are always exported.
type Worker struct {
	queue *gift.Queue
	sinks []Sink

	wg   sync.WaitGroup
	rows int
}

// NewWorker creates an export worker
func NewWorker(queue *gift.Queue, sinks ...Sink) *Worker {
	return &Worker{queue: queue, sinks: sinks}
}

// Start starts the export goroutine
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Wait blocks until the queue is drained and returns the number of events exported
func (w *Worker) Wait() int {
	w.wg.Wait()
	return w.rows
}

// run pops until Pop reports the queue is closed and drained.
// A failing sink is logged and counted but never stops the drain.
func (w *Worker) run(ctx context.Context) {
	for {
		ev, ok := w.queue.Pop()
		if !ok {
			return
		}
		metrics.QueueDepth.Set(float64(w.queue.Len()))

		for _, s := range w.sinks {
			if err := s.WriteEvent(ctx, ev); err != nil {
				metrics.ExportErrors.WithLabelValues(s.Name()).Inc()
				logger.L.Error("failed to export event",
					zap.String("sink", s.Name()),
					zap.String("gift", ev.Name),
					zap.Error(err),
				)
				continue
			}
			metrics.RowsExported.WithLabelValues(s.Name()).Inc()
		}
		w.rows++
	}
}

// CloseSinks closes every sink and returns the first error
func CloseSinks(sinks []Sink) error {
	var first error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.L.Error("failed to close sink", zap.String("sink", s.Name()), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
