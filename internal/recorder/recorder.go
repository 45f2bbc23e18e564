// Package recorder runs one recording session: it resolves the room, joins
// the barrage group, records the stream and exports gifts until the session
// duration elapses.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/capture"
	"github.com/SkynetNext/gift-recorder/internal/config"
	"github.com/SkynetNext/gift-recorder/internal/danmaku"
	"github.com/SkynetNext/gift-recorder/internal/douyu"
	"github.com/SkynetNext/gift-recorder/internal/export"
	"github.com/SkynetNext/gift-recorder/internal/logger"
	"github.com/SkynetNext/gift-recorder/internal/redis"
	"github.com/SkynetNext/gift-recorder/internal/session"
	"github.com/SkynetNext/gift-recorder/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RoomFetcher resolves a room identifier to its metadata
type RoomFetcher interface {
	FetchRoom(ctx context.Context, room string) (*douyu.Room, error)
}

// Result summarizes a finished session
type Result struct {
	SessionID string
	RoomID    string
	VideoPath string // empty when capture is disabled
	SheetPath string
	Events    int

	// RecordingSynced is false when offsets are relative to the session start
	// because the recording file was never observed
	RecordingSynced bool
}

// Option configures a Recorder
type Option func(*Recorder)

// WithRoomFetcher replaces the metadata API client
func WithRoomFetcher(f RoomFetcher) Option {
	return func(r *Recorder) { r.rooms = f }
}

// WithCapturer replaces the capture process; nil disables capture
func WithCapturer(c capture.Capturer) Option {
	return func(r *Recorder) {
		r.capturer = c
		r.capturerSet = true
	}
}

// WithSinks adds export sinks next to the spreadsheet
func WithSinks(sinks ...export.Sink) Option {
	return func(r *Recorder) { r.extraSinks = append(r.extraSinks, sinks...) }
}

// Recorder is the lifecycle controller of a single session
type Recorder struct {
	cfg      *config.Config
	roomName string
	duration time.Duration

	rooms       RoomFetcher
	capturer    capture.Capturer
	capturerSet bool
	extraSinks  []export.Sink

	metricsServer *http.Server
	ready         atomic.Bool
	serverWg      sync.WaitGroup
}

// New creates a recorder for roomName that records for duration
func New(cfg *config.Config, roomName string, duration time.Duration, opts ...Option) *Recorder {
	r := &Recorder{
		cfg:      cfg,
		roomName: roomName,
		duration: duration,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rooms == nil {
		r.rooms = douyu.NewClient(cfg.Metadata.BaseURL, cfg.Metadata.Timeout)
	}
	if !r.capturerSet && cfg.Capture.Enabled {
		r.capturer = capture.NewStreamlink(cfg.Capture)
	}
	return r
}

// workers tracks the goroutines of a running session
type workers struct {
	// net covers the goroutines that use the connection (heartbeat, dispatcher)
	// and the synchronizer; they must exit before the queue is closed
	net    sync.WaitGroup
	export *export.Worker
	errCh  chan error
}

func (w *workers) goNet(name string, fn func() error) {
	w.net.Add(1)
	go func() {
		defer w.net.Done()
		if err := fn(); err != nil {
			select {
			case w.errCh <- fmt.Errorf("%s: %w", name, err):
			default:
			}
		}
	}()
}

// Run executes the session. Startup failures (metadata, connection, capture)
// return before any output is written. Once workers are running, every
// queued event is exported before Run returns, even when a worker fails or
// ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "recorder.run")
	defer span.End()

	if err := config.Validate(r.cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if r.cfg.Server.MetricsPort > 0 {
		r.startMetricsServer()
		defer r.stopMetricsServer()
	}

	// 1. Resolve the room; an offline room or a failed fetch is fatal
	room, err := r.rooms.FetchRoom(ctx, r.roomName)
	if err != nil {
		return nil, fmt.Errorf("fetch room %s: %w", r.roomName, err)
	}

	// 2. Session with the catalog
	sess := session.New(r.roomName, room.ID, room.Catalog)
	logger.InfoWithTrace(ctx, "session created",
		zap.String("session_id", sess.ID),
		zap.String("room", r.roomName),
		zap.String("room_id", room.ID),
		zap.String("room_title", room.Name),
		zap.String("owner", room.Owner),
		zap.Int("catalog_size", len(room.Catalog)),
	)

	// 3. Connect and join
	client := danmaku.NewClient(r.cfg.Danmaku, sess)
	if err := client.Connect(ctx); err != nil {
		sess.Close()
		return nil, err
	}

	res := &Result{SessionID: sess.ID, RoomID: room.ID}
	if err := os.MkdirAll(r.cfg.Output.Dir, 0o755); err != nil {
		client.Close()
		sess.Close()
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	if r.capturer != nil {
		res.VideoPath = capture.VideoPath(r.cfg.Output.Dir, sess.BaseName())
		if err := r.capturer.Start(ctx, room.ID, res.VideoPath); err != nil {
			client.Close()
			sess.Close()
			return nil, err
		}
	}

	sinks, err := r.openSinks(ctx, sess, res)
	if err != nil {
		client.Close()
		if r.capturer != nil {
			r.capturer.Stop(context.Background())
		}
		sess.Close()
		return nil, err
	}

	if err := sess.Transition(session.StateJoined, session.StateActive); err != nil {
		logger.L.Debug("session state not changed", zap.Error(err))
	}

	// 4. Start workers
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := &workers{errCh: make(chan error, 3)}
	w.goNet("heartbeat", func() error {
		return client.RunHeartbeat(workerCtx, r.cfg.Danmaku.HeartbeatInterval)
	})
	w.goNet("dispatcher", func() error {
		return danmaku.NewDispatcher(client).Run(workerCtx)
	})
	if r.capturer != nil {
		syncer := capture.NewSynchronizer(r.cfg.Output.Dir, filepath.Base(res.VideoPath), r.cfg.Sync.PollInterval, r.cfg.Sync.MaxWait)
		w.goNet("synchronizer", func() error {
			// A timeout keeps the provisional start and is already logged
			syncer.Run(workerCtx, sess)
			return nil
		})
	}
	// The drain runs after cancel, so sinks get a context that outlives it
	w.export = export.NewWorker(sess.Queue, sinks...)
	w.export.Start(context.WithoutCancel(ctx))
	r.ready.Store(true)

	logger.InfoWithTrace(ctx, "recording",
		zap.String("session_id", sess.ID),
		zap.Duration("duration", r.duration),
		zap.String("sheet", res.SheetPath),
		zap.String("video", res.VideoPath),
	)

	// 5. Wait for the session duration, cancellation or a fatal worker error
	timer := time.NewTimer(r.duration)
	defer timer.Stop()

	var runErr error
	select {
	case <-timer.C:
		logger.InfoWithTrace(ctx, "session duration elapsed", zap.String("session_id", sess.ID))
	case <-ctx.Done():
		logger.InfoWithTrace(ctx, "session interrupted", zap.String("session_id", sess.ID))
	case runErr = <-w.errCh:
		logger.ErrorWithTrace(ctx, "worker failed, stopping session",
			zap.String("session_id", sess.ID),
			zap.Error(runErr),
		)
	}

	// 6-7. Stop and drain
	r.shutdown(sess, client, cancel, w, sinks)

	res.Events = w.export.Wait()
	res.RecordingSynced = sess.RecordingStarted()
	logger.InfoWithTrace(ctx, "session finished",
		zap.String("session_id", sess.ID),
		zap.Int("events", res.Events),
		zap.Bool("recording_synced", res.RecordingSynced),
	)
	return res, runErr
}

// shutdown stops the session in order: stop flag, connection, capture,
// network workers, queue, export drain, sinks.
func (r *Recorder) shutdown(sess *session.Session, client *danmaku.Client, cancel context.CancelFunc, w *workers, sinks []export.Sink) {
	r.ready.Store(false)
	sess.Stop()
	cancel()
	client.Close()

	shutdownCtx, done := context.WithTimeout(context.Background(), r.cfg.GracefulShutdownTimeout)
	defer done()

	if r.capturer != nil {
		if err := r.capturer.Stop(shutdownCtx); err != nil {
			logger.L.Error("failed to stop capture", zap.Error(err))
		}
	}

	netDone := make(chan struct{})
	go func() {
		w.net.Wait()
		close(netDone)
	}()
	select {
	case <-netDone:
	case <-shutdownCtx.Done():
		logger.L.Warn("workers did not stop before the shutdown timeout",
			zap.Duration("timeout", r.cfg.GracefulShutdownTimeout),
		)
	}

	// No producer is left, so the export worker drains what is queued and exits
	sess.Queue.Close()
	w.export.Wait()

	if err := export.CloseSinks(sinks); err != nil {
		logger.L.Error("failed to close sinks", zap.Error(err))
	}
	sess.Close()
}

// openSinks creates the sinks for the session.
// The Redis sink is skipped with a warning when Redis cannot be reached.
func (r *Recorder) openSinks(ctx context.Context, sess *session.Session, res *Result) ([]export.Sink, error) {
	sheet, err := export.NewXLSXSink(filepath.Join(r.cfg.Output.Dir, sess.BaseName()+export.XLSXExt), r.cfg.Output.TimeLayout)
	if err != nil {
		return nil, err
	}
	res.SheetPath = sheet.Path()
	sinks := []export.Sink{sheet}

	if r.cfg.Redis.Enabled() {
		rc := redis.NewClient(&r.cfg.Redis, sess.RoomID, sess.ID, r.cfg.Output.TimeLayout)
		pingCtx, cancel := context.WithTimeout(ctx, r.cfg.Redis.DialTimeout)
		err := rc.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.WarnWithTrace(ctx, "redis unavailable, live event stream disabled",
				zap.String("addr", r.cfg.Redis.Addr),
				zap.Error(err),
			)
			rc.Close()
		} else {
			sinks = append(sinks, export.Guard(rc, r.cfg.Redis.MaxFailures, r.cfg.Redis.FailureCooldown))
		}
	}

	return append(sinks, r.extraSinks...), nil
}

// startMetricsServer starts the metrics and health check HTTP server
func (r *Recorder) startMetricsServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", r.healthHandler)
	mux.HandleFunc("/ready", r.readyHandler)
	mux.Handle("/metrics", promhttp.Handler())

	r.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", r.cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.serverWg.Add(1)
	go func() {
		defer r.serverWg.Done()
		if err := r.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.L.Info("metrics server started", zap.Int("port", r.cfg.Server.MetricsPort))
}

func (r *Recorder) stopMetricsServer() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.metricsServer.Shutdown(ctx); err != nil {
		logger.L.Error("failed to shutdown metrics server", zap.Error(err))
	}
	r.serverWg.Wait()
}

// healthHandler handles health check requests
func (r *Recorder) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// readyHandler reports ready while the session is recording
func (r *Recorder) readyHandler(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Not recording"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
