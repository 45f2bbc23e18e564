package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/gift"
	"github.com/SkynetNext/gift-recorder/internal/metrics"
	"github.com/google/uuid"
)

// State represents the connection state of a recording session
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingLoginResponse
	StateJoined
	StateActive
	StateStopping
	StateClosed
)

// String returns the state name used in logs
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingLoginResponse:
		return "awaiting_login_response"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// validNext lists the allowed forward transitions.
// Stopping and Closed can be reached from any earlier state so that a
// failed startup can still be torn down.
var validNext = map[State][]State{
	StateDisconnected:          {StateConnecting},
	StateConnecting:            {StateAwaitingLoginResponse},
	StateAwaitingLoginResponse: {StateJoined},
	StateJoined:                {StateActive},
	StateActive:                {},
	StateStopping:              {StateClosed},
}

// Session is the process-wide state of one recording session: the catalog,
// the event queue, the stop flag and the recording time origin.
type Session struct {
	// ID identifies the session in logs and traces
	ID string

	// RoomName is the identifier given on the command line (may be an alias)
	RoomName string

	// RoomID is the numeric room id resolved from metadata
	RoomID string

	// Catalog maps gift ids to names and prices
	Catalog gift.Catalog

	// Queue carries decoded events from the dispatcher to the export worker
	Queue *gift.Queue

	// CreatedAt is the session construction time and the provisional recording start
	CreatedAt time.Time

	state          atomic.Int32
	stopped        atomic.Bool
	recordingStart atomic.Int64 // UnixNano, 0 until the recording file is observed
}

// New creates a session in the Disconnected state
func New(roomName, roomID string, catalog gift.Catalog) *Session {
	return &Session{
		ID:        uuid.NewString(),
		RoomName:  roomName,
		RoomID:    roomID,
		Catalog:   catalog,
		Queue:     gift.NewQueue(),
		CreatedAt: time.Now(),
	}
}

// State returns the current connection state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Transition moves the session from one state to another.
// It fails if the current state is not from or the move is not allowed.
func (s *Session) Transition(from, to State) error {
	if !allowed(from, to) {
		return fmt.Errorf("invalid session transition %s -> %s", from, to)
	}
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("session transition %s -> %s: current state is %s", from, to, s.State())
	}
	metrics.ConnectionState.Set(float64(to))
	return nil
}

func allowed(from, to State) bool {
	if to == StateStopping {
		return from < StateStopping
	}
	if to == StateClosed {
		return from != StateClosed
	}
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Stop sets the stop flag and enters Stopping.
// It reports whether this call was the one that stopped the session.
func (s *Session) Stop() bool {
	if !s.stopped.CompareAndSwap(false, true) {
		return false
	}
	for {
		cur := s.State()
		if cur >= StateStopping {
			return true
		}
		if s.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
			metrics.ConnectionState.Set(float64(StateStopping))
			return true
		}
	}
}

// Stopped reports whether Stop has been called
func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

// Close marks the session as fully torn down
func (s *Session) Close() {
	s.state.Store(int32(StateClosed))
	metrics.ConnectionState.Set(float64(StateClosed))
}

// MarkRecordingStarted records the real recording start.
// Only the first call has an effect.
func (s *Session) MarkRecordingStarted(t time.Time) bool {
	return s.recordingStart.CompareAndSwap(0, t.UnixNano())
}

// RecordingStarted reports whether the real recording start is known
func (s *Session) RecordingStarted() bool {
	return s.recordingStart.Load() != 0
}

// StartTime returns the origin for event offsets: the real recording start
// once known, otherwise the provisional start taken at construction.
func (s *Session) StartTime() time.Time {
	if ns := s.recordingStart.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return s.CreatedAt
}

// BaseName returns the output file name shared by the video and the spreadsheet,
// e.g. "[288016]2024-01-02@15-04-05".
func (s *Session) BaseName() string {
	return fmt.Sprintf("[%s]%s", s.RoomName, s.CreatedAt.Format("2006-01-02@15-04-05"))
}
