package session

import (
	"sync"
	"testing"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/gift"
	"github.com/SkynetNext/gift-recorder/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSession_Transitions(t *testing.T) {
	s := New("room", "1", gift.Catalog{})

	if s.State() != StateDisconnected {
		t.Fatalf("initial state = %s, want disconnected", s.State())
	}

	steps := []State{StateConnecting, StateAwaitingLoginResponse, StateJoined, StateActive}
	for _, next := range steps {
		if err := s.Transition(s.State(), next); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
	}

	if err := s.Transition(StateActive, StateJoined); err == nil {
		t.Error("expected backward transition to fail")
	}
	if err := s.Transition(StateConnecting, StateAwaitingLoginResponse); err == nil {
		t.Error("expected transition from a stale state to fail")
	}

	if !s.Stop() {
		t.Error("first Stop should report true")
	}
	if s.Stop() {
		t.Error("second Stop should report false")
	}
	if s.State() != StateStopping || !s.Stopped() {
		t.Errorf("after Stop: state=%s stopped=%v", s.State(), s.Stopped())
	}

	s.Close()
	if s.State() != StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
}

func TestSession_StopBeforeJoin(t *testing.T) {
	s := New("room", "1", gift.Catalog{})
	_ = s.Transition(StateDisconnected, StateConnecting)

	s.Stop()
	if s.State() != StateStopping {
		t.Errorf("state = %s, want stopping", s.State())
	}
}

func TestSession_StartTime(t *testing.T) {
	s := New("room", "1", gift.Catalog{})

	if !s.StartTime().Equal(s.CreatedAt) {
		t.Error("start time should be provisional before recording starts")
	}

	real := s.CreatedAt.Add(3 * time.Second)
	if !s.MarkRecordingStarted(real) {
		t.Fatal("first MarkRecordingStarted should succeed")
	}
	if s.MarkRecordingStarted(real.Add(time.Hour)) {
		t.Error("second MarkRecordingStarted should be ignored")
	}
	if !s.StartTime().Equal(real) {
		t.Errorf("StartTime = %v, want %v", s.StartTime(), real)
	}
}

func TestSession_ConcurrentStartTimeReads(t *testing.T) {
	s := New("room", "1", gift.Catalog{})
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = s.StartTime()
			}
		}()
	}
	s.MarkRecordingStarted(time.Now())
	wg.Wait()

	if !s.RecordingStarted() {
		t.Error("recording start should be set")
	}
}

func TestSession_BaseName(t *testing.T) {
	s := New("douyu", "288016", gift.Catalog{})
	s.CreatedAt = time.Date(2024, 3, 9, 20, 5, 7, 0, time.Local)

	if got := s.BaseName(); got != "[douyu]2024-03-09@20-05-07" {
		t.Errorf("BaseName = %q", got)
	}
}

func TestSession_ConnectionStateGauge(t *testing.T) {
	s := New("room", "1", gift.Catalog{})
	gauge := func() State { return State(testutil.ToFloat64(metrics.ConnectionState)) }

	for _, next := range []State{StateConnecting, StateAwaitingLoginResponse, StateJoined, StateActive} {
		if err := s.Transition(s.State(), next); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
		if got := gauge(); got != next {
			t.Errorf("gauge = %s after transition to %s", got, next)
		}
	}

	s.Stop()
	if got := gauge(); got != StateStopping {
		t.Errorf("gauge = %s after Stop, want stopping", got)
	}
	s.Close()
	if got := gauge(); got != StateClosed {
		t.Errorf("gauge = %s after Close, want closed", got)
	}
}
