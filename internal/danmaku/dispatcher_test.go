package danmaku

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/config"
	"github.com/SkynetNext/gift-recorder/internal/danmaku/mockserver"
	"github.com/SkynetNext/gift-recorder/internal/gift"
	"github.com/SkynetNext/gift-recorder/internal/protocol"
	"github.com/SkynetNext/gift-recorder/internal/session"
)

func testCatalog() gift.Catalog {
	return gift.NewCatalog([]gift.CatalogEntry{
		{ID: "101", Name: "Rocket", Price: "10元"},
		{ID: "102", Name: "Fish ball", Price: "100鱼丸"},
	})
}

func newTestDispatcher(sess *session.Session) *Dispatcher {
	return NewDispatcher(NewClient(config.Default().Danmaku, sess))
}

func popAll(q *gift.Queue) []*gift.Event {
	q.Close()
	var out []*gift.Event
	for {
		ev, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestDispatch_Gift(t *testing.T) {
	sess := session.New("room", "1", testCatalog())
	d := newTestDispatcher(sess)

	rec := protocol.NewRecord("type", "dgb", "gfid", "101", "gfcnt", "3", "nn", "alice")
	if err := d.Dispatch(rec); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	events := popAll(sess.Queue)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Name != "Rocket" || ev.Count != 3 || ev.Price != "10元" || ev.Sender != "alice" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Kind != gift.KindGift {
		t.Errorf("kind = %q", ev.Kind)
	}
}

func TestDispatch_GiftDefaultCount(t *testing.T) {
	sess := session.New("room", "1", testCatalog())
	d := newTestDispatcher(sess)

	if err := d.Dispatch(protocol.NewRecord("type", "dgb", "gfid", "102")); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	events := popAll(sess.Queue)
	if len(events) != 1 || events[0].Count != 1 {
		t.Fatalf("expected one event with count 1, got %+v", events)
	}
}

func TestDispatch_UnknownGift(t *testing.T) {
	sess := session.New("room", "1", testCatalog())
	d := newTestDispatcher(sess)

	err := d.Dispatch(protocol.NewRecord("type", "dgb", "gfid", "999", "gfcnt", "1"))
	if err == nil {
		t.Fatal("expected drop error for unknown gift")
	}
	if n := sess.Queue.Len(); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestDispatch_Reward(t *testing.T) {
	tests := []struct {
		lev       string
		wantName  string
		wantPrice string
	}{
		{"1", "初级酬勤", "15元"},
		{"2", "中级酬勤", "30元"},
		{"3", "高级酬勤", "50元"},
	}

	for _, tt := range tests {
		sess := session.New("room", "1", testCatalog())
		d := newTestDispatcher(sess)

		sui := string(protocol.MarshalSST(protocol.NewRecord("id", "42", "nick", "bob")))
		rec := protocol.NewRecord("type", "bc_buy_deserve", "lev", tt.lev, "cnt", "2", "sui", sui)
		if err := d.Dispatch(rec); err != nil {
			t.Fatalf("lev=%s: Dispatch failed: %v", tt.lev, err)
		}

		events := popAll(sess.Queue)
		if len(events) != 1 {
			t.Fatalf("lev=%s: expected 1 event, got %d", tt.lev, len(events))
		}
		ev := events[0]
		if ev.Name != tt.wantName || ev.Price != tt.wantPrice || ev.Count != 2 {
			t.Errorf("lev=%s: got %+v", tt.lev, ev)
		}
		if ev.Sender != "bob" {
			t.Errorf("lev=%s: sender = %q, want bob", tt.lev, ev.Sender)
		}
	}
}

func TestDispatch_RewardDropped(t *testing.T) {
	records := []protocol.Record{
		protocol.NewRecord("type", "bc_buy_deserve", "lev", "0", "cnt", "1"),
		protocol.NewRecord("type", "bc_buy_deserve", "lev", "4", "cnt", "1"),
		protocol.NewRecord("type", "bc_buy_deserve", "lev", "x", "cnt", "1"),
		protocol.NewRecord("type", "bc_buy_deserve", "lev", "1"),
		protocol.NewRecord("type", "bc_buy_deserve", "cnt", "1"),
		protocol.NewRecord("type", "bc_buy_deserve", "lev", "1", "cnt", "-1"),
	}

	sess := session.New("room", "1", testCatalog())
	d := newTestDispatcher(sess)
	for _, rec := range records {
		if err := d.Dispatch(rec); err == nil {
			t.Errorf("expected %v to be dropped", rec)
		}
	}
	if n := sess.Queue.Len(); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestDispatch_IgnoresOtherTypes(t *testing.T) {
	sess := session.New("room", "1", testCatalog())
	d := newTestDispatcher(sess)

	for _, typ := range []string{"chatmsg", "uenter", ""} {
		if err := d.Dispatch(protocol.NewRecord("type", typ, "gfid", "101")); err != nil {
			t.Errorf("type %q: unexpected error %v", typ, err)
		}
	}
	if n := sess.Queue.Len(); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestDispatch_Offset(t *testing.T) {
	sess := session.New("room", "1", testCatalog())
	start := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	sess.MarkRecordingStarted(start)

	d := newTestDispatcher(sess)
	d.now = func() time.Time { return start.Add(90*time.Second + 700*time.Millisecond) }

	if err := d.Dispatch(protocol.NewRecord("type", "dgb", "gfid", "101")); err != nil {
		t.Fatal(err)
	}
	ev := popAll(sess.Queue)[0]
	if ev.Offset != 90 {
		t.Errorf("offset = %d, want 90", ev.Offset)
	}
}

func TestDispatcher_RunSkipsDecodeErrors(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()

	sess := session.New("room", "1", testCatalog())
	c := NewClient(config.Default().Danmaku, sess)
	c.conn = clientSide
	c.reader = bufio.NewReader(clientSide)
	d := NewDispatcher(c)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	bad := protocol.EncodeWithType(protocol.NewRecord("type", "dgb"), protocol.MessageTypeServer)
	copy(bad[protocol.HeaderSize:], "typeXXdgb/")
	frames := [][]byte{
		bad,
		protocol.Encode(protocol.NewRecord("type", "dgb", "gfid", "101")), // client type, skipped
		protocol.EncodeWithType(protocol.NewRecord("type", "dgb", "gfid", "101", "gfcnt", "5"), protocol.MessageTypeServer),
	}
	for _, f := range frames {
		if _, err := serverSide.Write(f); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	if !waitFor(t, 2*time.Second, func() bool { return sess.Queue.Len() == 1 }) {
		t.Fatalf("queue length = %d, want 1", sess.Queue.Len())
	}

	sess.Stop()
	c.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after stop", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}

	events := popAll(sess.Queue)
	if events[0].Count != 5 {
		t.Errorf("count = %d, want 5", events[0].Count)
	}
}

func TestDispatcher_RunUnexpectedClose(t *testing.T) {
	srv := startMock(t, &mockserver.Server{
		Script: []protocol.Record{protocol.NewRecord("type", "dgb", "gfid", "101")},
	})
	sess := session.New("room", "1", testCatalog())
	c := NewClient(testConfig(srv.Addr()), sess)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- NewDispatcher(c).Run(context.Background()) }()

	if !waitFor(t, 2*time.Second, func() bool { return sess.Queue.Len() == 1 }) {
		t.Fatalf("queue length = %d, want 1", sess.Queue.Len())
	}

	// Server goes away while the session is still running
	srv.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an error when the server closes a running session")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after server close")
	}
}

func TestDispatcher_EndToEnd(t *testing.T) {
	sui := string(protocol.MarshalSST(protocol.NewRecord("nick", "carol")))
	srv := startMock(t, &mockserver.Server{
		Script: []protocol.Record{
			protocol.NewRecord("type", "chatmsg", "txt", "hi/@there"),
			protocol.NewRecord("type", "dgb", "gfid", "101", "gfcnt", "3", "nn", "alice"),
			protocol.NewRecord("type", "dgb", "gfid", "555"),
			protocol.NewRecord("type", "bc_buy_deserve", "lev", "2", "cnt", "1", "sui", sui),
		},
	})
	sess := session.New("room", "1", testCatalog())
	c := NewClient(testConfig(srv.Addr()), sess)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- NewDispatcher(c).Run(context.Background()) }()

	if !waitFor(t, 2*time.Second, func() bool { return sess.Queue.Len() == 2 }) {
		t.Fatalf("queue length = %d, want 2", sess.Queue.Len())
	}

	sess.Stop()
	c.Close()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}

	events := popAll(sess.Queue)
	if events[0].Name != "Rocket" || events[0].Count != 3 {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Name != "中级酬勤" || events[1].Price != "30元" || events[1].Sender != "carol" {
		t.Errorf("second event = %+v", events[1])
	}
}
