package protocol

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketConn_FramesOverBinaryMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := Decode(data)
		if err != nil || req.Type() != "loginreq" {
			return
		}

		// Two frames coalesced into one message, then a third on its own
		reply := EncodeWithType(NewRecord("type", "loginres"), MessageTypeServer)
		reply = append(reply, EncodeWithType(NewRecord("type", "dgb", "gfid", "1"), MessageTypeServer)...)
		_ = conn.WriteMessage(websocket.BinaryMessage, reply)
		_ = conn.WriteMessage(websocket.BinaryMessage, EncodeWithType(NewRecord("type", "dgb", "gfid", "2"), MessageTypeServer))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := DialWebSocket(ctx, wsURL, time.Second)
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}

	if err := WriteRecord(conn, NewRecord("type", "loginreq", "roomid", "1")); err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}

	wantTypes := []string{"loginres", "dgb", "dgb"}
	for i, want := range wantTypes {
		f, err := ReadFrame(conn, 0)
		if err != nil {
			t.Fatalf("frame %d: ReadFrame failed: %v", i, err)
		}
		rec, err := f.Record()
		if err != nil {
			t.Fatalf("frame %d: Record failed: %v", i, err)
		}
		if rec.Type() != want {
			t.Errorf("frame %d: type = %q, want %q", i, rec.Type(), want)
		}
	}

	// Close must unblock a pending read with a closed-connection error
	readErr := make(chan error, 1)
	go func() {
		_, err := ReadFrame(conn, 0)
		readErr <- err
	}()
	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case err := <-readErr:
		if !errors.Is(err, net.ErrClosed) {
			t.Errorf("expected net.ErrClosed after Close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending read was not unblocked by Close")
	}
}

func TestWebSocketConn_SkipsTextMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		_ = conn.WriteMessage(websocket.BinaryMessage, EncodeWithType(NewRecord("type", "dgb", "gfid", "1"), MessageTypeServer))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{}"))
		_ = conn.WriteMessage(websocket.BinaryMessage, EncodeWithType(NewRecord("type", "dgb", "gfid", "2"), MessageTypeServer))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), time.Second)
	if err != nil {
		t.Fatalf("DialWebSocket failed: %v", err)
	}
	defer conn.Close()

	for i, want := range []string{"1", "2"} {
		f, err := ReadFrame(conn, 0)
		if err != nil {
			t.Fatalf("frame %d: ReadFrame failed: %v", i, err)
		}
		rec, err := f.Record()
		if err != nil {
			t.Fatalf("frame %d: Record failed: %v", i, err)
		}
		if gfid, _ := rec.Get("gfid"); gfid != want {
			t.Errorf("frame %d: gfid = %q, want %q", i, gfid, want)
		}
	}
}
