// Package mockserver is a scripted barrage server for tests and local runs.
// It answers loginreq with loginres and, once the client joins a group,
// plays a fixed script of server frames followed by optional generated ones.
package mockserver

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/protocol"
)

// Server is a mock barrage server
type Server struct {
	// Script is sent in order after the client joins a group
	Script []protocol.Record

	// Generate produces frames after the script until it returns nil or the
	// connection closes
	Generate func(i int) protocol.Record

	// Interval between scripted or generated frames
	Interval time.Duration

	// BeforeLogin raw frames are written after loginreq and before loginres
	BeforeLogin [][]byte

	// RejectLogin closes the connection instead of answering loginreq
	RejectLogin bool

	ln       net.Listener
	mu       sync.Mutex
	received []protocol.Record
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	closed   chan struct{}
	once     sync.Once
}

// Start listens on addr (use "127.0.0.1:0" for a random port) and serves in the background
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.conns = make(map[net.Conn]struct{})
	s.closed = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Addr returns the listening address
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Received returns the client records seen so far
func (s *Server) Received() []protocol.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Record(nil), s.received...)
}

// CountType returns how many received client records have the given type
func (s *Server) CountType(typ string) int {
	n := 0
	for _, rec := range s.Received() {
		if rec.Type() == typ {
			n++
		}
	}
	return n
}

// Close stops the listener, closes open connections and waits for handlers.
// It is safe to call more than once.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.ln.Close()

		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.mu.Lock()
		select {
		case <-s.closed:
			s.mu.Unlock()
			conn.Close()
			return
		default:
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handle(c)
		}(conn)
	}
}

type conn struct {
	net.Conn
	writeMu sync.Mutex
}

func (c *conn) send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.Write(frame)
	return err
}

func (s *Server) handle(nc net.Conn) {
	c := &conn{Conn: nc}
	defer func() {
		nc.Close()
		s.mu.Lock()
		delete(s.conns, nc)
		s.mu.Unlock()
	}()

	joined := false
	for {
		f, err := protocol.ReadFrame(c, 0)
		if err != nil {
			return
		}
		rec, err := f.Record()
		if err != nil {
			continue
		}

		s.mu.Lock()
		s.received = append(s.received, rec)
		s.mu.Unlock()

		switch rec.Type() {
		case "loginreq":
			for _, raw := range s.BeforeLogin {
				if c.send(raw) != nil {
					return
				}
			}
			if s.RejectLogin {
				return
			}
			if c.send(protocol.EncodeWithType(protocol.NewRecord("type", "loginres", "userid", "0"), protocol.MessageTypeServer)) != nil {
				return
			}
		case "joingroup":
			if joined {
				continue
			}
			joined = true
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.play(c)
			}()
		}
	}
}

// play writes the script and then generated frames until told to stop
func (s *Server) play(c *conn) {
	for i := 0; ; i++ {
		var rec protocol.Record
		if i < len(s.Script) {
			rec = s.Script[i]
		} else if s.Generate != nil {
			rec = s.Generate(i - len(s.Script))
		}
		if rec == nil {
			return
		}

		if s.Interval > 0 {
			select {
			case <-s.closed:
				return
			case <-time.After(s.Interval):
			}
		}
		if c.send(protocol.EncodeWithType(rec, protocol.MessageTypeServer)) != nil {
			return
		}
	}
}
