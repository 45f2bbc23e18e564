// Package danmaku implements the barrage event channel: the connection and
// login handshake, the keep-alive heartbeat, and the dispatcher that turns
// gift frames into events.
package danmaku

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/SkynetNext/gift-recorder/internal/config"
	"github.com/SkynetNext/gift-recorder/internal/logger"
	"github.com/SkynetNext/gift-recorder/internal/metrics"
	"github.com/SkynetNext/gift-recorder/internal/protocol"
	"github.com/SkynetNext/gift-recorder/internal/session"
	"github.com/SkynetNext/gift-recorder/internal/tracing"
	"go.uber.org/zap"
)

// ErrConnection is returned when the barrage server cannot be reached or the
// login handshake does not complete. It is fatal for the session.
var ErrConnection = errors.New("barrage connection failed")

// Message types used by the barrage protocol
const (
	TypeLoginReq  = "loginreq"
	TypeLoginRes  = "loginres"
	TypeJoinGroup = "joingroup"
	TypeHeartbeat = "mrkl"
	TypeGift      = "dgb"
	TypeReward    = "bc_buy_deserve"
)

// Client owns the barrage connection for one session.
// Writes are serialized; reads happen on a single goroutine at a time
// (the handshake, then the dispatcher).
type Client struct {
	cfg  config.DanmakuConfig
	sess *session.Session

	conn    io.ReadWriteCloser
	reader  *bufio.Reader
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a client for the session
func NewClient(cfg config.DanmakuConfig, sess *session.Session) *Client {
	return &Client{cfg: cfg, sess: sess}
}

// Connect dials the barrage server, logs in and joins the room group.
// Any failure closes the connection and returns an error wrapping ErrConnection.
func (c *Client) Connect(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "danmaku.connect")
	defer span.End()

	c.setState(session.StateDisconnected, session.StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrConnection, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	// Unblock the handshake read if the caller gives up
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if err := c.login(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
		}
		return err
	}

	join := protocol.NewRecord(
		"type", TypeJoinGroup,
		"rid", c.sess.RoomID,
		"gid", strconv.Itoa(c.cfg.GroupID),
	)
	if err := c.Send(join); err != nil {
		return fmt.Errorf("%w: join group: %v", ErrConnection, err)
	}
	c.setState(session.StateAwaitingLoginResponse, session.StateJoined)

	logger.InfoWithTrace(ctx, "joined barrage group",
		zap.String("room_id", c.sess.RoomID),
		zap.Int("group_id", c.cfg.GroupID),
	)
	return nil
}

func (c *Client) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	switch c.cfg.Transport {
	case config.TransportWebSocket:
		return protocol.DialWebSocket(ctx, c.cfg.WebSocketURL, c.cfg.DialTimeout)
	default:
		d := net.Dialer{Timeout: c.cfg.DialTimeout}
		return d.DialContext(ctx, "tcp", c.cfg.Addr)
	}
}

// login sends loginreq and waits for loginres.
// Other decodable server frames are ignored; a decode error or a closed
// stream before loginres arrives ends the handshake.
func (c *Client) login(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "danmaku.login")
	defer span.End()

	req := protocol.NewRecord("type", TypeLoginReq, "roomid", c.sess.RoomID)
	if err := c.Send(req); err != nil {
		return fmt.Errorf("%w: send login request: %v", ErrConnection, err)
	}
	c.setState(session.StateConnecting, session.StateAwaitingLoginResponse)

	for {
		rec, err := c.ReadRecord()
		if err != nil {
			return fmt.Errorf("%w: awaiting login response: %v", ErrConnection, err)
		}
		if rec == nil {
			continue
		}
		if rec.Type() == TypeLoginRes {
			logger.DebugWithTrace(ctx, "login response received", zap.String("room_id", c.sess.RoomID))
			return nil
		}
		logger.DebugWithTrace(ctx, "ignoring frame during handshake", zap.String("type", rec.Type()))
	}
}

// Send encodes the record and writes it as one frame
func (c *Client) Send(rec protocol.Record) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteRecord(c.conn, rec)
}

// ReadRecord reads the next frame.
// It returns (nil, nil) for frames that are not server protocol messages.
// Decode problems are returned wrapping protocol.ErrDecode; any other error
// means the stream can no longer be read.
func (c *Client) ReadRecord() (protocol.Record, error) {
	f, err := protocol.ReadFrame(c.reader, c.cfg.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	metrics.FramesReceived.WithLabelValues(strconv.Itoa(int(f.MessageType))).Inc()

	if !f.IsServerMessage() {
		return nil, nil
	}
	return f.Record()
}

// Close closes the connection. A read pending on another goroutine returns
// an error wrapping net.ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.closeErr = c.conn.Close()
		}
	})
	return c.closeErr
}

func (c *Client) setState(from, to session.State) {
	if err := c.sess.Transition(from, to); err != nil {
		logger.L.Debug("session state not changed", zap.Error(err))
	}
}

// isClosedErr reports whether err is the outcome of closing the connection
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
