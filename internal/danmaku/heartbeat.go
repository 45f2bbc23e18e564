package danmaku

import (
	"context"
	"fmt"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/logger"
	"github.com/SkynetNext/gift-recorder/internal/metrics"
	"github.com/SkynetNext/gift-recorder/internal/protocol"
	"go.uber.org/zap"
)

var heartbeatRecord = protocol.NewRecord("type", TypeHeartbeat)

// RunHeartbeat sends a keep-alive frame immediately and then every interval
// until ctx is cancelled or the session is stopped. It never reads.
// A write failure while the session is still running is returned as an error.
func (c *Client) RunHeartbeat(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if c.sess.Stopped() {
			return nil
		}
		if err := c.Send(heartbeatRecord); err != nil {
			if c.sess.Stopped() || (isClosedErr(err) && ctx.Err() != nil) {
				return nil
			}
			return fmt.Errorf("send heartbeat: %w", err)
		}
		metrics.HeartbeatsSent.Inc()
		logger.L.Debug("heartbeat sent", zap.String("session_id", c.sess.ID))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
