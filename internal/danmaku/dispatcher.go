package danmaku

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/SkynetNext/gift-recorder/internal/gift"
	"github.com/SkynetNext/gift-recorder/internal/logger"
	"github.com/SkynetNext/gift-recorder/internal/metrics"
	"github.com/SkynetNext/gift-recorder/internal/protocol"
	"github.com/SkynetNext/gift-recorder/internal/session"
	"go.uber.org/zap"
)

// Drop reasons reported in metrics
const (
	dropUnknownGift  = "unknown_gift"
	dropUnknownLevel = "unknown_level"
	dropMissingField = "missing_field"
	dropBadField     = "bad_field"
)

// errDropped marks a frame that was recognized but could not become an event
type errDropped struct {
	reason string
	detail string
}

func (e *errDropped) Error() string {
	return e.reason + ": " + e.detail
}

// Dispatcher reads frames from the client, classifies them and pushes gift
// events onto the session queue.
type Dispatcher struct {
	client *Client
	sess   *session.Session
	now    func() time.Time
}

// NewDispatcher creates a dispatcher for the client's session
func NewDispatcher(client *Client) *Dispatcher {
	return &Dispatcher{
		client: client,
		sess:   client.sess,
		now:    time.Now,
	}
}

// Run reads until the connection is closed.
// Closing the connection after the session is stopped is the normal way to
// end Run and yields a nil error. A read failure while the session is still
// running is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		rec, err := d.client.ReadRecord()
		if err != nil {
			if errors.Is(err, protocol.ErrDecode) {
				metrics.DecodeErrors.Inc()
				logger.L.Debug("dropping undecodable frame", zap.Error(err))
				continue
			}
			if d.sess.Stopped() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read barrage frame: %w", err)
		}
		if rec == nil {
			continue
		}

		if err := d.Dispatch(rec); err != nil {
			var dropped *errDropped
			if errors.As(err, &dropped) {
				metrics.IncEventDropped(dropped.reason)
				logger.L.Debug("gift frame dropped",
					zap.String("type", rec.Type()),
					zap.String("reason", dropped.reason),
					zap.String("detail", dropped.detail),
				)
				continue
			}
			// Queue closed: the session is shutting down and nothing more can be exported
			logger.L.Warn("event discarded after queue closed", zap.Error(err))
		}
	}
}

// Dispatch classifies one decoded record and queues the resulting event.
// Unrecognized types are ignored and return nil.
func (d *Dispatcher) Dispatch(rec protocol.Record) error {
	var (
		ev  *gift.Event
		err error
	)
	switch rec.Type() {
	case TypeGift:
		ev, err = d.giftEvent(rec)
	case TypeReward:
		ev, err = d.rewardEvent(rec)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	if err := d.sess.Queue.Push(ev); err != nil {
		return err
	}
	metrics.EventsAccepted.WithLabelValues(string(ev.Kind)).Inc()
	metrics.QueueDepth.Set(float64(d.sess.Queue.Len()))

	logger.L.Info("gift received",
		zap.String("kind", string(ev.Kind)),
		zap.String("sender", ev.Sender),
		zap.String("gift", ev.Name),
		zap.Uint64("count", ev.Count),
		zap.String("price", ev.Price),
		zap.Int64("offset_seconds", ev.Offset),
		zap.Bool("provisional_offset", !d.sess.RecordingStarted()),
	)
	return nil
}

// giftEvent handles a "dgb" frame: gfid must be in the catalog, gfcnt defaults to 1
func (d *Dispatcher) giftEvent(rec protocol.Record) (*gift.Event, error) {
	gfid, ok := rec.Get("gfid")
	if !ok {
		return nil, &errDropped{reason: dropMissingField, detail: "gfid"}
	}
	entry, ok := d.sess.Catalog.Lookup(gfid)
	if !ok {
		return nil, &errDropped{reason: dropUnknownGift, detail: gfid}
	}

	count := uint64(1)
	if raw, ok := rec.Get("gfcnt"); ok {
		n, err := gift.ParseCount(raw)
		if err != nil {
			return nil, &errDropped{reason: dropBadField, detail: "gfcnt=" + raw}
		}
		count = n
	}

	sender, _ := rec.Get("nn")
	return d.newEvent(gift.KindGift, sender, entry.Name, count, entry.Price), nil
}

// rewardEvent handles a "bc_buy_deserve" frame: lev selects the tier, cnt is required
func (d *Dispatcher) rewardEvent(rec protocol.Record) (*gift.Event, error) {
	rawLevel, ok := rec.Get("lev")
	if !ok {
		return nil, &errDropped{reason: dropMissingField, detail: "lev"}
	}
	level, err := strconv.Atoi(rawLevel)
	if err != nil {
		return nil, &errDropped{reason: dropBadField, detail: "lev=" + rawLevel}
	}
	name, price, ok := gift.Reward(level)
	if !ok {
		return nil, &errDropped{reason: dropUnknownLevel, detail: rawLevel}
	}

	rawCount, ok := rec.Get("cnt")
	if !ok {
		return nil, &errDropped{reason: dropMissingField, detail: "cnt"}
	}
	count, err := gift.ParseCount(rawCount)
	if err != nil {
		return nil, &errDropped{reason: dropBadField, detail: "cnt=" + rawCount}
	}

	// Reward frames nest the sender inside "sui"; only the name is kept
	sender := ""
	if sui, ok := rec.Get("sui"); ok {
		if inner, err := protocol.UnmarshalSST([]byte(sui)); err == nil {
			sender, _ = inner.Get("nick")
		}
	}
	return d.newEvent(gift.KindReward, sender, name, count, price), nil
}

func (d *Dispatcher) newEvent(kind gift.Kind, sender, name string, count uint64, price string) *gift.Event {
	ts := d.now()
	return &gift.Event{
		Kind:      kind,
		Sender:    sender,
		Name:      name,
		Count:     count,
		Price:     price,
		Timestamp: ts,
		Offset:    gift.OffsetSeconds(ts, d.sess.StartTime()),
	}
}
