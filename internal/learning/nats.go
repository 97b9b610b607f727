package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// OriginHeader carries the publishing bridge's ID so a bridge can ignore
// its own events when they come back on the subject.
const OriginHeader = "Ctxrouter-Origin"

// Ingester accepts events recorded elsewhere.
type Ingester interface {
	Ingest(ctx context.Context, ev Event) error
}

// Bridge shares learning events between hosts over NATS.
//
// Record stores an event locally and then publishes it. Events received on
// the subject from other bridges are handed to the Ingester. Publish errors
// are logged and never fail Record.
type Bridge struct {
	nc      *nats.Conn
	subject string
	origin  string
	local   Recorder
	sink    Ingester
	logger  *zap.Logger

	sub *nats.Subscription

	published atomic.Int64
	received  atomic.Int64
}

// NewBridge creates a bridge. local records events produced here; sink
// receives events from other hosts.
func NewBridge(nc *nats.Conn, subject string, local Recorder, sink Ingester, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		nc:      nc,
		subject: subject,
		origin:  uuid.NewString(),
		local:   local,
		sink:    sink,
		logger:  logger,
	}
}

// Start subscribes to the subject.
func (b *Bridge) Start() error {
	sub, err := b.nc.Subscribe(b.subject, b.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	b.sub = sub
	return nil
}

// Record stores ev locally, then publishes it.
func (b *Bridge) Record(ctx context.Context, ev Event) error {
	// The ID must exist before publishing so every host indexes it once.
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := b.local.Record(ctx, ev); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("learning event not published", zap.Error(err))
		return nil
	}
	msg := nats.NewMsg(b.subject)
	msg.Header.Set(OriginHeader, b.origin)
	msg.Data = data
	if err := b.nc.PublishMsg(msg); err != nil {
		b.logger.Warn("learning event not published",
			zap.String("subject", b.subject), zap.Error(err))
		return nil
	}
	b.published.Add(1)
	return nil
}

func (b *Bridge) handle(msg *nats.Msg) {
	if msg.Header.Get(OriginHeader) == b.origin {
		return
	}
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		b.logger.Warn("malformed learning event on subject",
			zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if err := b.sink.Ingest(context.Background(), ev); err != nil {
		b.logger.Warn("remote learning event rejected",
			zap.String("id", ev.ID), zap.Error(err))
		return
	}
	b.received.Add(1)
}

// Published returns how many events this bridge published.
func (b *Bridge) Published() int64 { return b.published.Load() }

// Received returns how many remote events were ingested.
func (b *Bridge) Received() int64 { return b.received.Load() }

// Close unsubscribes. The connection is owned by the caller.
func (b *Bridge) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}
