package realtime

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"flowboard/domain"
)

// Broadcaster publishes typed events to room subscribers. When this process
// owns a local registry the event is delivered in-process; otherwise it is
// handed to the relay sender targeting the sibling process that does. Either
// way delivery is fire-and-forget: a failed or dropped publish never
// surfaces to the caller, because the mutation it announces has already
// committed.
type Broadcaster struct {
	hub    *Hub
	relay  *RelaySender
	logger *log.Logger
}

// NewBroadcaster wires a broadcaster. hub may be nil when this process has
// no live transport; relay may be nil when no sibling endpoint is
// configured.
func NewBroadcaster(hub *Hub, relay *RelaySender, logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Broadcaster{hub: hub, relay: relay, logger: logger}
}

// Publish builds the event and delivers it best-effort. Unknown event types
// and unmarshallable payloads are dropped with a log line: the event set is
// closed and nothing downstream should ever see an unchecked type.
func (b *Broadcaster) Publish(ctx context.Context, room string, typ domain.EventType, payload any) {
	if _, ok := domain.ParseEventType(string(typ)); !ok {
		b.logger.WithField("type", typ).Error("refusing to publish unknown event type")
		return
	}
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			b.logger.WithFields(log.Fields{"room": room, "type": typ}).Errorf("marshal event payload: %v", err)
			return
		}
		data = raw
	}
	ev := domain.Event{Room: room, Type: typ, Data: data, Time: nextTimestamp()}

	if b.hub != nil {
		b.hub.Emit(ev)
		return
	}
	if b.relay == nil {
		b.logger.WithFields(log.Fields{"room": room, "type": typ}).Debug("no transport and no relay, dropping event")
		return
	}
	if !b.relay.Send(ev) {
		b.logger.WithFields(log.Fields{"room": room, "type": typ}).Warn("relay buffer saturated, dropping event")
	}
}
