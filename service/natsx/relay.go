// Package natsx relays persisted message events between gateway instances so
// members connected elsewhere still receive them. Delivery through the relay
// is best effort and stays at-most-once per recipient: each event is pushed
// only to connections local to the receiving gateway.
package natsx

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"chatwire/logger"
	"chatwire/service/chat"
	"chatwire/tools/safe"
)

const subjectPrefix = "chat.room."

type envelope struct {
	GatewayID string             `json:"gateway_id"`
	Event     *chat.MessageEvent `json:"event"`
}

type Relay struct {
	nc        *nats.Conn
	gatewayID string
	sub       *nats.Subscription
}

func NewRelay(url, gatewayID string) (*Relay, error) {
	nc, err := nats.Connect(url, nats.Name("chatwire-"+gatewayID))
	if err != nil {
		return nil, err
	}
	return &Relay{nc: nc, gatewayID: gatewayID}, nil
}

// PublishMessage forwards a persisted event to sibling gateways.
func (r *Relay) PublishMessage(ev *chat.MessageEvent) error {
	b, err := json.Marshal(envelope{GatewayID: r.gatewayID, Event: ev})
	if err != nil {
		return err
	}
	return r.nc.Publish(subjectPrefix+ev.RoomID, b)
}

// Start subscribes to every room subject and hands events from other
// gateways to deliver (the router's local fan-out).
func (r *Relay) Start(deliver func(ev *chat.MessageEvent)) error {
	sub, err := r.nc.Subscribe(subjectPrefix+">", func(m *nats.Msg) {
		defer safe.Recover("relay deliver")
		var env envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			logger.Warnf("[relay] bad envelope on %s: %v", m.Subject, err)
			return
		}
		if env.GatewayID == r.gatewayID || env.Event == nil {
			return // our own publish
		}
		deliver(env.Event)
	})
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

func (r *Relay) Close() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	if r.nc != nil {
		if err := r.nc.Drain(); err != nil {
			r.nc.Close()
		}
	}
}
