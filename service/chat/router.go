package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chatwire/logger"
	"chatwire/service/seq"
	"chatwire/tools/errs"
	"chatwire/tools/ids"
)

// Store is the persistent collaborator the router writes through. A message
// is never broadcast before SaveMessage acknowledges.
type Store interface {
	MembershipSource
	SaveMessage(ctx context.Context, ev *MessageEvent) error
}

// MessageRelay forwards persisted events to sibling gateways; nil disables
// the relay.
type MessageRelay interface {
	PublishMessage(ev *MessageEvent) error
}

// Router accepts outbound message events from connections, validates
// membership, persists, and fans out to the room's connections.
//
// Ordering: Submit is called from each connection's read loop, so one
// sender's events reach the per-connection outbound queues in submission
// order. Delivery is at-most-once per currently connected recipient.
type Router struct {
	registry *ConnManager
	rooms    *RoomIndex
	store    Store
	seqs     seq.Sequencer
	relay    MessageRelay

	persistTimeout time.Duration
}

func NewRouter(registry *ConnManager, rooms *RoomIndex, store Store, seqs seq.Sequencer, persistTimeout time.Duration) *Router {
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	return &Router{
		registry:       registry,
		rooms:          rooms,
		store:          store,
		seqs:           seqs,
		persistTimeout: persistTimeout,
	}
}

// SetRelay installs the cross-gateway relay; call before serving traffic.
func (r *Router) SetRelay(relay MessageRelay) { r.relay = relay }

// Submit routes one message: (1) the sender's connection must have joined
// the room, (2) a per-room sequence is assigned, (3) the event is persisted,
// (4) only then is it pushed to every member connection, sender included
// (the sender's copy doubles as the ack). A persistence failure reaches the
// sender alone; nothing is broadcast.
func (r *Router) Submit(senderConnID, roomID string, p *MessagePayload) (*MessageEvent, error) {
	w, ok := r.registry.Get(senderConnID)
	if !ok {
		return nil, errs.ErrUnknownConnection.WithDetail(senderConnID)
	}
	if !r.rooms.Contains(senderConnID, roomID) {
		return nil, errs.ErrMembershipDenied.WithDetail(roomID)
	}

	// Deliberately not derived from the connection's lifetime: a sender
	// disconnecting mid-flight must not cancel delivery to the others.
	ctx, cancel := context.WithTimeout(context.Background(), r.persistTimeout)
	defer cancel()

	seqNo, err := r.seqs.Next(ctx, roomID)
	if err != nil {
		return nil, errs.ErrSequenceFailure.WrapMsg(err.Error())
	}

	clientMsgID := p.ClientMsgID
	if clientMsgID == "" {
		clientMsgID = uuid.NewString()
	}
	ev := &MessageEvent{
		ID:          ids.GenerateString(),
		RoomID:      roomID,
		SenderID:    w.UserID,
		ClientMsgID: clientMsgID,
		Seq:         seqNo,
		Body:        p.Body,
		SentAt:      time.Now(),
	}

	if err := r.store.SaveMessage(ctx, ev); err != nil {
		return nil, errs.ErrPersistenceFailure.WrapMsg(err.Error())
	}

	r.DeliverLocal(ev)

	if r.relay != nil {
		if err := r.relay.PublishMessage(ev); err != nil {
			// local members already have it; remote delivery is best effort
			logger.Errorf("[router] relay publish room=%s id=%s: %v", ev.RoomID, ev.ID, err)
		}
	}
	return ev, nil
}

// DeliverLocal pushes the event to every connection joined to the room on
// this gateway; exactly one copy per connection, drops are logged.
func (r *Router) DeliverLocal(ev *MessageEvent) int {
	data := BuildMessageFrame(ev)
	n := 0
	for _, connID := range r.rooms.MembersOf(ev.RoomID) {
		w, ok := r.registry.Get(connID)
		if !ok {
			continue
		}
		if err := w.Push(data); err != nil {
			logger.Warnf("[router] drop message conn=%s room=%s: %v", connID, ev.RoomID, err)
			continue
		}
		n++
	}
	return n
}

// Typing relays a typing indicator to the room's other members; it is never
// persisted.
func (r *Router) Typing(senderConnID, roomID string) error {
	w, ok := r.registry.Get(senderConnID)
	if !ok {
		return errs.ErrUnknownConnection.WithDetail(senderConnID)
	}
	if !r.rooms.Contains(senderConnID, roomID) {
		return errs.ErrMembershipDenied.WithDetail(roomID)
	}
	data := BuildPresenceFrame(w.UserID, PresenceTyping, roomID)
	for _, connID := range r.rooms.MembersOf(roomID) {
		if connID == senderConnID {
			continue
		}
		if peer, ok := r.registry.Get(connID); ok {
			_ = peer.Push(data)
		}
	}
	return nil
}
