package chat

import (
	"encoding/json"
	"time"

	stderr "errors"

	"chatwire/tools/decode"
	"chatwire/tools/errs"
)

// FrameType enumerates the event vocabulary. Inbound: join, leave, message,
// typing. Outbound: connected, joined, left, message, presence, error.
type FrameType string

const (
	FrameConnected FrameType = "connected"
	FrameJoin      FrameType = "join"
	FrameJoined    FrameType = "joined"
	FrameLeave     FrameType = "leave"
	FrameLeft      FrameType = "left"
	FrameMessage   FrameType = "message"
	FrameTyping    FrameType = "typing"
	FramePresence  FrameType = "presence"
	FrameError     FrameType = "error"
)

// Frame is the inbound wire shape; Data stays generic until the handler
// decodes it into a typed payload.
type Frame struct {
	Type FrameType      `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// outFrame marshals typed payloads directly.
type outFrame struct {
	Type FrameType `json:"type"`
	Data any       `json:"data,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errs.WrapMsg(err, "unmarshal frame")
	}
	if f.Type == "" {
		return nil, errs.New("frame missing type")
	}
	return f, nil
}

// ---- inbound payloads ----

type JoinPayload struct {
	Room string `json:"room"`
}

type LeavePayload struct {
	Room string `json:"room"`
}

type MessagePayload struct {
	Room        string `json:"room"`
	Body        string `json:"body"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

type TypingPayload struct {
	Room string `json:"room"`
}

func (f *Frame) JoinPayload() (*JoinPayload, error) {
	return decode.DecodePayload[JoinPayload](f.Data)
}

func (f *Frame) LeavePayload() (*LeavePayload, error) {
	return decode.DecodePayload[LeavePayload](f.Data)
}

func (f *Frame) MessagePayload() (*MessagePayload, error) {
	return decode.DecodePayload[MessagePayload](f.Data)
}

func (f *Frame) TypingPayload() (*TypingPayload, error) {
	return decode.DecodePayload[TypingPayload](f.Data)
}

// ---- outbound payloads ----

// MessageEvent is the routed message: server ID and per-room sequence
// assigned before persistence, broadcast only after the store acknowledges.
type MessageEvent struct {
	ID          string    `json:"id" bson:"_id"`
	RoomID      string    `json:"room" bson:"room_id"`
	SenderID    string    `json:"sender" bson:"sender_id"`
	ClientMsgID string    `json:"client_msg_id,omitempty" bson:"client_msg_id,omitempty"`
	Seq         int64     `json:"seq" bson:"seq"`
	Body        string    `json:"body" bson:"body"`
	SentAt      time.Time `json:"sent_at" bson:"sent_at"`
}

type ConnectedPayload struct {
	ConnID string `json:"conn_id"`
	UserID string `json:"user_id"`
}

type RoomPayload struct {
	Room string `json:"room"`
}

type PresencePayload struct {
	UserID string `json:"user_id"`
	State  string `json:"state"`
	Room   string `json:"room,omitempty"`
}

// ErrorPayload is the typed error event; it shares the channel with normal
// acknowledgments. Ref echoes the client_msg_id or room the error refers to.
type ErrorPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Ref  string `json:"ref,omitempty"`
}

func marshalFrame(t FrameType, data any) []byte {
	b, _ := json.Marshal(outFrame{Type: t, Data: data})
	return b
}

func BuildConnectedFrame(connID, userID string) []byte {
	return marshalFrame(FrameConnected, ConnectedPayload{ConnID: connID, UserID: userID})
}

func BuildJoinedFrame(room string) []byte {
	return marshalFrame(FrameJoined, RoomPayload{Room: room})
}

func BuildLeftFrame(room string) []byte {
	return marshalFrame(FrameLeft, RoomPayload{Room: room})
}

func BuildMessageFrame(ev *MessageEvent) []byte {
	return marshalFrame(FrameMessage, ev)
}

func BuildPresenceFrame(userID, state, room string) []byte {
	return marshalFrame(FramePresence, PresencePayload{UserID: userID, State: state, Room: room})
}

func BuildErrorFrame(err error, ref string) []byte {
	var ce *errs.CodeError
	if !stderr.As(err, &ce) {
		ce = errs.ErrInternal
	}
	return marshalFrame(FrameError, ErrorPayload{Code: ce.Code, Msg: ce.Msg, Ref: ref})
}
