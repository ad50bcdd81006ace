package chat

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chatwire/logger"
	"chatwire/tools/ids"
	"chatwire/tools/safe"
)

const (
	readLimit    = 1 << 20 // 1MB
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	writeWait    = 10 * time.Second
)

// HandleWS is the gateway entry point. The upgrader enforces the origin
// allow-list; the session credential is validated before the connection is
// admitted into the registry. A rejected handshake closes silently.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// disallowed origin or a non-websocket request
		logger.Infof("[gateway] upgrade rejected: %v", err)
		return
	}

	identity, err := s.authenticate(c.Request)
	if err != nil {
		logger.Infof("[gateway] handshake rejected remote=%s: %v", ws.RemoteAddr(), err)
		_ = ws.Close()
		return
	}

	w := NewWsConn(ids.GenerateString(), identity.UserID, ws, s.conf.Manager.SendBuffer)
	if err := s.registry.Register(w); err != nil {
		logger.Warnf("[gateway] register failed user=%s: %v", identity.UserID, err)
		_ = ws.Close()
		return
	}
	s.presence.Connected(identity.UserID)
	logger.Infof("[gateway] connected conn=%s user=%s remote=%s", w.ID, w.UserID, ws.RemoteAddr())

	_ = w.Push(BuildConnectedFrame(w.ID, w.UserID))

	safe.Go(func() { s.writePump(w) })
	s.readLoop(w)
}

// authenticate extracts the credential (bearer header, token query param, or
// session cookie) and runs it through the validator with a bounded wait.
func (s *Server) authenticate(r *http.Request) (*Identity, error) {
	credential := ""
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			credential = strings.TrimSpace(authz[len("bearer "):])
		}
	}
	if credential == "" {
		credential = r.URL.Query().Get("token")
	}
	if credential == "" {
		if ck, err := r.Cookie("session"); err == nil {
			credential = ck.Value
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.conf.HandshakeTimeout)
	defer cancel()
	return s.validator.Validate(ctx, credential)
}

// readLoop is the connection's task: it reads frames, dispatches them, and
// unregisters on any transport failure. Transport failures are never
// surfaced as application errors.
func (s *Server) readLoop(w *WsConn) {
	defer s.registry.Unregister(w.ID)

	ws := w.Conn
	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		s.registry.Touch(w.ID)
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[gateway] peer closed conn=%s", w.ID)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[gateway] read timeout conn=%s", w.ID)
			} else {
				logger.Infof("[gateway] read err conn=%s: %v", w.ID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, err := ParseFrame(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Warnf("[gateway] bad frame conn=%s err=%v sample=%q", w.ID, err, sample)
			continue
		}
		s.registry.Touch(w.ID)
		s.dispatch(w, frame)
	}
}

// dispatch handles one inbound frame. Membership and persistence errors are
// terminal to the operation only: they go back as typed error events and the
// connection stays open.
func (s *Server) dispatch(w *WsConn, frame *Frame) {
	switch frame.Type {
	case FrameJoin:
		p, err := frame.JoinPayload()
		if err != nil {
			_ = w.Push(BuildErrorFrame(err, ""))
			return
		}
		if err := s.rooms.Join(context.Background(), w, p.Room); err != nil {
			logger.Infof("[gateway] join denied conn=%s user=%s room=%s", w.ID, w.UserID, p.Room)
			_ = w.Push(BuildErrorFrame(err, p.Room))
			return
		}
		_ = w.Push(BuildJoinedFrame(p.Room))

	case FrameLeave:
		p, err := frame.LeavePayload()
		if err != nil {
			_ = w.Push(BuildErrorFrame(err, ""))
			return
		}
		s.rooms.Leave(w, p.Room)
		_ = w.Push(BuildLeftFrame(p.Room))

	case FrameMessage:
		p, err := frame.MessagePayload()
		if err != nil {
			_ = w.Push(BuildErrorFrame(err, ""))
			return
		}
		if _, err := s.router.Submit(w.ID, p.Room, p); err != nil {
			ref := p.ClientMsgID
			if ref == "" {
				ref = p.Room
			}
			_ = w.Push(BuildErrorFrame(err, ref))
		}

	case FrameTyping:
		p, err := frame.TypingPayload()
		if err != nil {
			_ = w.Push(BuildErrorFrame(err, ""))
			return
		}
		if err := s.router.Typing(w.ID, p.Room); err != nil {
			_ = w.Push(BuildErrorFrame(err, p.Room))
		}

	default:
		logger.Infof("[gateway] ignoring frame type=%s conn=%s", frame.Type, w.ID)
	}
}

// writePump owns all writes to the socket: it drains the outbound queue,
// keeps the connection alive with pings, and sends the close frame when the
// connection is torn down.
func (s *Server) writePump(w *WsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ws := w.Conn
	for {
		select {
		case data := <-w.Outbox():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Infof("[gateway] write err conn=%s: %v", w.ID, err)
				s.registry.Unregister(w.ID)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.registry.Unregister(w.ID)
				return
			}
		case <-w.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
