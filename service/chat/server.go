package chat

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chatwire/logger"
	"chatwire/service/seq"
)

// Identity is the verified user a connection belongs to, as returned by the
// session validator; the core never persists it.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// SessionValidator turns a handshake credential into a verified identity.
type SessionValidator interface {
	Validate(ctx context.Context, credential string) (*Identity, error)
}

type SessionValidatorFunc func(ctx context.Context, credential string) (*Identity, error)

func (f SessionValidatorFunc) Validate(ctx context.Context, credential string) (*Identity, error) {
	return f(ctx, credential)
}

// PresenceMirror reflects announced transitions into a shared store; nil
// disables mirroring.
type PresenceMirror interface {
	Online(ctx context.Context, user string) error
	Offline(ctx context.Context, user string) error
}

type ServerConf struct {
	GatewayID        string
	PresenceGrace    time.Duration
	HandshakeTimeout time.Duration
	PersistTimeout   time.Duration
	Manager          ManagerConf
}

func (c *ServerConf) norm() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 3 * time.Second
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
}

// Server owns the gateway's moving parts: registry, room index, presence
// tracker and router are constructed here, wired together, and torn down
// together.
type Server struct {
	conf      ServerConf
	registry  *ConnManager
	rooms     *RoomIndex
	presence  *PresenceTracker
	router    *Router
	validator SessionValidator
	upgrader  websocket.Upgrader
	mirror    PresenceMirror
}

func NewServer(conf ServerConf, validator SessionValidator, store Store, seqs seq.Sequencer, checkOrigin func(*http.Request) bool) *Server {
	conf.norm()
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	registry := NewConnManager(conf.Manager, conf.GatewayID)
	rooms := NewRoomIndex(store, conf.PersistTimeout)

	s := &Server{
		conf:      conf,
		registry:  registry,
		rooms:     rooms,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
	s.presence = NewPresenceTracker(conf.PresenceGrace, s.announcePresence)
	s.router = NewRouter(registry, rooms, store, seqs, conf.PersistTimeout)

	// every removal path (read-loop exit, idle sweep, eviction, shutdown)
	// funnels through here
	registry.OnRemove(s.handleRemove)
	return s
}

func (s *Server) Registry() *ConnManager { return s.registry }

func (s *Server) Rooms() *RoomIndex { return s.rooms }

func (s *Server) Presence() *PresenceTracker { return s.presence }

func (s *Server) Router() *Router { return s.router }

// SetMirror installs the redis presence mirror; call before serving.
func (s *Server) SetMirror(m PresenceMirror) { s.mirror = m }

// SetRelay installs the cross-gateway message relay.
func (s *Server) SetRelay(r MessageRelay) { s.router.SetRelay(r) }

func (s *Server) handleRemove(w *WsConn) {
	left := s.rooms.LeaveAll(w)
	// the offline announcement, should it fire, targets every room the user
	// belonged to at close time, via this or any other connection
	userRooms := unionRooms(left, s.rooms.UserRooms(w.UserID))
	s.presence.Disconnected(w.UserID, userRooms)
	logger.Infof("[gateway] disconnected conn=%s user=%s rooms=%d", w.ID, w.UserID, len(left))
}

// announcePresence is the tracker's sink: mirror the transition, then fan a
// presence frame out to every room member except the user's own devices.
func (s *Server) announcePresence(userID, state string, rooms []string) {
	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.conf.PersistTimeout)
		var err error
		if state == PresenceOnline {
			err = s.mirror.Online(ctx, userID)
		} else {
			err = s.mirror.Offline(ctx, userID)
		}
		cancel()
		if err != nil {
			logger.Warnf("[presence] mirror %s user=%s: %v", state, userID, err)
		}
	}

	for _, roomID := range rooms {
		data := BuildPresenceFrame(userID, state, roomID)
		for _, connID := range s.rooms.MembersOf(roomID) {
			w, ok := s.registry.Get(connID)
			if !ok || w.UserID == userID {
				continue
			}
			_ = w.Push(data)
		}
	}
}

// Shutdown drains the gateway: presence timers first so closing connections
// does not fire a burst of offline announcements, then every connection.
func (s *Server) Shutdown() {
	s.presence.Close()
	s.registry.Close()
	logger.Info("[gateway] shut down")
}

func unionRooms(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, lists := range [][]string{a, b} {
		for _, r := range lists {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
