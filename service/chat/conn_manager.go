package chat

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatwire/tools/errs"
	"chatwire/tools/safe"
)

// ManagerConf tunes the registry.
type ManagerConf struct {
	IdleTTL     time.Duration    // idle connection TTL (resets on activity)
	SweepEvery  time.Duration    // sweeper period
	MaxPerUser  int              // per-user connection cap (<=0 unlimited)
	EvictOldest bool             // at the cap, evict the oldest instead of rejecting
	SendBuffer  int              // per-connection outbound queue length
	Clock       func() time.Time // injectable clock for tests; nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 2 * time.Hour
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

// WsConn is one live connection. It is owned by the ConnManager; everything
// here except the outbound queue is written only under the manager lock.
type WsConn struct {
	ID     string
	UserID string

	Conn   *websocket.Conn // nil in tests
	Remote net.Addr

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpireAt  time.Time

	sendCh    chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func NewWsConn(id, userID string, ws *websocket.Conn, buf int) *WsConn {
	if buf <= 0 {
		buf = 256
	}
	w := &WsConn{
		ID:     id,
		UserID: userID,
		Conn:   ws,
		sendCh: make(chan []byte, buf),
		done:   make(chan struct{}),
	}
	if ws != nil {
		w.Remote = ws.RemoteAddr()
	}
	return w
}

// Push enqueues an outbound frame without blocking. A full queue drops the
// frame (at-most-once delivery); a closed connection reports the drop.
func (w *WsConn) Push(data []byte) error {
	select {
	case <-w.done:
		return errs.ErrUnknownConnection.WithDetail("connection closed")
	default:
	}
	select {
	case w.sendCh <- data:
		return nil
	default:
		return errs.New("send queue full, frame dropped")
	}
}

// Outbox is drained by the write pump; tests read it directly.
func (w *WsConn) Outbox() <-chan []byte { return w.sendCh }

func (w *WsConn) Done() <-chan struct{} { return w.done }

func (w *WsConn) close() {
	w.closeOnce.Do(func() {
		close(w.done)
		if w.Conn != nil {
			_ = w.Conn.Close()
		}
	})
}

// ConnManager is the connection registry: every live connection, indexed by
// connection ID and by owning user (multi-device is a set per identity, not
// a single slot). All mutation goes through Register/Unregister/Touch.
type ConnManager struct {
	mu     sync.RWMutex
	byID   map[string]*WsConn
	byUser map[string]map[string]*WsConn

	conf     ManagerConf
	gwID     string
	onRemove func(*WsConn) // fires once per removal, outside the lock

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewConnManager(conf ManagerConf, gwID string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byID:   make(map[string]*WsConn),
		byUser: make(map[string]map[string]*WsConn),
		conf:   conf,
		gwID:   gwID,
		stopCh: make(chan struct{}),
	}
	safe.Go(m.sweeper)
	return m
}

func (m *ConnManager) GatewayID() string { return m.gwID }

// OnRemove installs the removal hook (room cleanup, presence, mirror). Set
// it before serving traffic.
func (m *ConnManager) OnRemove(fn func(*WsConn)) { m.onRemove = fn }

// Register admits a connection. At the per-user cap it either evicts the
// oldest connection or rejects, per config.
func (m *ConnManager) Register(w *WsConn) error {
	if w == nil || w.ID == "" || w.UserID == "" {
		return errs.New("conn/id/user empty")
	}
	now := m.conf.Clock()

	var evicted *WsConn
	m.mu.Lock()
	if _, exists := m.byID[w.ID]; exists {
		m.mu.Unlock()
		return errs.New("connection id already registered")
	}
	if m.conf.MaxPerUser > 0 && len(m.byUser[w.UserID]) >= m.conf.MaxPerUser {
		if !m.conf.EvictOldest {
			m.mu.Unlock()
			return errs.ErrTooManyConnections.WithDetail(w.UserID)
		}
		evicted = m.oldestLocked(w.UserID)
		if evicted != nil {
			m.dropLocked(evicted)
		}
	}

	w.CreatedAt = now
	w.UpdatedAt = now
	w.ExpireAt = now.Add(m.conf.IdleTTL)
	m.byID[w.ID] = w
	if m.byUser[w.UserID] == nil {
		m.byUser[w.UserID] = make(map[string]*WsConn)
	}
	m.byUser[w.UserID][w.ID] = w
	m.mu.Unlock()

	if evicted != nil {
		m.finishRemove(evicted)
	}
	return nil
}

// Unregister removes and closes a connection. Unknown IDs are a no-op, so
// double-unregister is safe.
func (m *ConnManager) Unregister(connID string) {
	if connID == "" {
		return
	}
	m.mu.Lock()
	w, ok := m.byID[connID]
	if ok {
		m.dropLocked(w)
	}
	m.mu.Unlock()

	if ok {
		m.finishRemove(w)
	}
}

func (m *ConnManager) Get(connID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.byID[connID]
	return w, ok
}

// ConnectionsFor returns the user's live connections in no particular order.
func (m *ConnManager) ConnectionsFor(userID string) []*WsConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[userID]
	out := make([]*WsConn, 0, len(mm))
	for _, w := range mm {
		out = append(out, w)
	}
	return out
}

// IsOnline is true iff at least one live connection exists for the identity.
func (m *ConnManager) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID]) > 0
}

// Touch refreshes activity and the idle deadline; wired to the pong handler.
func (m *ConnManager) Touch(connID string) {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.byID[connID]; ok {
		w.UpdatedAt = now
		w.ExpireAt = now.Add(m.conf.IdleTTL)
	}
}

func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Close stops the sweeper and drops every connection, firing removal hooks.
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	dropped := make([]*WsConn, 0, len(m.byID))
	for _, w := range m.byID {
		dropped = append(dropped, w)
	}
	m.byID = make(map[string]*WsConn)
	m.byUser = make(map[string]map[string]*WsConn)
	m.mu.Unlock()

	for _, w := range dropped {
		m.finishRemove(w)
	}
}

// dropLocked removes from both indexes; callers run finishRemove after
// unlocking.
func (m *ConnManager) dropLocked(w *WsConn) {
	delete(m.byID, w.ID)
	if mm := m.byUser[w.UserID]; mm != nil {
		delete(mm, w.ID)
		if len(mm) == 0 {
			delete(m.byUser, w.UserID)
		}
	}
}

func (m *ConnManager) finishRemove(w *WsConn) {
	w.close()
	if m.onRemove != nil {
		m.onRemove(w)
	}
}

func (m *ConnManager) oldestLocked(userID string) *WsConn {
	var oldest *WsConn
	for _, w := range m.byUser[userID] {
		if oldest == nil || w.CreatedAt.Before(oldest.CreatedAt) {
			oldest = w
		}
	}
	return oldest
}

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) {
	var expired []*WsConn

	m.mu.Lock()
	for _, w := range m.byID {
		if now.After(w.ExpireAt) {
			expired = append(expired, w)
		}
	}
	for _, w := range expired {
		m.dropLocked(w)
	}
	m.mu.Unlock()

	// close outside the lock
	for _, w := range expired {
		m.finishRemove(w)
	}
}
