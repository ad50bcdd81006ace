package chat

import (
	"sync"
	"time"
)

// Presence states carried on the wire.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
	PresenceTyping  = "typing"
)

// PresenceTracker derives a user's aggregate online state from connection
// lifecycle events. Per user: Offline -> Online on the first connection,
// Online -> PendingOffline when the last connection closes, and Offline only
// after the grace delay runs out with no reconnect. A reconnect inside the
// window cancels the pending announcement; observers see nothing.
type PresenceTracker struct {
	mu      sync.Mutex
	counts  map[string]int
	pending map[string]*pendingOffline
	grace   time.Duration

	// announce fans a transition out to the given rooms; wired by the server.
	announce func(userID, state string, rooms []string)

	afterFunc func(d time.Duration, f func()) *time.Timer // injectable for tests
	closed    bool
}

type pendingOffline struct {
	timer *time.Timer
	rooms []string
}

func NewPresenceTracker(grace time.Duration, announce func(userID, state string, rooms []string)) *PresenceTracker {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &PresenceTracker{
		counts:    make(map[string]int),
		pending:   make(map[string]*pendingOffline),
		grace:     grace,
		announce:  announce,
		afterFunc: time.AfterFunc,
	}
}

// Connected registers a new live connection for the identity. A pending
// offline timer is canceled silently; a genuine Offline -> Online transition
// is announced.
func (p *PresenceTracker) Connected(userID string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.counts[userID]++
	if po, ok := p.pending[userID]; ok {
		po.timer.Stop()
		delete(p.pending, userID)
		p.mu.Unlock()
		return // was never observed offline
	}
	first := p.counts[userID] == 1
	p.mu.Unlock()

	if first && p.announce != nil {
		p.announce(userID, PresenceOnline, nil)
	}
}

// Disconnected registers a closed connection. rooms is the snapshot of rooms
// the user belonged to at close time; the offline announcement, if it fires,
// goes to these.
func (p *PresenceTracker) Disconnected(userID string, rooms []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.counts[userID] == 0 {
		return
	}
	p.counts[userID]--
	if p.counts[userID] > 0 {
		return
	}
	delete(p.counts, userID)

	// last connection gone: PendingOffline
	if po, ok := p.pending[userID]; ok {
		po.timer.Stop()
	}
	po := &pendingOffline{rooms: rooms}
	po.timer = p.afterFunc(p.grace, func() { p.fireOffline(userID) })
	p.pending[userID] = po
}

func (p *PresenceTracker) fireOffline(userID string) {
	p.mu.Lock()
	po, ok := p.pending[userID]
	if !ok || p.closed || p.counts[userID] > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.pending, userID)
	p.mu.Unlock()

	if p.announce != nil {
		p.announce(userID, PresenceOffline, po.rooms)
	}
}

// Online reports the aggregate state (PendingOffline still counts as online
// to observers).
func (p *PresenceTracker) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts[userID] > 0 {
		return true
	}
	_, pending := p.pending[userID]
	return pending
}

// Close cancels every pending timer; no announcements fire afterwards.
func (p *PresenceTracker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for userID, po := range p.pending {
		po.timer.Stop()
		delete(p.pending, userID)
	}
}
