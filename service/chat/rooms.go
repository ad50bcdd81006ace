package chat

import (
	"context"
	"sync"
	"time"

	"chatwire/tools/errs"
)

// MembershipSource is the authoritative membership store. The index is only
// a routing cache over it: every Join re-checks the source, so a reconnect
// (a new connection) can never ride a stale grant.
type MembershipSource interface {
	IsMember(ctx context.Context, identity, roomID string) (bool, error)
	LoadRoomMembers(ctx context.Context, roomID string) ([]string, error)
}

// RoomIndex tracks which connections have joined which rooms, plus a
// per-user room count so presence can tell which rooms a user belongs to.
type RoomIndex struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]struct{} // roomID -> connIDs
	byConn map[string]map[string]struct{} // connID -> roomIDs
	byUser map[string]map[string]int      // userID -> roomID -> conn count

	src          MembershipSource
	checkTimeout time.Duration
}

func NewRoomIndex(src MembershipSource, checkTimeout time.Duration) *RoomIndex {
	if checkTimeout <= 0 {
		checkTimeout = 5 * time.Second
	}
	return &RoomIndex{
		byRoom:       make(map[string]map[string]struct{}),
		byConn:       make(map[string]map[string]struct{}),
		byUser:       make(map[string]map[string]int),
		src:          src,
		checkTimeout: checkTimeout,
	}
}

// Join admits the connection into the room's fan-out set after the
// authoritative store confirms the identity's membership. Ambiguity (store
// error) denies: the cache must never grant what the store would refuse.
func (x *RoomIndex) Join(ctx context.Context, w *WsConn, roomID string) error {
	if w == nil || roomID == "" {
		return errs.New("conn/room empty")
	}
	cctx, cancel := context.WithTimeout(ctx, x.checkTimeout)
	defer cancel()

	ok, err := x.src.IsMember(cctx, w.UserID, roomID)
	if err != nil {
		return errs.ErrMembershipDenied.WrapMsg("membership check failed: " + err.Error())
	}
	if !ok {
		return errs.ErrMembershipDenied.WithDetail(roomID)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.byRoom[roomID] == nil {
		x.byRoom[roomID] = make(map[string]struct{})
	}
	if _, already := x.byRoom[roomID][w.ID]; already {
		return nil // idempotent re-join
	}
	x.byRoom[roomID][w.ID] = struct{}{}
	if x.byConn[w.ID] == nil {
		x.byConn[w.ID] = make(map[string]struct{})
	}
	x.byConn[w.ID][roomID] = struct{}{}
	if x.byUser[w.UserID] == nil {
		x.byUser[w.UserID] = make(map[string]int)
	}
	x.byUser[w.UserID][roomID]++
	return nil
}

func (x *RoomIndex) Leave(w *WsConn, roomID string) {
	if w == nil || roomID == "" {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.leaveLocked(w, roomID)
}

// LeaveAll removes the connection from every room it had joined and returns
// those rooms; called on disconnect.
func (x *RoomIndex) LeaveAll(w *WsConn) []string {
	if w == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	rooms := make([]string, 0, len(x.byConn[w.ID]))
	for roomID := range x.byConn[w.ID] {
		rooms = append(rooms, roomID)
	}
	for _, roomID := range rooms {
		x.leaveLocked(w, roomID)
	}
	return rooms
}

func (x *RoomIndex) leaveLocked(w *WsConn, roomID string) {
	if conns := x.byRoom[roomID]; conns != nil {
		if _, ok := conns[w.ID]; !ok {
			return
		}
		delete(conns, w.ID)
		if len(conns) == 0 {
			delete(x.byRoom, roomID)
		}
	} else {
		return
	}
	if rooms := x.byConn[w.ID]; rooms != nil {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(x.byConn, w.ID)
		}
	}
	if counts := x.byUser[w.UserID]; counts != nil {
		counts[roomID]--
		if counts[roomID] <= 0 {
			delete(counts, roomID)
		}
		if len(counts) == 0 {
			delete(x.byUser, w.UserID)
		}
	}
}

// MembersOf returns the connection IDs currently joined to the room.
func (x *RoomIndex) MembersOf(roomID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	conns := x.byRoom[roomID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// Contains reports whether the connection has joined the room.
func (x *RoomIndex) Contains(connID, roomID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if conns := x.byRoom[roomID]; conns != nil {
		_, ok := conns[connID]
		return ok
	}
	return false
}

// RoomsOf lists the rooms a connection has joined.
func (x *RoomIndex) RoomsOf(connID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, 0, len(x.byConn[connID]))
	for roomID := range x.byConn[connID] {
		out = append(out, roomID)
	}
	return out
}

// UserRooms lists the rooms a user belongs to through any connection;
// presence announcements fan out to these.
func (x *RoomIndex) UserRooms(userID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, 0, len(x.byUser[userID]))
	for roomID := range x.byUser[userID] {
		out = append(out, roomID)
	}
	return out
}
