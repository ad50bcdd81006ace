package chat

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatwire/logger"
)

// AdminStore is the store surface behind the room management routes.
type AdminStore interface {
	MembershipSource
	CreateRoom(ctx context.Context, roomID, name string, members []string) error
	AddMember(ctx context.Context, roomID, identity string) error
}

// PresenceLookup answers which gateway a user is online on. Nil falls back
// to this gateway's own registry.
type PresenceLookup interface {
	Lookup(ctx context.Context, user string) (gatewayID string, online bool, err error)
}

// AdminAPI is the HTTP management surface next to the socket: room fixtures
// and presence lookups. Authentication is expected upstream of the gateway.
type AdminAPI struct {
	store    AdminStore
	lookup   PresenceLookup
	registry *ConnManager
	timeout  time.Duration
}

func NewAdminAPI(store AdminStore, lookup PresenceLookup, registry *ConnManager, timeout time.Duration) *AdminAPI {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AdminAPI{store: store, lookup: lookup, registry: registry, timeout: timeout}
}

func (a *AdminAPI) Register(r gin.IRouter) {
	r.POST("/rooms", a.createRoom)
	r.GET("/rooms/:room/members", a.roomMembers)
	r.POST("/rooms/:room/members", a.addMember)
	r.GET("/presence/:user", a.presence)
}

type createRoomReq struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (a *AdminAPI) createRoom(c *gin.Context) {
	var req createRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.timeout)
	defer cancel()
	if err := a.store.CreateRoom(ctx, req.ID, req.Name, req.Members); err != nil {
		logger.Errorf("[admin] create room %s: %v", req.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create room failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

func (a *AdminAPI) roomMembers(c *gin.Context) {
	roomID := c.Param("room")

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.timeout)
	defer cancel()
	members, err := a.store.LoadRoomMembers(ctx, roomID)
	if err != nil {
		logger.Errorf("[admin] load members room=%s: %v", roomID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load members failed"})
		return
	}
	if members == nil {
		members = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"room": roomID, "members": members})
}

type addMemberReq struct {
	Identity string `json:"identity"`
}

func (a *AdminAPI) addMember(c *gin.Context) {
	roomID := c.Param("room")
	var req addMemberReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.timeout)
	defer cancel()
	if err := a.store.AddMember(ctx, roomID, req.Identity); err != nil {
		logger.Errorf("[admin] add member room=%s user=%s: %v", roomID, req.Identity, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add member failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// presence answers through the shared mirror when one is wired; otherwise
// it reports this gateway's local view.
func (a *AdminAPI) presence(c *gin.Context) {
	user := c.Param("user")

	if a.lookup != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), a.timeout)
		defer cancel()
		gw, online, err := a.lookup.Lookup(ctx, user)
		if err != nil {
			logger.Errorf("[admin] presence lookup user=%s: %v", user, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "presence lookup failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": user, "online": online, "gateway": gw})
		return
	}

	online := a.registry.IsOnline(user)
	gw := ""
	if online {
		gw = a.registry.GatewayID()
	}
	c.JSON(http.StatusOK, gin.H{"user_id": user, "online": online, "gateway": gw})
}
