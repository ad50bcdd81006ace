package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresenceLookup struct {
	gateway string
	online  bool
}

func (f *fakePresenceLookup) Lookup(_ context.Context, _ string) (string, bool, error) {
	if f.online {
		return f.gateway, true, nil
	}
	return "", false, nil
}

func newAdminRouter(t *testing.T, store AdminStore, lookup PresenceLookup, reg *ConnManager) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewAdminAPI(store, lookup, reg, time.Second).Register(r)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestCreateRoomAndListMembers(t *testing.T) {
	store := newFakeStore()
	r := newAdminRouter(t, store, nil, nil)

	w := doJSON(t, r, http.MethodPost, "/rooms",
		`{"id":"r1","name":"general","members":["u1","u2"]}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/rooms/r1/members", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Room    string   `json:"room"`
		Members []string `json:"members"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "r1", resp.Room)
	assert.ElementsMatch(t, []string{"u1", "u2"}, resp.Members)
}

func TestCreateRoomGeneratesID(t *testing.T) {
	r := newAdminRouter(t, newFakeStore(), nil, nil)

	w := doJSON(t, r, http.MethodPost, "/rooms", `{"name":"general"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
}

func TestAddMemberGrantsMembership(t *testing.T) {
	store := newFakeStore()
	store.grant("r1", "u1")
	r := newAdminRouter(t, store, nil, nil)

	w := doJSON(t, r, http.MethodPost, "/rooms/r1/members", `{"identity":"u3"}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	ok, err := store.IsMember(context.Background(), "u3", "r1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddMemberRequiresIdentity(t *testing.T) {
	r := newAdminRouter(t, newFakeStore(), nil, nil)

	w := doJSON(t, r, http.MethodPost, "/rooms/r1/members", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPresenceAnswersThroughMirror(t *testing.T) {
	lookup := &fakePresenceLookup{gateway: "gw-other", online: true}
	r := newAdminRouter(t, newFakeStore(), lookup, nil)

	w := doJSON(t, r, http.MethodGet, "/presence/u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Online  bool   `json:"online"`
		Gateway string `json:"gateway"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Online)
	assert.Equal(t, "gw-other", resp.Gateway)
}

func TestPresenceFallsBackToLocalRegistry(t *testing.T) {
	m := newTestManager(t, ManagerConf{})
	require.NoError(t, m.Register(NewWsConn("c1", "u1", nil, 4)))
	r := newAdminRouter(t, newFakeStore(), nil, m)

	w := doJSON(t, r, http.MethodGet, "/presence/u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Online  bool   `json:"online"`
		Gateway string `json:"gateway"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Online)
	assert.Equal(t, "gw-test", resp.Gateway)

	w = doJSON(t, r, http.MethodGet, "/presence/nobody", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Online)
	assert.Empty(t, resp.Gateway)
}
