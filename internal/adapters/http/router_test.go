package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/MicRoom/internal/adapters/store/memory"
	"github.com/dkeye/MicRoom/internal/adapters/signal"
	"github.com/dkeye/MicRoom/internal/app"
	"github.com/dkeye/MicRoom/internal/app/mic"
	"github.com/dkeye/MicRoom/internal/app/orch"
	"github.com/dkeye/MicRoom/internal/app/projection"
	"github.com/dkeye/MicRoom/internal/config"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	router "github.com/dkeye/MicRoom/internal/adapters/http"
)

const secret = "test-secret"

type server struct {
	engine *gin.Engine
	roles  *memory.Roles
}

func newServer(t *testing.T, limit int) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	feed := memory.NewFeed()
	roles := memory.NewRoles()
	gw := mic.NewGateway(mic.NewRegistry(memory.NewStore(), feed), roles)
	o := orch.New(ctx, orch.Deps{
		Registry:  app.NewRegistry(),
		Rooms:     app.NewRoomManager(),
		Mic:       gw,
		Feed:      feed,
		Projector: projection.NewProjector(memory.NewProfiles()),
	})
	t.Cleanup(o.Close)

	cfg := &config.Config{Mode: "test", Secret: secret, StaticPath: t.TempDir() + "/none"}
	cfg.CORS.AllowedOrigins = []string{"http://localhost:5173"}
	ws := signal.NewSignalWSController(o, signal.NewRoomRateLimiter(limit, time.Minute), 0, time.Minute)
	return &server{engine: router.SetupRouter(ctx, cfg, o, ws), roles: roles}
}

func (s *server) do(t *testing.T, method, path string, user domain.UserID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		tok, err := router.IssueToken([]byte(secret), user, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Message)
	return body.Error
}

func TestHealthz(t *testing.T) {
	s := newServer(t, 5)
	w := s.do(t, http.MethodGet, "/api/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIdentity(t *testing.T) {
	s := newServer(t, 5)

	w := s.do(t, http.MethodGet, "/api/me", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"alice"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/me", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"guest-`)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := router.IssueToken([]byte("other-secret"), "mallory", time.Hour)
	require.NoError(t, err)
	_, err = router.ParseToken([]byte(secret), forged)
	assert.Error(t, err)
}

func TestMicFlow(t *testing.T) {
	s := newServer(t, 5)
	s.roles.Set("mod", "r1", domain.RoleModerator)

	w := s.do(t, http.MethodPost, "/api/rooms/r1/mic/requests", "alice", `{"slot":3}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var req domain.MicRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &req))
	assert.Equal(t, domain.RequestPending, req.Status)

	w = s.do(t, http.MethodPost, "/api/rooms/r1/mic/requests", "alice", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_pending", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/rooms/r1/mic/requests/"+string(req.ID)+"/approve", "alice", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/rooms/r1/mic/requests/"+string(req.ID)+"/approve", "mod", "")
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/rooms/r1/mic", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var grid projection.SlotGrid
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grid))
	require.Len(t, grid.Cells, 8)
	assert.Equal(t, projection.CellOccupied, grid.Cells[2].State)
	assert.Equal(t, domain.UserID("alice"), grid.Cells[2].User.UserID)
	assert.Empty(t, grid.Queue)

	w = s.do(t, http.MethodPost, "/api/rooms/r1/mic/slots/3/join", "bob", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "slot_occupied", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/rooms/r1/mic/slots/3/mute", "mod", `{"muted":true}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodPost, "/api/rooms/r1/mic/slots/3/mute", "mod", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/rooms/r1/mic/slots/3/leave", "bob", "")
	assert.Equal(t, http.StatusNoContent, w.Code, "leaving someone else's slot is a no-op")

	w = s.do(t, http.MethodDelete, "/api/rooms/r1/mic/slots/3", "mod", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodPatch, "/api/rooms/r1/mic/settings", "mod", `{"mic_enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/api/rooms/r1/mic/slots/1/join", "bob", "")
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "mic_disabled", errorCode(t, w))

	w = s.do(t, http.MethodPatch, "/api/rooms/r1/mic/settings", "mod", `{"mic_count":5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_settings", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/rooms/r1/mic/slots/zero/join", "bob", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelAndReject(t *testing.T) {
	s := newServer(t, 5)
	s.roles.Set("mod", "r1", domain.RoleModerator)

	w := s.do(t, http.MethodPost, "/api/rooms/r1/mic/requests", "alice", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var req domain.MicRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &req))

	w = s.do(t, http.MethodDelete, "/api/rooms/r1/mic/requests/"+string(req.ID), "bob", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodDelete, "/api/rooms/r2/mic/requests/"+string(req.ID), "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "a request is only reachable under its own room")
	w = s.do(t, http.MethodDelete, "/api/rooms/r1/mic/requests/"+string(req.ID), "alice", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodPost, "/api/rooms/r1/mic/requests/"+string(req.ID)+"/reject", "mod", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestRateLimit(t *testing.T) {
	s := newServer(t, 2)
	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodPost, "/api/rooms/r1/mic/requests", "alice", "")
		require.NotEqual(t, http.StatusTooManyRequests, w.Code)
		s.do(t, http.MethodGet, "/api/rooms/r1/mic", "alice", "")
	}
	w := s.do(t, http.MethodPost, "/api/rooms/r1/mic/requests", "alice", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", errorCode(t, w))
}
