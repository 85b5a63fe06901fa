package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dkeye/MicRoom/internal/app/mic"
	"github.com/dkeye/MicRoom/internal/app/projection"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/gin-gonic/gin"
)

// RateLimiter caps how often one user may request the mic.
type RateLimiter interface {
	Allow(uid domain.UserID) bool
}

type MicHandler struct {
	gw      *mic.Gateway
	proj    *projection.Projector
	limiter RateLimiter
}

func NewMicHandler(gw *mic.Gateway, proj *projection.Projector, limiter RateLimiter) *MicHandler {
	return &MicHandler{gw: gw, proj: proj, limiter: limiter}
}

func (h *MicHandler) Register(g *gin.RouterGroup) {
	g.GET("", h.grid)
	g.PATCH("/settings", h.updateSettings)
	g.POST("/requests", h.requestMic)
	g.DELETE("/requests/:id", h.cancelRequest)
	g.POST("/requests/:id/approve", h.approve)
	g.POST("/requests/:id/reject", h.reject)
	g.POST("/slots/:n/join", h.join)
	g.POST("/slots/:n/leave", h.leave)
	g.DELETE("/slots/:n", h.remove)
	g.POST("/slots/:n/mute", h.mute)
	g.POST("/slots/:n/lock", h.lock)
}

func roomOf(c *gin.Context) (domain.RoomID, bool) {
	room, err := domain.ParseRoomID(c.Param("room"))
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return room, true
}

func slotKeyOf(c *gin.Context) (domain.SlotKey, bool) {
	room, ok := roomOf(c)
	if !ok {
		return domain.SlotKey{}, false
	}
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n < 1 {
		writeError(c, domain.ErrInvalidSlot)
		return domain.SlotKey{}, false
	}
	return domain.SlotKey{RoomID: room, Number: n}, true
}

// bindOptional decodes a JSON body if there is one.
func bindOptional(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, domain.ErrBadPayload)
		return false
	}
	return true
}

func (h *MicHandler) grid(c *gin.Context) {
	room, ok := roomOf(c)
	if !ok {
		return
	}
	snap, err := h.gw.Snapshot(c.Request.Context(), room)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.proj.Project(c.Request.Context(), snap))
}

func (h *MicHandler) updateSettings(c *gin.Context) {
	room, ok := roomOf(c)
	if !ok {
		return
	}
	var patch domain.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, domain.ErrBadPayload)
		return
	}
	st, err := h.gw.UpdateSettings(c.Request.Context(), callerOf(c), room, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *MicHandler) requestMic(c *gin.Context) {
	room, ok := roomOf(c)
	if !ok {
		return
	}
	var body struct {
		Slot int `json:"slot"`
	}
	if !bindOptional(c, &body) {
		return
	}
	caller := callerOf(c)
	if h.limiter != nil && !h.limiter.Allow(caller) {
		writeError(c, domain.ErrRateLimited)
		return
	}
	req, err := h.gw.RequestMic(c.Request.Context(), caller, room, body.Slot)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *MicHandler) cancelRequest(c *gin.Context) {
	room, ok := roomOf(c)
	if !ok {
		return
	}
	if err := h.gw.CancelRequest(c.Request.Context(), callerOf(c), room, domain.RequestID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MicHandler) approve(c *gin.Context) {
	room, ok := roomOf(c)
	if !ok {
		return
	}
	var body struct {
		Slot int `json:"slot"`
	}
	if !bindOptional(c, &body) {
		return
	}
	if err := h.gw.ApproveRequest(c.Request.Context(), callerOf(c), room, domain.RequestID(c.Param("id")), body.Slot); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MicHandler) reject(c *gin.Context) {
	room, ok := roomOf(c)
	if !ok {
		return
	}
	if err := h.gw.RejectRequest(c.Request.Context(), callerOf(c), room, domain.RequestID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MicHandler) join(c *gin.Context) {
	key, ok := slotKeyOf(c)
	if !ok {
		return
	}
	var body struct {
		UserID domain.UserID `json:"user_id"`
	}
	if !bindOptional(c, &body) {
		return
	}
	caller := callerOf(c)
	target := body.UserID
	if target == "" {
		target = caller
	}
	slot, err := h.gw.JoinSlot(c.Request.Context(), caller, target, key.RoomID, key.Number)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

func (h *MicHandler) leave(c *gin.Context) {
	key, ok := slotKeyOf(c)
	if !ok {
		return
	}
	if err := h.gw.LeaveSlot(c.Request.Context(), callerOf(c), key); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MicHandler) remove(c *gin.Context) {
	key, ok := slotKeyOf(c)
	if !ok {
		return
	}
	if err := h.gw.RemoveFromMic(c.Request.Context(), callerOf(c), key); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MicHandler) mute(c *gin.Context) {
	key, ok := slotKeyOf(c)
	if !ok {
		return
	}
	var body struct {
		Muted *bool `json:"muted" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, domain.ErrBadPayload)
		return
	}
	if err := h.gw.ToggleModeratorMute(c.Request.Context(), callerOf(c), key, *body.Muted); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MicHandler) lock(c *gin.Context) {
	key, ok := slotKeyOf(c)
	if !ok {
		return
	}
	var body struct {
		Locked *bool `json:"locked" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, domain.ErrBadPayload)
		return
	}
	if err := h.gw.LockSlot(c.Request.Context(), callerOf(c), key, *body.Locked); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
