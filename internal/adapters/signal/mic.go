package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/rs/zerolog/log"
)

const micOpTimeout = 5 * time.Second

type micPayload struct {
	Op        string               `json:"op"`
	Slot      int                  `json:"slot"`
	RequestID domain.RequestID     `json:"request_id"`
	UserID    domain.UserID        `json:"user_id"`
	Muted     bool                 `json:"muted"`
	Locked    bool                 `json:"locked"`
	Settings  domain.SettingsPatch `json:"settings"`
}

type micResult struct {
	Type     string                  `json:"type"`
	Op       string                  `json:"op"`
	OK       bool                    `json:"ok"`
	Error    string                  `json:"error,omitempty"`
	Message  string                  `json:"message,omitempty"`
	Request  *domain.MicRequest      `json:"request,omitempty"`
	Slot     *domain.MicSlot         `json:"slot,omitempty"`
	Settings *domain.RoomMicSettings `json:"settings,omitempty"`
}

func (ctl *SignalWSController) handleMic(ctx context.Context, sid core.SessionID, conn core.SignalConnection, data []byte) {
	var p micPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, domain.ErrBadPayload)
		return
	}
	res := micResult{Type: "mic_result", Op: p.Op}
	roomID, _, ok := ctl.Orch.Registry.RoomOf(sid)
	if !ok {
		ctl.sendJSON(conn, res.fail(domain.ErrNotInRoom))
		return
	}
	user, _ := ctl.Orch.Registry.UserOf(sid)

	ctx, cancel := context.WithTimeout(ctx, micOpTimeout)
	defer cancel()
	if err := ctl.runMicOp(ctx, user, roomID, p, &res); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("op", p.Op).Str("user", string(user)).Msg("mic op rejected")
		ctl.sendJSON(conn, res.fail(err))
		return
	}
	res.OK = true
	ctl.sendJSON(conn, res)
}

func (r micResult) fail(err error) micResult {
	r.OK = false
	r.Error = domain.CodeOf(err)
	r.Message = err.Error()
	return r
}

func (ctl *SignalWSController) runMicOp(ctx context.Context, user domain.UserID, roomID domain.RoomID, p micPayload, res *micResult) error {
	gw := ctl.Orch.Mic
	key := domain.SlotKey{RoomID: roomID, Number: p.Slot}

	switch p.Op {
	case "request":
		if ctl.Limiter != nil && !ctl.Limiter.Allow(user) {
			return domain.ErrRateLimited
		}
		req, err := gw.RequestMic(ctx, user, roomID, p.Slot)
		if err != nil {
			return err
		}
		res.Request = &req
	case "cancel":
		return gw.CancelRequest(ctx, user, roomID, p.RequestID)
	case "join":
		target := p.UserID
		if target == "" {
			target = user
		}
		slot, err := gw.JoinSlot(ctx, user, target, roomID, p.Slot)
		if err != nil {
			return err
		}
		res.Slot = &slot
	case "leave":
		if p.Slot == 0 {
			snap, err := gw.Snapshot(ctx, roomID)
			if err != nil {
				return err
			}
			mine, ok := snap.SlotOf(user)
			if !ok {
				return nil
			}
			key = mine.Key
		}
		return gw.LeaveSlot(ctx, user, key)
	case "approve":
		return gw.ApproveRequest(ctx, user, roomID, p.RequestID, p.Slot)
	case "reject":
		return gw.RejectRequest(ctx, user, roomID, p.RequestID)
	case "remove":
		return gw.RemoveFromMic(ctx, user, key)
	case "mute":
		return gw.ToggleModeratorMute(ctx, user, key, p.Muted)
	case "lock":
		return gw.LockSlot(ctx, user, key, p.Locked)
	case "settings":
		st, err := gw.UpdateSettings(ctx, user, roomID, p.Settings)
		if err != nil {
			return err
		}
		res.Settings = &st
	default:
		return domain.ErrBadPayload
	}
	return nil
}
