package signal

import (
	"encoding/json"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/rs/zerolog/log"
)

type memberEvent struct {
	Type string        `json:"type"`
	User domain.UserID `json:"user"`
}

type roomState struct {
	Type    string           `json:"type"`
	Room    domain.RoomID    `json:"room"`
	Self    domain.UserID    `json:"self"`
	Members []core.MemberDTO `json:"members"`
	Count   int              `json:"count"`
}

func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn core.SignalConnection, data []byte) {
	var p struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, domain.ErrBadPayload)
		return
	}
	roomID, err := domain.ParseRoomID(p.Room)
	if err != nil {
		ctl.sendError(conn, err)
		return
	}
	user, _ := ctl.Orch.Registry.UserOf(sid)

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Msg("join")
	if !ctl.Orch.Join(sid, roomID) {
		ctl.sendError(conn, domain.ErrNotFound)
		return
	}
	room, ok := ctl.Orch.Rooms.Get(roomID)
	if !ok {
		ctl.sendError(conn, domain.ErrNotFound)
		return
	}
	ctl.sendJSON(conn, roomState{
		Type:    "room_state",
		Room:    roomID,
		Self:    user,
		Members: room.MembersSnapshot(),
		Count:   room.MemberCount(),
	})
	ctl.BroadcastRoom(roomID, sid, memberEvent{Type: "member_joined", User: user})
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID, conn core.SignalConnection) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	roomID, _, ok := ctl.Orch.Registry.RoomOf(sid)
	user, _ := ctl.Orch.Registry.UserOf(sid)

	ctl.Orch.KickBySID(sid)
	ctl.sendJSON(conn, map[string]any{"type": "left"})

	if ok {
		ctl.BroadcastRoom(roomID, sid, memberEvent{Type: "member_left", User: user})
	}
}
