package signal

import (
	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
)

func (ctl *SignalWSController) handleWhoAmI(sid core.SessionID, conn core.SignalConnection) {
	user, _ := ctl.Orch.Registry.UserOf(sid)

	resp := struct {
		Type string        `json:"type"`
		User domain.UserID `json:"user"`
		Room domain.RoomID `json:"room,omitempty"`
	}{
		Type: "whoami",
		User: user,
	}
	if roomID, _, ok := ctl.Orch.Registry.RoomOf(sid); ok {
		resp.Room = roomID
	}
	ctl.sendJSON(conn, resp)
}
