package signal

import "github.com/dkeye/MicRoom/internal/core"

func (ctl *SignalWSController) handlePing(conn core.SignalConnection) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}
