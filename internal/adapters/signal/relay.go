package signal

import (
	"encoding/json"

	"github.com/dkeye/MicRoom/internal/app/orch"
	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offer/answer/candidate to the named room member.
// Media never passes through the server.
func (ctl *SignalWSController) handleRelay(sid core.SessionID, conn core.SignalConnection, data []byte) {
	var msg orch.PeerSignal
	if err := json.Unmarshal(data, &msg); err != nil {
		ctl.sendError(conn, domain.ErrBadPayload)
		return
	}
	if err := ctl.Orch.Relay(sid, msg); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("to", string(msg.To)).Str("type", msg.Type).Msg("relay failed")
		ctl.sendError(conn, err)
	}
}
