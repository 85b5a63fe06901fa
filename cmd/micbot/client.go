package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MicRoom/internal/adapters/rtc"
	"github.com/dkeye/MicRoom/internal/app/orch"
	"github.com/dkeye/MicRoom/internal/app/voice"
)

// client owns the signalling socket. Peer signals are handed to the mesh
// on their own goroutine so offer handling never stalls mic_state reads.
type client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	signals chan orch.PeerSignal
}

func newClient(ws *websocket.Conn) *client {
	return &client{ws: ws, signals: make(chan orch.PeerSignal, 64)}
}

func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *client) SendSignal(msg orch.PeerSignal) error { return c.send(msg) }

func (c *client) Close() {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	_ = c.ws.Close()
}

func (c *client) readLoop(mgr *voice.Manager) {
	defer close(c.signals)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("module", "micbot").Msg("signal socket closed")
			return
		}
		var env struct {
			Type    string `json:"type"`
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case orch.TypeMicState:
			var st orch.MicState
			if err := json.Unmarshal(data, &st); err != nil {
				log.Warn().Err(err).Str("module", "micbot").Msg("bad mic_state")
				continue
			}
			mgr.Apply(st.Snapshot)
		case orch.TypeOffer, orch.TypeAnswer, orch.TypeCandidate:
			var msg orch.PeerSignal
			if err := json.Unmarshal(data, &msg); err == nil {
				c.signals <- msg
			}
		case "error":
			log.Warn().Str("module", "micbot").Str("code", env.Error).Msg(env.Message)
		default:
			log.Debug().Str("module", "micbot").Str("type", env.Type).RawJSON("msg", data).Msg("signal")
		}
	}
}

func (c *client) dispatchSignals(ctx context.Context, mesh *rtc.Mesh) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.signals:
			if !ok {
				return
			}
			mesh.HandleSignal(msg)
		}
	}
}

// countingSink stands in for an audio device.
type countingSink struct {
	mu sync.Mutex
	n  map[string]int
}

func newCountingSink() *countingSink { return &countingSink{n: make(map[string]int)} }

func (s *countingSink) WriteRTP(peer string, _ *rtp.Packet) error {
	s.mu.Lock()
	s.n[peer]++
	s.mu.Unlock()
	return nil
}

func (s *countingSink) from(peer string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n[peer]
}
