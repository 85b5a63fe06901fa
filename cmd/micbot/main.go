// Command micbot is a headless room participant. It joins a room over the
// signalling websocket, follows mic_state pushes and keeps voice links to
// every seated speaker, sending silence when it holds a seat itself.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	router "github.com/dkeye/MicRoom/internal/adapters/http"
	"github.com/dkeye/MicRoom/internal/adapters/rtc"
	"github.com/dkeye/MicRoom/internal/app/voice"
	"github.com/dkeye/MicRoom/internal/config"
	"github.com/dkeye/MicRoom/internal/domain"
)

func main() {
	server := pflag.String("server", "ws://127.0.0.1:8080", "server base URL")
	roomFlag := pflag.String("room", "lobby", "room to join")
	userFlag := pflag.String("user", "micbot", "user id to sign the token for")
	request := pflag.Bool("request-mic", false, "ask for a seat after joining")
	slot := pflag.Int("slot", 0, "preferred slot for --request-mic")
	every := pflag.Duration("status-every", 10*time.Second, "status log period")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	room, err := domain.ParseRoomID(*roomFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("bad room")
	}
	self := domain.UserID(*userFlag)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	token, err := router.IssueToken([]byte(cfg.Secret), self, 24*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("issue token")
	}
	u, err := url.Parse(*server + "/api/ws/signal")
	if err != nil {
		log.Fatal().Err(err).Msg("bad server url")
	}
	u.RawQuery = url.Values{"token": {token}}.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", *server).Msg("dial")
	}
	c := newClient(ws)
	defer c.Close()

	sink := newCountingSink()
	var mgr *voice.Manager
	mesh := rtc.NewMesh(self, c, rtc.Options{
		ICEServers: cfg.Voice.ICEServers,
		Sink:       sink,
		OnInbound:  func(l voice.Link) { mgr.Accept(l) },
		OnClosed:   func(p domain.UserID) { mgr.Forget(p) },
	})
	defer mesh.Close()
	mgr = voice.NewManager(self, mesh, rtc.SilenceCapture{StreamID: string(self)}, voice.Backoff{
		Initial:    cfg.Voice.ConnectInitialInterval,
		Max:        cfg.Voice.ConnectMaxInterval,
		MaxElapsed: cfg.Voice.ConnectMaxElapsed,
	})
	defer mgr.Close()

	go c.dispatchSignals(ctx, mesh)
	go func() {
		c.readLoop(mgr)
		cancel()
	}()

	if err := c.send(map[string]any{"type": "join", "room": string(room)}); err != nil {
		log.Fatal().Err(err).Msg("join")
	}
	if *request {
		if err := c.send(map[string]any{"type": "mic", "op": "request", "slot": *slot}); err != nil {
			log.Fatal().Err(err).Msg("request mic")
		}
	}
	log.Info().Str("user", string(self)).Str("room", string(room)).Msg("micbot running")

	tick := time.NewTicker(*every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("micbot stopped")
			return
		case <-tick.C:
			st := mgr.Status()
			ev := log.Info().Bool("seated", st.Seated).Str("capture", st.Capture).Int("links", len(st.Links))
			for _, l := range st.Links {
				ev = ev.Str(string(l.Peer), fmt.Sprintf("%s rx=%d", l.State, sink.from(string(l.Peer))))
			}
			ev.Msg("status")
		}
	}
}
