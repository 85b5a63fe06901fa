package rtc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/MicRoom/internal/app/orch"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const gatherTimeout = 10 * time.Second

// waiter is completed by whichever connection ends up serving a Connect call.
type waiter struct {
	connected chan struct{}
	failed    chan error
	once      sync.Once
}

func newWaiter() *waiter {
	return &waiter{connected: make(chan struct{}), failed: make(chan error, 1)}
}

func (w *waiter) succeed() { w.once.Do(func() { close(w.connected) }) }

func (w *waiter) fail(err error) { w.once.Do(func() { w.failed <- err }) }

type peerConn struct {
	mesh   *Mesh
	peer   domain.UserID
	pc     *webrtc.PeerConnection
	sender *webrtc.RTPSender
	gate   *PlayoutGate
	waiter *waiter

	outbound bool
	inbound  bool

	mu      sync.Mutex
	remote  bool
	pending []webrtc.ICECandidateInit

	quiet atomic.Bool
	up    atomic.Bool
}

func (p *peerConn) Peer() domain.UserID { return p.peer }

func (m *Mesh) newPeer(peer domain.UserID, w *waiter) (*peerConn, error) {
	pc, err := m.api.NewPeerConnection(m.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	tr, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}
	p := &peerConn{
		mesh:     m,
		peer:     peer,
		pc:       pc,
		sender:   tr.Sender(),
		gate:     NewPlayoutGate(string(peer), m.opts.Sink),
		waiter:   w,
		outbound: w != nil,
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(peer)).Str("peer_connection_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if !p.up.CompareAndSwap(false, true) {
				return
			}
			if p.waiter != nil {
				p.waiter.succeed()
			} else if p.inbound && m.opts.OnInbound != nil {
				m.opts.OnInbound(p)
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.gate.Close()
			if p.quiet.Load() {
				return
			}
			if p.waiter != nil {
				p.waiter.fail(fmt.Errorf("%w: %s", ErrPeerClosed, s))
			}
			if p.up.Load() {
				m.onPeerClosed(p)
			}
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		go p.readLoop(track)
	})
	return p, nil
}

func (p *peerConn) readLoop(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if !p.gate.Forward(pkt) {
			return
		}
	}
}

// localSDP sets desc and waits for candidate gathering, so the SDP sent
// to the peer already carries our candidates.
func (p *peerConn) localSDP(desc webrtc.SessionDescription) (string, error) {
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return "", err
	}
	select {
	case <-gathered:
	case <-time.After(gatherTimeout):
		log.Warn().Str("module", "rtc").Str("peer", string(p.peer)).Msg("ICE gathering timed out, sending partial candidates")
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *peerConn) offer() error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	sdp, err := p.localSDP(offer)
	if err != nil {
		return err
	}
	return p.mesh.sig.SendSignal(orch.PeerSignal{Type: orch.TypeOffer, To: p.peer, SDP: sdp})
}

func (p *peerConn) answer(offerSDP string) error {
	if err := p.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	sdp, err := p.localSDP(answer)
	if err != nil {
		return err
	}
	return p.mesh.sig.SendSignal(orch.PeerSignal{Type: orch.TypeAnswer, To: p.peer, SDP: sdp})
}

func (p *peerConn) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = true
	for _, ci := range p.pending {
		if err := p.pc.AddICECandidate(ci); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("peer", string(p.peer)).Msg("add buffered candidate")
		}
	}
	p.pending = nil
	return nil
}

func (p *peerConn) remoteSet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

// addCandidate buffers candidates that arrive before the remote description.
func (p *peerConn) addCandidate(ci webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.remote {
		p.pending = append(p.pending, ci)
		return nil
	}
	return p.pc.AddICECandidate(ci)
}

// closeQuiet closes without reporting the link as lost.
func (p *peerConn) closeQuiet() {
	p.quiet.Store(true)
	p.gate.Close()
	if err := p.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(p.peer)).Msg("close error")
	}
}
