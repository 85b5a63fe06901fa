// Package rtc implements the voice peer transport as a WebRTC mesh. SDP
// and ICE travel over the room signalling channel; media flows directly
// between members.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/MicRoom/internal/app/orch"
	"github.com/dkeye/MicRoom/internal/app/voice"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrForeignLink  = errors.New("rtc: link does not belong to this mesh")
	ErrForeignTrack = errors.New("rtc: track was not opened by this package")
	ErrPeerClosed   = errors.New("rtc: peer connection closed")
)

// Signaller sends a peer signal to another room member.
type Signaller interface {
	SendSignal(msg orch.PeerSignal) error
}

type Options struct {
	ICEServers []string
	// Loopback allows host candidates on the loopback interface.
	Loopback bool
	Sink     Sink
	// OnInbound receives links other members opened towards us.
	OnInbound func(voice.Link)
	// OnClosed fires when an established link goes away.
	OnClosed func(domain.UserID)
}

type Mesh struct {
	self domain.UserID
	api  *webrtc.API
	cfg  webrtc.Configuration
	sig  Signaller
	opts Options

	mu    sync.Mutex
	peers map[domain.UserID]*peerConn
}

var _ voice.PeerTransport = (*Mesh)(nil)

func NewMesh(self domain.UserID, sig Signaller, opts Options) *Mesh {
	se := webrtc.SettingEngine{}
	if opts.Loopback {
		se.SetIncludeLoopbackCandidate(true)
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}
	cfg := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}
	return &Mesh{
		self:  self,
		api:   webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		cfg:   cfg,
		sig:   sig,
		opts:  opts,
		peers: make(map[domain.UserID]*peerConn),
	}
}

// Connect offers to peer and waits until media can flow.
func (m *Mesh) Connect(ctx context.Context, peer domain.UserID) (voice.Link, error) {
	w := newWaiter()
	p, err := m.newPeer(peer, w)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	old := m.peers[peer]
	m.peers[peer] = p
	m.mu.Unlock()
	if old != nil {
		m.replaced(old)
	}

	// A failed offer is fine if a competing offer from peer replaced p.
	if err := p.offer(); err != nil && !p.quiet.Load() {
		m.drop(p)
		return nil, fmt.Errorf("offer to %s: %w", peer, err)
	}

	select {
	case <-w.connected:
		m.mu.Lock()
		cur := m.peers[peer]
		m.mu.Unlock()
		if cur == nil {
			return nil, ErrPeerClosed
		}
		return cur, nil
	case err := <-w.failed:
		m.dropPeer(peer, w)
		return nil, err
	case <-ctx.Done():
		m.dropPeer(peer, w)
		return nil, ctx.Err()
	}
}

func (m *Mesh) Disconnect(link voice.Link) error {
	p, ok := link.(*peerConn)
	if !ok {
		return ErrForeignLink
	}
	m.drop(p)
	return nil
}

func (m *Mesh) Publish(link voice.Link, track voice.AudioTrack) error {
	p, ok := link.(*peerConn)
	if !ok {
		return ErrForeignLink
	}
	if track == nil {
		return p.sender.ReplaceTrack(nil)
	}
	ct, ok := track.(*CaptureTrack)
	if !ok {
		return ErrForeignTrack
	}
	return p.sender.ReplaceTrack(ct.Local())
}

func (m *Mesh) SetMuted(link voice.Link, muted bool) error {
	p, ok := link.(*peerConn)
	if !ok {
		return ErrForeignLink
	}
	p.gate.SetMuted(muted)
	return nil
}

// HandleSignal applies an offer, answer or candidate from another member.
func (m *Mesh) HandleSignal(msg orch.PeerSignal) {
	if msg.To != m.self || msg.From == "" {
		return
	}
	var err error
	switch msg.Type {
	case orch.TypeOffer:
		err = m.onOffer(msg)
	case orch.TypeAnswer:
		err = m.onAnswer(msg)
	case orch.TypeCandidate:
		err = m.onCandidate(msg)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("peer", string(msg.From)).Str("type", msg.Type).Msg("signal rejected")
	}
}

// onOffer answers an offer. When both sides offered at once the larger
// user ID yields: it drops its own offer and answers, and the answering
// connection completes its pending Connect. The smaller ID ignores the
// competing offer. Any other connection still coming up hands its
// pending Connect over to the answering one.
func (m *Mesh) onOffer(msg orch.PeerSignal) error {
	m.mu.Lock()
	existing := m.peers[msg.From]
	var w *waiter
	if existing != nil && !existing.up.Load() {
		if existing.outbound && !existing.remoteSet() && m.self < msg.From {
			m.mu.Unlock()
			return nil
		}
		w = existing.waiter
	}
	delete(m.peers, msg.From)
	m.mu.Unlock()
	if existing != nil {
		m.replaced(existing)
	}

	p, err := m.newPeer(msg.From, w)
	if err != nil {
		return err
	}
	p.outbound = false
	p.inbound = w == nil
	m.mu.Lock()
	m.peers[msg.From] = p
	m.mu.Unlock()
	if err := p.answer(msg.SDP); err != nil {
		m.drop(p)
		return err
	}
	return nil
}

func (m *Mesh) onAnswer(msg orch.PeerSignal) error {
	p := m.peer(msg.From)
	if p == nil || !p.outbound {
		return fmt.Errorf("unexpected answer from %s", msg.From)
	}
	return p.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP})
}

func (m *Mesh) onCandidate(msg orch.PeerSignal) error {
	p := m.peer(msg.From)
	if p == nil {
		return nil
	}
	ci := webrtc.ICECandidateInit{Candidate: msg.Candidate, SDPMid: msg.SDPMid, SDPMLineIndex: msg.SDPMLineIndex}
	return p.addCandidate(ci)
}

func (m *Mesh) peer(id domain.UserID) *peerConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peers[id]
}

func (m *Mesh) drop(p *peerConn) {
	m.mu.Lock()
	if m.peers[p.peer] == p {
		delete(m.peers, p.peer)
	}
	m.mu.Unlock()
	p.closeQuiet()
}

// dropPeer removes whatever connection currently serves waiter w.
func (m *Mesh) dropPeer(peer domain.UserID, w *waiter) {
	m.mu.Lock()
	p := m.peers[peer]
	if p != nil && p.waiter == w {
		delete(m.peers, peer)
	} else {
		p = nil
	}
	m.mu.Unlock()
	if p != nil {
		p.closeQuiet()
	}
}

// replaced closes a connection superseded by a new one for the same peer.
// An established one is reported closed so its owner can let go of it.
func (m *Mesh) replaced(old *peerConn) {
	wasUp := old.up.Load()
	old.closeQuiet()
	if wasUp && m.opts.OnClosed != nil {
		m.opts.OnClosed(old.peer)
	}
}

// onPeerClosed is called from the pion callback of an established link.
func (m *Mesh) onPeerClosed(p *peerConn) {
	m.mu.Lock()
	current := m.peers[p.peer] == p
	if current {
		delete(m.peers, p.peer)
	}
	m.mu.Unlock()
	if current && m.opts.OnClosed != nil {
		m.opts.OnClosed(p.peer)
	}
}

// Peers lists users with a live connection.
func (m *Mesh) Peers() []domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UserID, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}

func (m *Mesh) Close() {
	m.mu.Lock()
	all := make([]*peerConn, 0, len(m.peers))
	for id, p := range m.peers {
		all = append(all, p)
		delete(m.peers, id)
	}
	m.mu.Unlock()
	for _, p := range all {
		p.closeQuiet()
	}
}
