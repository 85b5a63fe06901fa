package voice

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Backoff bounds connect retries for one link.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	MaxElapsed time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: 250 * time.Millisecond, Max: 5 * time.Second, MaxElapsed: 30 * time.Second}
}

func (b Backoff) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	eb.MaxInterval = b.Max
	eb.MaxElapsedTime = b.MaxElapsed
	return backoff.WithContext(eb, ctx)
}

type LinkStatus struct {
	Peer        domain.UserID `json:"peer"`
	State       string        `json:"state"`
	SourceMuted bool          `json:"source_muted"`
	LocalMuted  bool          `json:"local_muted"`
	Err         string        `json:"error,omitempty"`
}

type Status struct {
	Seated     bool         `json:"seated"`
	Capture    string       `json:"capture"`
	CaptureErr string       `json:"capture_error,omitempty"`
	Links      []LinkStatus `json:"links"`
}

// peerLink tracks one remote occupancy. A new occupancy of the same user
// gets a new peerLink.
type peerLink struct {
	peer   domain.UserID
	since  time.Time
	state  LinkState
	link   Link
	cancel context.CancelFunc
	err    error
}

// Manager owns the local link set. All mutation happens under mu.
type Manager struct {
	self      domain.UserID
	transport PeerTransport
	capture   CaptureDevice
	backoff   Backoff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	links      map[domain.UserID]*peerLink
	audience   map[domain.UserID]Link
	local      *LocalRenderFilter
	source     SourceMute
	track      AudioTrack
	seated     bool
	selfMuted  bool
	captureErr error
	closed     bool
}

func NewManager(self domain.UserID, transport PeerTransport, capture CaptureDevice, bo Backoff) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		self:      self,
		transport: transport,
		capture:   capture,
		backoff:   bo,
		ctx:       ctx,
		cancel:    cancel,
		links:     make(map[domain.UserID]*peerLink),
		audience:  make(map[domain.UserID]Link),
		local:     NewLocalRenderFilter(),
	}
}

func (m *Manager) Self() domain.UserID { return m.self }

// Apply reconciles links and capture with snap.
func (m *Manager) Apply(snap core.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.source = SourceMuteFrom(snap)

	want := make(map[domain.UserID]domain.MicSlot)
	var mine *domain.MicSlot
	for _, s := range snap.Occupants() {
		if s.UserID == m.self {
			s := s
			mine = &s
			continue
		}
		want[s.UserID] = s
	}

	for peer, pl := range m.links {
		s, ok := want[peer]
		if !ok || !s.OccupiedSince.Equal(pl.since) {
			m.teardownLocked(pl)
		}
	}
	for peer, s := range want {
		if _, ok := m.links[peer]; ok {
			continue
		}
		pl := &peerLink{peer: peer, since: s.OccupiedSince, state: Connecting}
		m.links[peer] = pl
		m.connectLocked(pl)
	}
	for _, pl := range m.links {
		m.renderLocked(pl)
	}

	switch {
	case mine != nil && !m.seated:
		m.seated = true
		m.selfMuted = mine.ModeratorMuted
		m.openCaptureLocked()
	case mine == nil && m.seated:
		m.seated = false
		m.selfMuted = false
		m.closeCaptureLocked()
	case mine != nil:
		m.selfMuted = mine.ModeratorMuted
		if m.track != nil {
			m.track.SetEnabled(!m.selfMuted)
		}
	}
}

func (m *Manager) connectLocked(pl *peerLink) {
	ctx, cancel := context.WithCancel(m.ctx)
	pl.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		link, err := backoff.RetryWithData(func() (Link, error) {
			return m.transport.Connect(ctx, pl.peer)
		}, m.backoff.policy(ctx))
		m.onConnected(pl, link, err)
	}()
}

func (m *Manager) onConnected(pl *peerLink, link Link, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[pl.peer] != pl || pl.state != Connecting {
		// Torn down while connecting.
		if link != nil {
			m.disconnect(link)
		}
		return
	}
	if err != nil {
		pl.state = Failed
		pl.err = fmt.Errorf("%w: %v", domain.ErrTransport, err)
		log.Warn().Err(err).Str("module", "app.voice").Str("peer", string(pl.peer)).Msg("cannot hear this speaker")
		return
	}
	pl.link = link
	pl.state = Linked
	if m.track != nil {
		if err := m.transport.Publish(link, m.track); err != nil {
			log.Warn().Err(err).Str("module", "app.voice").Str("peer", string(pl.peer)).Msg("publish to link failed")
		}
	}
	m.renderLocked(pl)
	log.Info().Str("module", "app.voice").Str("peer", string(pl.peer)).Str("state", pl.state.String()).Msg("link up")
}

// renderLocked applies both mute authorities to one established link.
func (m *Manager) renderLocked(pl *peerLink) {
	if pl.link == nil || (pl.state != Linked && pl.state != Muted) {
		return
	}
	muted := !Audible(m.source, m.local, pl.peer)
	if (pl.state == Muted) == muted {
		return
	}
	if err := m.transport.SetMuted(pl.link, muted); err != nil {
		log.Warn().Err(err).Str("module", "app.voice").Str("peer", string(pl.peer)).Msg("set render mute failed")
		return
	}
	if muted {
		pl.state = Muted
	} else {
		pl.state = Linked
	}
}

func (m *Manager) teardownLocked(pl *peerLink) {
	if pl.cancel != nil {
		pl.cancel()
	}
	if pl.link != nil {
		m.disconnect(pl.link)
	}
	pl.state = TornDown
	delete(m.links, pl.peer)
	log.Info().Str("module", "app.voice").Str("peer", string(pl.peer)).Msg("link torn down")
}

func (m *Manager) disconnect(link Link) {
	if err := m.transport.Disconnect(link); err != nil {
		log.Warn().Err(err).Str("module", "app.voice").Str("peer", string(link.Peer())).Msg("disconnect failed")
	}
}

func (m *Manager) openCaptureLocked() {
	track, err := m.capture.Open(m.ctx)
	if err != nil {
		m.captureErr = fmt.Errorf("%w: %v", domain.ErrMicUnavailable, err)
		log.Warn().Err(err).Str("module", "app.voice").Msg("microphone unavailable, staying seated")
		return
	}
	m.captureErr = nil
	m.track = track
	track.SetEnabled(!m.selfMuted)
	for _, link := range m.publishTargetsLocked() {
		if err := m.transport.Publish(link, track); err != nil {
			log.Warn().Err(err).Str("module", "app.voice").Str("peer", string(link.Peer())).Msg("publish to link failed")
		}
	}
}

func (m *Manager) closeCaptureLocked() {
	m.captureErr = nil
	if m.track == nil {
		return
	}
	for _, link := range m.publishTargetsLocked() {
		if err := m.transport.Publish(link, nil); err != nil {
			log.Warn().Err(err).Str("module", "app.voice").Str("peer", string(link.Peer())).Msg("unpublish failed")
		}
	}
	if err := m.track.Close(); err != nil {
		log.Warn().Err(err).Str("module", "app.voice").Msg("close capture failed")
	}
	m.track = nil
}

// publishTargetsLocked lists every link our audio should reach: links to
// other speakers and inbound links from listeners.
func (m *Manager) publishTargetsLocked() []Link {
	out := make([]Link, 0, len(m.links)+len(m.audience))
	for _, pl := range m.links {
		if pl.link != nil {
			out = append(out, pl.link)
		}
	}
	for peer, l := range m.audience {
		if _, dup := m.links[peer]; !dup {
			out = append(out, l)
		}
	}
	return out
}

// RetryCapture reopens the microphone after a MicUnavailable failure.
func (m *Manager) RetryCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.seated || m.track != nil {
		return nil
	}
	m.openCaptureLocked()
	return m.captureErr
}

// Accept registers a link a listener opened towards us, so our audio
// reaches them while we are seated.
func (m *Manager) Accept(link Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.audience[link.Peer()] = link
	if m.track != nil {
		if err := m.transport.Publish(link, m.track); err != nil {
			log.Warn().Err(err).Str("module", "app.voice").Str("peer", string(link.Peer())).Msg("publish to listener failed")
		}
	}
}

// Forget drops an inbound link after the transport closed it.
func (m *Manager) Forget(peer domain.UserID) {
	m.mu.Lock()
	delete(m.audience, peer)
	m.mu.Unlock()
}

// MuteLocal silences peer for this client only.
func (m *Manager) MuteLocal(peer domain.UserID) { m.setLocal(peer, true) }

func (m *Manager) UnmuteLocal(peer domain.UserID) { m.setLocal(peer, false) }

func (m *Manager) setLocal(peer domain.UserID, muted bool) {
	if muted {
		m.local.Mute(peer)
	} else {
		m.local.Unmute(peer)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if pl, ok := m.links[peer]; ok {
		m.renderLocked(pl)
	}
}

// Audible reports whether peer is currently rendered by this client.
func (m *Manager) Audible(peer domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pl, ok := m.links[peer]
	return ok && pl.state == Linked && Audible(m.source, m.local, peer)
}

func (m *Manager) LinkState(peer domain.UserID) LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pl, ok := m.links[peer]; ok {
		return pl.state
	}
	return NoLink
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Seated: m.seated, Capture: m.captureStateLocked().String()}
	if m.captureErr != nil {
		st.CaptureErr = m.captureErr.Error()
	}
	for _, pl := range m.links {
		ls := LinkStatus{
			Peer:        pl.peer,
			State:       pl.state.String(),
			SourceMuted: m.source.Muted(pl.peer),
			LocalMuted:  m.local.Muted(pl.peer),
		}
		if pl.err != nil {
			ls.Err = pl.err.Error()
		}
		st.Links = append(st.Links, ls)
	}
	sort.Slice(st.Links, func(i, j int) bool { return st.Links[i].Peer < st.Links[j].Peer })
	return st
}

func (m *Manager) captureStateLocked() CaptureState {
	switch {
	case m.captureErr != nil:
		return CaptureUnavailable
	case m.track == nil:
		return CaptureOff
	case m.selfMuted:
		return CaptureSilenced
	default:
		return CaptureLive
	}
}

// Close tears down every link and the capture track.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancel()
	for _, pl := range m.links {
		m.teardownLocked(pl)
	}
	m.closeCaptureLocked()
	m.seated = false
	m.audience = make(map[domain.UserID]Link)
	m.mu.Unlock()
	m.wg.Wait()
}
