package voice

import (
	"sort"
	"sync"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
)

// SourceMute is the replicated moderator mute, read from a snapshot.
// It silences a speaker for every listener.
type SourceMute struct {
	muted map[domain.UserID]bool
}

func SourceMuteFrom(snap core.Snapshot) SourceMute {
	m := make(map[domain.UserID]bool)
	for _, s := range snap.Occupants() {
		if s.ModeratorMuted {
			m[s.UserID] = true
		}
	}
	return SourceMute{muted: m}
}

func (s SourceMute) Muted(user domain.UserID) bool { return s.muted[user] }

// LocalRenderFilter is this client's private mute list. It is never persisted.
type LocalRenderFilter struct {
	mu    sync.RWMutex
	users map[domain.UserID]struct{}
}

func NewLocalRenderFilter() *LocalRenderFilter {
	return &LocalRenderFilter{users: make(map[domain.UserID]struct{})}
}

func (f *LocalRenderFilter) Mute(user domain.UserID) {
	f.mu.Lock()
	f.users[user] = struct{}{}
	f.mu.Unlock()
}

func (f *LocalRenderFilter) Unmute(user domain.UserID) {
	f.mu.Lock()
	delete(f.users, user)
	f.mu.Unlock()
}

func (f *LocalRenderFilter) Muted(user domain.UserID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.users[user]
	return ok
}

func (f *LocalRenderFilter) List() []domain.UserID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.UserID, 0, len(f.users))
	for u := range f.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Audible evaluates both authorities independently.
func Audible(src SourceMute, local *LocalRenderFilter, peer domain.UserID) bool {
	return !src.Muted(peer) && !local.Muted(peer)
}
