package core

import "github.com/dkeye/MicRoom/internal/domain"

type SessionID string

// MemberSession binds domain.Member and its signalling endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
	UpdateSignal(SignalConnection) MemberSession
}
