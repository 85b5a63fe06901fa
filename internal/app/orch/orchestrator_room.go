package orch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join moves sid into room, leaving its previous room first. The member
// gets the latest mic state right away if the bridge already has one.
func (o *Orchestrator) Join(sid core.SessionID, roomID domain.RoomID) bool {
	if prev, _, ok := o.Registry.RoomOf(sid); ok {
		if prev == roomID {
			return true
		}
		o.KickBySID(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(prev)).Msg("left previous room")
	}
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return false
	}
	room := o.Rooms.GetOrCreate(roomID)
	room.AddMember(sid, session)
	o.Registry.UpdateRoom(sid, roomID)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("added to room")

	b := o.ensureBridge(roomID)
	if u, ok := b.Latest(); ok {
		if frame, err := o.micStateFrame(o.ctx, u); err == nil {
			if sc := session.Signal(); sc != nil {
				_ = sc.TrySend(frame)
			}
		}
	}
	return true
}

// KickBySID removes sid from its room. The user's mic slot is released
// once no other session of the same user remains in that room.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	user, _ := o.Registry.UserOf(sid)
	if room, ok := o.Rooms.Get(roomID); ok {
		room.RemoveMember(sid)
	}
	o.Registry.RemoveRoom(sid)

	remaining := o.Registry.MembersOfRoom(roomID)
	stillHere := false
	for _, m := range remaining {
		if m.User == user {
			stillHere = true
			break
		}
	}
	if !stillHere {
		o.releaseSeat(user, roomID)
	}
	if len(remaining) == 0 {
		o.EvictRoom(roomID)
	}
}

func (o *Orchestrator) releaseSeat(user domain.UserID, roomID domain.RoomID) {
	o.mu.Lock()
	rb, ok := o.bridges[roomID]
	o.mu.Unlock()
	if !ok {
		return
	}
	u, ok := rb.bridge.Latest()
	if !ok {
		return
	}
	slot, seated := u.Snapshot.SlotOf(user)
	if !seated {
		return
	}
	ctx, cancel := context.WithTimeout(o.ctx, 5*time.Second)
	defer cancel()
	if err := o.Mic.LeaveSlot(ctx, user, slot.Key); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("user", string(user)).Str("slot", slot.Key.String()).Msg("release seat on leave failed")
	}
}

// OnDisconnect is called by the transport once the session is gone.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.KickBySID(sid)
	o.Registry.Unbind(sid)
}

// EvictRoom drops every member of the room and stops its bridge.
func (o *Orchestrator) EvictRoom(roomID domain.RoomID) {
	for _, snap := range o.Registry.MembersOfRoom(roomID) {
		if room, ok := o.Rooms.Get(roomID); ok {
			room.RemoveMember(snap.SID)
		}
		o.Registry.RemoveRoom(snap.SID)
	}
	o.Rooms.StopRoom(roomID)
	o.stopBridge(roomID)
}

// Relay forwards an SDP or ICE message to a member of the sender's room.
func (o *Orchestrator) Relay(sid core.SessionID, msg PeerSignal) error {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return domain.ErrNotFound
	}
	from, _ := o.Registry.UserOf(sid)
	if msg.To == from || !msg.Valid() {
		return domain.ErrInvalidSignal
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return domain.ErrNotFound
	}
	msg.From = from
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	delivered, err := room.SendTo(msg.To, frame)
	if err != nil {
		return err
	}
	if !delivered {
		return domain.ErrNotFound
	}
	return nil
}
