package redisstore

import (
	"fmt"

	"github.com/dkeye/MicRoom/internal/core"
	"github.com/dkeye/MicRoom/internal/domain"
)

const defaultPrefix = "microom:"

type keys struct{ prefix string }

func (k keys) room(room domain.RoomID, part string) string {
	return fmt.Sprintf("%sroom:%s:mic:%s", k.prefix, room, part)
}

func (k keys) settings(room domain.RoomID) string { return k.room(room, "settings") }
func (k keys) slots(room domain.RoomID) string    { return k.room(room, "slots") }
func (k keys) seated(room domain.RoomID) string   { return k.room(room, "seated") }
func (k keys) meta(room domain.RoomID) string     { return k.room(room, "meta") }
func (k keys) locked(room domain.RoomID) string   { return k.room(room, "locked") }
func (k keys) pending(room domain.RoomID) string  { return k.room(room, "pending") }

func (k keys) request(id domain.RequestID) string {
	return fmt.Sprintf("%smic:request:%s", k.prefix, id)
}

func (k keys) channel(room domain.RoomID, s core.Stream) string {
	return fmt.Sprintf("%sroom:%s:mic:events:%s", k.prefix, room, s)
}

func (k keys) roles(room domain.RoomID) string {
	return fmt.Sprintf("%sroom:%s:roles", k.prefix, room)
}

func (k keys) profile(user domain.UserID) string {
	return fmt.Sprintf("%sprofile:%s", k.prefix, user)
}
