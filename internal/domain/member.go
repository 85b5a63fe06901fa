package domain

// Member represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	UserID UserID
	RoomID RoomID
}

func NewMember(user UserID) *Member {
	return &Member{UserID: user}
}
