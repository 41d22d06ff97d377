package domain

// Member represents one user's participation in a room.
// No transport or lifecycle logic here.
type Member struct {
	User   UserID `json:"userId"`
	Room   RoomID `json:"-"`
	Online bool   `json:"-"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user UserID, room RoomID) *Member {
	return &Member{User: user, Room: room, Online: true}
}
