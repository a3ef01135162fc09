package domain

const (
	EventNameRoomChanged     = "room.changed"
	EventNamePlayerChanged   = "player.changed"
	EventNameAnswerSubmitted = "answer.submitted"
)

// ChangeKind tags a record-change event.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
)

type EventRoomChanged struct {
	Kind   ChangeKind
	Before *Room
	After  *Room
}

func (EventRoomChanged) Name() string { return EventNameRoomChanged }

// RoomID returns the identity of the changed room regardless of change kind.
func (e EventRoomChanged) RoomID() string {
	if e.After != nil {
		return e.After.RoomID
	}
	if e.Before != nil {
		return e.Before.RoomID
	}
	return ""
}

type EventPlayerChanged struct {
	Kind   ChangeKind
	Before *Player
	After  *Player
}

func (EventPlayerChanged) Name() string { return EventNamePlayerChanged }

func (e EventPlayerChanged) RoomID() string {
	if e.After != nil {
		return e.After.RoomID
	}
	if e.Before != nil {
		return e.Before.RoomID
	}
	return ""
}

type EventAnswerSubmitted struct {
	RoomID string
	Answer Answer
}

func (EventAnswerSubmitted) Name() string { return EventNameAnswerSubmitted }
