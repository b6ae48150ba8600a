package models

import "time"

// EventKind classifies a change on the habit table.
type EventKind int

const (
	// EventUnknown is any change the client does not recognize.
	EventUnknown EventKind = iota
	// EventCreated means a row was inserted.
	EventCreated
	// EventUpdated means a row was modified.
	EventUpdated
	// EventDeleted means a row was removed.
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ChangeEvent is a push notification describing a change on the habit
// table. It is transient: the client only uses it to trigger a refresh.
type ChangeEvent struct {
	// Kind is the classified change, EventUnknown until classified.
	Kind EventKind
	// Events holds the raw kind tags as delivered by the gateway,
	// e.g. "databases.main.tables.habits.rows.42.create".
	Events []string
	// Channels the event was delivered on.
	Channels []string
	// Row is the habit-shaped payload, nil when the gateway sent none.
	Row *Habit
	// OwnerID is the payload's user_id.
	OwnerID string
	// HasOwner reports whether the payload carried a user_id at all.
	HasOwner bool
	// Timestamp is the delivery time reported by the gateway.
	Timestamp time.Time
}
