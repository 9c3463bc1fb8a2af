package model

import (
	"fmt"
	"time"
)

// EventKind tags a change delivered by the remote stream.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// Event is one remote-origin change. Insert and Update carry the new row in
// Item; Delete carries the old row, which may hold nothing but the id.
type Event struct {
	Kind       EventKind
	Item       Item
	CommitTime time.Time
}

func InsertEvent(it Item) Event { return Event{Kind: EventInsert, Item: it} }
func UpdateEvent(it Item) Event { return Event{Kind: EventUpdate, Item: it} }
func DeleteEvent(id int64) Event {
	return Event{Kind: EventDelete, Item: Item{ID: id}}
}

// Validate rejects events the reconciler cannot apply.
func (e Event) Validate() error {
	switch e.Kind {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Item.ID == 0 {
		return fmt.Errorf("%s event without id", e.Kind)
	}
	return nil
}

func (e Event) String() string {
	return fmt.Sprintf("%s id=%d", e.Kind, e.Item.ID)
}
