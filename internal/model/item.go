package model

// Item is one row of the remote todos table.
// ID is assigned by the remote side and never changes.
type Item struct {
	ID         int64     `json:"id"`
	Task       string    `json:"task"`
	IsComplete bool      `json:"is_complete"`
	InsertedAt Timestamp `json:"inserted_at"`
}

// NewItem is the body of an insert; the remote side fills id and inserted_at.
type NewItem struct {
	Task       string `json:"task"`
	IsComplete bool   `json:"is_complete"`
}

// Patch carries the fields of an update. Nil fields are left untouched.
type Patch struct {
	Task       *string `json:"task,omitempty"`
	IsComplete *bool   `json:"is_complete,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool { return p.Task == nil && p.IsComplete == nil }

// CompletePatch marks an item done.
func CompletePatch() Patch {
	done := true
	return Patch{IsComplete: &done}
}
