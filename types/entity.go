// Package types provides value types shared across Entitle packages.
package types

import "time"

// Entity carries the creation and modification timestamps embedded in
// every persisted Entitle record.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with the current UTC time.
func NewEntity() Entity {
	return EntityAt(time.Now())
}

// EntityAt returns an Entity stamped with t, normalized to UTC.
func EntityAt(t time.Time) Entity {
	t = t.UTC()
	return Entity{CreatedAt: t, UpdatedAt: t}
}

// Touch moves UpdatedAt to t.
func (e *Entity) Touch(t time.Time) {
	e.UpdatedAt = t.UTC()
}
