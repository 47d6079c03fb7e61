package models

import "time"

// EditRecord is one immutable audit entry describing a single field
// change on a single entity. Records are only ever inserted.
type EditRecord struct {
	ID         string     `json:"id" db:"id"`
	EntityType EntityType `json:"entity_type" db:"entity_type"`
	EntityID   string     `json:"entity_id" db:"entity_id"`
	Field      string     `json:"field" db:"field"`
	OldValue   *string    `json:"old_value,omitempty" db:"old_value"`
	NewValue   *string    `json:"new_value,omitempty" db:"new_value"`
	ActorID    string     `json:"actor_id" db:"actor_id"`
	Reason     string     `json:"reason,omitempty" db:"reason"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// UpdateFieldRequest asks for one whitelisted field to be set on an entity.
type UpdateFieldRequest struct {
	Field  string  `json:"field" validate:"required"`
	Value  *string `json:"value"`
	Reason string  `json:"reason,omitempty"`
}

// HistoryPage is one page of an entity's audit trail, newest first.
type HistoryPage struct {
	Records []EditRecord `json:"records"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}
