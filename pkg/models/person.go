package models

import "time"

// Person is a resolved caretaker or requester. A person with a non-nil
// MergedIntoID is a tombstone; reads must follow the chain to the
// surviving record.
type Person struct {
	ID              string     `json:"id" db:"id"`
	DisplayName     string     `json:"display_name" db:"display_name"`
	Email           *string    `json:"email,omitempty" db:"email"`
	EmailNormalized *string    `json:"email_normalized,omitempty" db:"email_normalized"`
	Phone           *string    `json:"phone,omitempty" db:"phone"`
	PhoneNormalized *string    `json:"phone_normalized,omitempty" db:"phone_normalized"`
	Notes           string     `json:"notes,omitempty" db:"notes"`
	MergedIntoID    *string    `json:"merged_into_id,omitempty" db:"merged_into_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// IsMerged reports whether this record is a tombstone.
func (p *Person) IsMerged() bool {
	return p.MergedIntoID != nil && *p.MergedIntoID != ""
}

// CreatePersonRequest carries the fields for a new person record.
type CreatePersonRequest struct {
	DisplayName string `json:"display_name" validate:"required"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string `json:"phone,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// MergePersonRequest asks for the path person to be merged into the target.
type MergePersonRequest struct {
	TargetID string `json:"target_id" validate:"required,uuid4"`
}
