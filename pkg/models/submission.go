package models

import (
	"encoding/json"
	"time"
)

// SubmissionStatus tracks a submission through its intake lifecycle.
type SubmissionStatus string

const (
	SubmissionStatusReceived  SubmissionStatus = "received"
	SubmissionStatusTriaged   SubmissionStatus = "triaged"
	SubmissionStatusConverted SubmissionStatus = "converted"
	SubmissionStatusClosed    SubmissionStatus = "closed"
)

// Submission is a raw intake form as it arrived, before any entity
// resolution. The contact fields stay untouched; normalization happens
// at match time.
type Submission struct {
	ID             string           `json:"id" db:"id"`
	Source         string           `json:"source" db:"source"`
	Status         SubmissionStatus `json:"status" db:"status"`
	ContactName    string           `json:"contact_name" db:"contact_name"`
	ContactEmail   string           `json:"contact_email,omitempty" db:"contact_email"`
	ContactPhone   string           `json:"contact_phone,omitempty" db:"contact_phone"`
	AddressLine    string           `json:"address_line,omitempty" db:"address_line"`
	City           string           `json:"city,omitempty" db:"city"`
	Region         string           `json:"region,omitempty" db:"region"`
	PostalCode     string           `json:"postal_code,omitempty" db:"postal_code"`
	CatCount       int              `json:"cat_count" db:"cat_count"`
	Notes          string           `json:"notes,omitempty" db:"notes"`
	Payload        json.RawMessage  `json:"payload,omitempty" db:"payload"`
	ArchiveReason  *string          `json:"archive_reason,omitempty" db:"archive_reason"`
	MatchedPersonID *string         `json:"matched_person_id,omitempty" db:"matched_person_id"`
	MatchedPlaceID  *string         `json:"matched_place_id,omitempty" db:"matched_place_id"`
	ReceivedAt     time.Time        `json:"received_at" db:"received_at"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// IntakeMessage is a submission as it arrives on the intake topic.
type IntakeMessage struct {
	Source       string          `json:"source" validate:"required"`
	ContactName  string          `json:"contact_name" validate:"required"`
	ContactEmail string          `json:"contact_email,omitempty"`
	ContactPhone string          `json:"contact_phone,omitempty"`
	AddressLine  string          `json:"address_line,omitempty"`
	City         string          `json:"city,omitempty"`
	Region       string          `json:"region,omitempty"`
	PostalCode   string          `json:"postal_code,omitempty"`
	CatCount     int             `json:"cat_count"`
	Notes        string          `json:"notes,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
}
