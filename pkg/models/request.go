package models

import "time"

// RequestStatus tracks a service request after conversion.
type RequestStatus string

const (
	RequestStatusOpen      RequestStatus = "open"
	RequestStatusScheduled RequestStatus = "scheduled"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusClosed    RequestStatus = "closed"
)

// Request is a trap-neuter-return service request produced by converting
// a triaged submission. SubmissionID is unique, which is what makes
// conversion idempotent under concurrency.
type Request struct {
	ID                string        `json:"id" db:"id"`
	SubmissionID      string        `json:"submission_id" db:"submission_id"`
	RequesterPersonID string        `json:"requester_person_id" db:"requester_person_id"`
	PlaceID           string        `json:"place_id" db:"place_id"`
	Status            RequestStatus `json:"status" db:"status"`
	CatCount          int           `json:"cat_count" db:"cat_count"`
	Notes             string        `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}
