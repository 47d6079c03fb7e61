package models

// MatchOutcome says how a contact or address resolved against existing
// records.
type MatchOutcome string

const (
	MatchOutcomeExisting MatchOutcome = "existing"
	MatchOutcomeCreated  MatchOutcome = "created"
)

// PersonMatch is the result of resolving a submission's contact info.
type PersonMatch struct {
	PersonID  string       `json:"person_id"`
	Outcome   MatchOutcome `json:"outcome"`
	MatchedOn []string     `json:"matched_on,omitempty"`
}

// PlaceMatch is the result of resolving a submission's address.
type PlaceMatch struct {
	PlaceID string       `json:"place_id"`
	Outcome MatchOutcome `json:"outcome"`
}
