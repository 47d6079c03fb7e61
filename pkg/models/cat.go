package models

import "time"

// Cat is an individual animal tied to a colony place and, optionally,
// a caretaker person.
type Cat struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name,omitempty" db:"name"`
	Description       string    `json:"description,omitempty" db:"description"`
	PlaceID           string    `json:"place_id" db:"place_id"`
	CaretakerPersonID *string   `json:"caretaker_person_id,omitempty" db:"caretaker_person_id"`
	Sterilized        bool      `json:"sterilized" db:"sterilized"`
	EarTipped         bool      `json:"ear_tipped" db:"ear_tipped"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}
