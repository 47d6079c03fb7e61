package models

import "time"

// Place is a resolved colony location. AddressKey is the normalized
// form of the address and is unique, so repeat submissions for the same
// site land on the same record.
type Place struct {
	ID              string     `json:"id" db:"id"`
	AddressLine     string     `json:"address_line" db:"address_line"`
	City            string     `json:"city,omitempty" db:"city"`
	Region          string     `json:"region,omitempty" db:"region"`
	PostalCode      string     `json:"postal_code,omitempty" db:"postal_code"`
	AddressKey      string     `json:"address_key" db:"address_key"`
	Latitude        *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude       *float64   `json:"longitude,omitempty" db:"longitude"`
	Watched         bool       `json:"watched" db:"watched"`
	WatchReason     *string    `json:"watch_reason,omitempty" db:"watch_reason"`
	WatchSetBy      *string    `json:"watch_set_by,omitempty" db:"watch_set_by"`
	WatchSetAt      *time.Time `json:"watch_set_at,omitempty" db:"watch_set_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// CreatePlaceRequest carries the fields for a new place record.
type CreatePlaceRequest struct {
	AddressLine string   `json:"address_line" validate:"required"`
	City        string   `json:"city,omitempty"`
	Region      string   `json:"region,omitempty"`
	PostalCode  string   `json:"postal_code,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude   *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

// SetWatchRequest flips a place's watch flag. Reason is required when
// watching and ignored when unwatching.
type SetWatchRequest struct {
	Watched bool   `json:"watched"`
	Reason  string `json:"reason,omitempty"`
}
