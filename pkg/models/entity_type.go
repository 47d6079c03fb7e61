package models

// EntityType identifies which kind of record an operation targets.
type EntityType string

const (
	EntityTypeSubmission EntityType = "submission"
	EntityTypePerson     EntityType = "person"
	EntityTypePlace      EntityType = "place"
	EntityTypeCat        EntityType = "cat"
	EntityTypeRequest    EntityType = "request"
)

// ParseEntityType validates a route segment into an EntityType.
func ParseEntityType(s string) (EntityType, bool) {
	switch EntityType(s) {
	case EntityTypeSubmission, EntityTypePerson, EntityTypePlace, EntityTypeCat, EntityTypeRequest:
		return EntityType(s), true
	}
	// Routes use the plural form, accept that too.
	switch s {
	case "submissions":
		return EntityTypeSubmission, true
	case "people", "persons":
		return EntityTypePerson, true
	case "places":
		return EntityTypePlace, true
	case "cats":
		return EntityTypeCat, true
	case "requests":
		return EntityTypeRequest, true
	}
	return "", false
}
