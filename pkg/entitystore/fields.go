package entitystore

import (
	"github.com/feralops/clowder/pkg/models"
)

// editableFields whitelists the columns each entity type allows through
// the field update endpoint. Anything else is rejected before touching
// the database.
var editableFields = map[models.EntityType]map[string]bool{
	models.EntityTypeSubmission: {
		"status":        true,
		"notes":         true,
		"contact_name":  true,
		"contact_email": true,
		"contact_phone": true,
	},
	models.EntityTypePerson: {
		"display_name": true,
		"email":        true,
		"phone":        true,
		"notes":        true,
	},
	models.EntityTypePlace: {
		"latitude":  true,
		"longitude": true,
	},
	models.EntityTypeCat: {
		"name":        true,
		"description": true,
		"sterilized":  true,
		"ear_tipped":  true,
	},
	models.EntityTypeRequest: {
		"status":    true,
		"notes":     true,
		"cat_count": true,
	},
}

// submissionTransitions lists the legal manual status moves. Converted
// is only ever set by the conversion service and is terminal here.
var submissionTransitions = map[models.SubmissionStatus][]models.SubmissionStatus{
	models.SubmissionStatusReceived: {models.SubmissionStatusTriaged, models.SubmissionStatusClosed},
	models.SubmissionStatusTriaged:  {models.SubmissionStatusClosed},
}

var requestTransitions = map[models.RequestStatus][]models.RequestStatus{
	models.RequestStatusOpen:      {models.RequestStatusScheduled, models.RequestStatusCompleted, models.RequestStatusClosed},
	models.RequestStatusScheduled: {models.RequestStatusCompleted, models.RequestStatusClosed, models.RequestStatusOpen},
}

// FieldEditable reports whether the entity type allows manual edits to
// the given field.
func FieldEditable(entityType models.EntityType, field string) bool {
	fields, ok := editableFields[entityType]
	return ok && fields[field]
}

func submissionTransitionAllowed(from, to models.SubmissionStatus) bool {
	for _, next := range submissionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func requestTransitionAllowed(from, to models.RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
