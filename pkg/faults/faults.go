// Package faults defines the typed error taxonomy for the intake engine.
// Every failure that crosses a component boundary is a *Fault so callers
// can branch on Kind and the HTTP layer can map it to a status code.
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a fault.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindDanglingMerge    Kind = "dangling_merge"
	KindSelfMerge        Kind = "self_merge"
	KindAlreadyMerged    Kind = "already_merged"
	KindReasonRequired   Kind = "reason_required"
	KindNeedsReview      Kind = "needs_review"
	KindAlreadyConverted Kind = "already_converted"
	KindConversionFailed Kind = "conversion_failed"
	KindInvalid          Kind = "invalid"
	KindStorage          Kind = "storage"
	KindTimeout          Kind = "timeout"
)

// Candidate describes one possible match surfaced by a NeedsReview fault.
type Candidate struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	MatchedOn   []string `json:"matched_on"`
}

// Fault is a classified error carrying the offending entity so a human
// operator can act on it.
type Fault struct {
	Kind       Kind        `json:"kind"`
	EntityType string      `json:"entity_type,omitempty"`
	EntityID   string      `json:"entity_id,omitempty"`
	Message    string      `json:"message"`
	RequestID  string      `json:"request_id,omitempty"`  // set on already_converted
	Candidates []Candidate `json:"candidates,omitempty"`  // set on needs_review
	cause      error
}

func (f *Fault) Error() string {
	if f.EntityID != "" {
		return fmt.Sprintf("%s: %s (%s %s)", f.Kind, f.Message, f.EntityType, f.EntityID)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.cause
}

// KindOf returns the fault kind of err, or empty when err is not a Fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Is reports whether err is a Fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// As extracts the Fault from err, if any.
func As(err error) (*Fault, bool) {
	var f *Fault
	ok := errors.As(err, &f)
	return f, ok
}

func NotFound(entityType, entityID string) *Fault {
	return &Fault{
		Kind:       KindNotFound,
		EntityType: entityType,
		EntityID:   entityID,
		Message:    fmt.Sprintf("%s not found", entityType),
	}
}

// DanglingMerge indicates a broken tombstone chain. It is fatal and is
// surfaced as-is, never auto-repaired.
func DanglingMerge(personID, message string) *Fault {
	return &Fault{
		Kind:       KindDanglingMerge,
		EntityType: "person",
		EntityID:   personID,
		Message:    message,
	}
}

func SelfMerge(personID string) *Fault {
	return &Fault{
		Kind:       KindSelfMerge,
		EntityType: "person",
		EntityID:   personID,
		Message:    "cannot merge a person into itself",
	}
}

func AlreadyMerged(personID string) *Fault {
	return &Fault{
		Kind:       KindAlreadyMerged,
		EntityType: "person",
		EntityID:   personID,
		Message:    "person is already merged into another record",
	}
}

func ReasonRequired(placeID string) *Fault {
	return &Fault{
		Kind:       KindReasonRequired,
		EntityType: "place",
		EntityID:   placeID,
		Message:    "a non-empty reason is required to add a place to the watch list",
	}
}

func NeedsReview(entityType string, candidates []Candidate) *Fault {
	return &Fault{
		Kind:       KindNeedsReview,
		EntityType: entityType,
		Message:    fmt.Sprintf("ambiguous %s match requires manual review", entityType),
		Candidates: candidates,
	}
}

// AlreadyConverted carries the request id of the prior conversion so a
// retrying caller can treat it as success.
func AlreadyConverted(submissionID, requestID string) *Fault {
	return &Fault{
		Kind:       KindAlreadyConverted,
		EntityType: "submission",
		EntityID:   submissionID,
		Message:    "submission has already been converted",
		RequestID:  requestID,
	}
}

func ConversionFailed(submissionID, message string, cause error) *Fault {
	return &Fault{
		Kind:       KindConversionFailed,
		EntityType: "submission",
		EntityID:   submissionID,
		Message:    message,
		cause:      cause,
	}
}

func Invalid(entityType, entityID, message string) *Fault {
	return &Fault{
		Kind:       KindInvalid,
		EntityType: entityType,
		EntityID:   entityID,
		Message:    message,
	}
}

func Storage(operation string, cause error) *Fault {
	return &Fault{
		Kind:    KindStorage,
		Message: fmt.Sprintf("storage failure during %s", operation),
		cause:   cause,
	}
}

func Timeout(operation string, cause error) *Fault {
	return &Fault{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("timed out during %s", operation),
		cause:   cause,
	}
}

// HTTPStatus maps a fault kind to the HTTP status the API layer returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindSelfMerge, KindAlreadyMerged, KindReasonRequired, KindInvalid:
		return http.StatusUnprocessableEntity
	case KindNeedsReview:
		return http.StatusConflict
	case KindAlreadyConverted:
		// Retries are success-equivalent; the handler returns the prior result.
		return http.StatusOK
	case KindDanglingMerge, KindConversionFailed, KindStorage:
		return http.StatusInternalServerError
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
