package events

// ConversionPayload is the body of a submission.converted event
type ConversionPayload struct {
	SubmissionID string `json:"submission_id"`
	RequestID    string `json:"request_id"`
	PersonID     string `json:"person_id"`
	PlaceID      string `json:"place_id"`
}

// MergePayload is the body of a person.merged event
type MergePayload struct {
	SourceID           string   `json:"source_id"`
	TargetID           string   `json:"target_id"`
	RepointedRecords   int      `json:"repointed_records"`
	CollapsedTombstones []string `json:"collapsed_tombstones,omitempty"`
}

// WatchPayload is the body of a place.watch_changed event
type WatchPayload struct {
	PlaceID string `json:"place_id"`
	Watched bool   `json:"watched"`
	Reason  string `json:"reason,omitempty"`
}
