// Package entitystore owns resolved entity records: person chain
// resolution, merges, and audited field updates.
package entitystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/feralops/clowder/internal/repositories/cat"
	"github.com/feralops/clowder/internal/repositories/person"
	"github.com/feralops/clowder/internal/repositories/place"
	"github.com/feralops/clowder/internal/repositories/request"
	"github.com/feralops/clowder/internal/repositories/submission"
	"github.com/feralops/clowder/pkg/audit"
	"github.com/feralops/clowder/pkg/database"
	"github.com/feralops/clowder/pkg/events"
	"github.com/feralops/clowder/pkg/faults"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/normalizers"
	"github.com/feralops/clowder/pkg/tracing"
)

// maxChainHops bounds tombstone chain walks. Chains are collapsed to
// depth one at merge time, so anything past a handful of hops is data
// corruption, not a deep chain.
const maxChainHops = 10

// TxBeginner begins or joins a transaction carried by the context.
type TxBeginner interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// MergeSummary reports what a merge touched.
type MergeSummary struct {
	SourceID             string   `json:"source_id"`
	TargetID             string   `json:"target_id"`
	RepointedSubmissions []string `json:"repointed_submissions,omitempty"`
	RepointedRequests    []string `json:"repointed_requests,omitempty"`
	RepointedCats        []string `json:"repointed_cats,omitempty"`
	CollapsedTombstones  []string `json:"collapsed_tombstones,omitempty"`
}

// Service implements entity reads, merges, and field updates.
type Service struct {
	logger      ectologger.Logger
	db          TxBeginner
	people      person.PersonRepository
	places      place.PlaceRepository
	submissions submission.SubmissionRepository
	requests    request.RequestRepository
	cats        cat.CatRepository
	recorder    audit.Recorder
	emitter     *events.Emitter
}

func NewService(
	logger ectologger.Logger,
	db TxBeginner,
	people person.PersonRepository,
	places place.PlaceRepository,
	submissions submission.SubmissionRepository,
	requests request.RequestRepository,
	cats cat.CatRepository,
	recorder audit.Recorder,
	emitter *events.Emitter,
) *Service {
	return &Service{
		logger:      logger,
		db:          db,
		people:      people,
		places:      places,
		submissions: submissions,
		requests:    requests,
		cats:        cats,
		recorder:    recorder,
		emitter:     emitter,
	}
}

// FindPerson resolves a person id to its surviving record, following
// the tombstone chain. A broken link or a cycle is surfaced as a
// dangling merge fault, never repaired in place.
func (s *Service) FindPerson(ctx context.Context, id string) (*models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "entitystore.Service.FindPerson")
	defer span.End()

	visited := make(map[string]bool)
	currentID := id

	for hops := 0; hops <= maxChainHops; hops++ {
		if visited[currentID] {
			return nil, faults.DanglingMerge(currentID, "merge chain contains a cycle")
		}
		visited[currentID] = true

		p, err := s.people.GetByID(ctx, currentID)
		if err != nil {
			return nil, faults.Storage("person lookup", err)
		}
		if p == nil {
			if currentID == id {
				return nil, faults.NotFound("person", id)
			}
			return nil, faults.DanglingMerge(currentID, "merge chain points at a missing person")
		}

		if !p.IsMerged() {
			return p, nil
		}
		currentID = *p.MergedIntoID
	}

	return nil, faults.DanglingMerge(currentID, "merge chain exceeds maximum depth")
}

// CreatePerson inserts a new person and audits the creation.
func (s *Service) CreatePerson(ctx context.Context, req models.CreatePersonRequest, actorID string) (*models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "entitystore.Service.CreatePerson")
	defer span.End()

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return nil, faults.Storage("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.people.Create(ctx, req)
	if err != nil {
		return nil, faults.Storage("person create", err)
	}

	if err := s.recorder.Record(ctx, models.EntityTypePerson, p.ID, "record", nil, &p.DisplayName, actorID, "created"); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, faults.Storage("commit person create", err)
	}

	return p, nil
}

// CreatePlace upserts a place by its normalized address key and audits
// a genuinely new record.
func (s *Service) CreatePlace(ctx context.Context, req models.CreatePlaceRequest, actorID string) (*models.Place, error) {
	ctx, span := tracing.StartSpan(ctx, "entitystore.Service.CreatePlace")
	defer span.End()

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return nil, faults.Storage("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	addressKey := normalizers.AddressKey(req.AddressLine, req.City, req.Region, req.PostalCode)
	existing, err := s.places.GetByAddressKey(ctx, addressKey)
	if err != nil {
		return nil, faults.Storage("place lookup", err)
	}

	p, err := s.places.Upsert(ctx, req)
	if err != nil {
		return nil, faults.Storage("place upsert", err)
	}

	if existing == nil {
		if err := s.recorder.Record(ctx, models.EntityTypePlace, p.ID, "record", nil, &p.AddressKey, actorID, "created"); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, faults.Storage("commit place upsert", err)
	}

	return p, nil
}

// MergePerson collapses the source person into the target. Everything
// pointing at the source is repointed, existing tombstones aimed at the
// source are redirected to keep chains at depth one, and every touched
// record gets an audit entry, all in one transaction.
func (s *Service) MergePerson(ctx context.Context, sourceID, targetID, actorID string) (*MergeSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "entitystore.Service.MergePerson")
	defer span.End()

	if sourceID == targetID {
		return nil, faults.SelfMerge(sourceID)
	}

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return nil, faults.Storage("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	source, err := s.people.GetByID(ctx, sourceID)
	if err != nil {
		return nil, faults.Storage("person lookup", err)
	}
	if source == nil {
		return nil, faults.NotFound("person", sourceID)
	}
	if source.IsMerged() {
		return nil, faults.AlreadyMerged(sourceID)
	}

	// Resolve the target through its chain so the tombstone lands on a
	// live record. A chain that leads back to the source is a self merge.
	target, err := s.FindPerson(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.ID == sourceID {
		return nil, faults.SelfMerge(sourceID)
	}

	summary := &MergeSummary{SourceID: sourceID, TargetID: target.ID}

	summary.RepointedSubmissions, err = s.submissions.RepointPerson(ctx, sourceID, target.ID)
	if err != nil {
		return nil, faults.Storage("submission repoint", err)
	}
	for _, id := range summary.RepointedSubmissions {
		if err := s.recorder.Record(ctx, models.EntityTypeSubmission, id, "matched_person_id", &sourceID, &target.ID, actorID, "person merge"); err != nil {
			return nil, err
		}
	}

	summary.RepointedRequests, err = s.requests.RepointPerson(ctx, sourceID, target.ID)
	if err != nil {
		return nil, faults.Storage("request repoint", err)
	}
	for _, id := range summary.RepointedRequests {
		if err := s.recorder.Record(ctx, models.EntityTypeRequest, id, "requester_person_id", &sourceID, &target.ID, actorID, "person merge"); err != nil {
			return nil, err
		}
	}

	summary.RepointedCats, err = s.cats.RepointCaretaker(ctx, sourceID, target.ID)
	if err != nil {
		return nil, faults.Storage("cat repoint", err)
	}
	for _, id := range summary.RepointedCats {
		if err := s.recorder.Record(ctx, models.EntityTypeCat, id, "caretaker_person_id", &sourceID, &target.ID, actorID, "person merge"); err != nil {
			return nil, err
		}
	}

	if err := s.people.SetMergedInto(ctx, sourceID, target.ID); err != nil {
		return nil, faults.Storage("tombstone write", err)
	}
	if err := s.recorder.Record(ctx, models.EntityTypePerson, sourceID, "merged_into_id", nil, &target.ID, actorID, "person merge"); err != nil {
		return nil, err
	}

	summary.CollapsedTombstones, err = s.people.RepointTombstones(ctx, sourceID, target.ID)
	if err != nil {
		return nil, faults.Storage("tombstone collapse", err)
	}
	for _, id := range summary.CollapsedTombstones {
		if err := s.recorder.Record(ctx, models.EntityTypePerson, id, "merged_into_id", &sourceID, &target.ID, actorID, "merge chain collapse"); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, faults.Storage("commit merge", err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id": sourceID,
		"target_id": target.ID,
	}).Info("merged person")

	repointed := len(summary.RepointedSubmissions) + len(summary.RepointedRequests) + len(summary.RepointedCats)
	s.emitter.EmitPersonMerged(ctx, events.MergePayload{
		SourceID:            sourceID,
		TargetID:            target.ID,
		RepointedRecords:    repointed,
		CollapsedTombstones: summary.CollapsedTombstones,
	}, actorID)

	return summary, nil
}

// UpdateField applies one whitelisted field change with an audit entry
// in the same transaction. Status fields get transition validation.
func (s *Service) UpdateField(ctx context.Context, entityType models.EntityType, id string, req models.UpdateFieldRequest, actorID string) error {
	ctx, span := tracing.StartSpan(ctx, "entitystore.Service.UpdateField")
	defer span.End()

	if !FieldEditable(entityType, req.Field) {
		return faults.Invalid(string(entityType), id, fmt.Sprintf("field %q is not editable on %s", req.Field, entityType))
	}

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return faults.Storage("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	// Tombstones are frozen. Edits belong on the surviving record, and
	// the check reads live state inside the transaction so a concurrent
	// merge cannot slip in between check and write.
	if entityType == models.EntityTypePerson {
		p, err := s.people.GetByID(ctx, id)
		if err != nil {
			return faults.Storage("person lookup", err)
		}
		if p == nil {
			return faults.NotFound("person", id)
		}
		if p.IsMerged() {
			return faults.AlreadyMerged(id)
		}
	}

	getColumn, setColumn := s.columnAccess(entityType)

	oldValue, err := getColumn(ctx, id, req.Field)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return faults.NotFound(string(entityType), id)
		}
		return faults.Storage("field read", err)
	}

	if req.Field == "status" {
		if err := s.validateStatusChange(entityType, id, oldValue, req.Value); err != nil {
			return err
		}
	}

	if err := setColumn(ctx, id, req.Field, req.Value); err != nil {
		return faults.Storage("field write", err)
	}

	// Contact edits on people refresh the normalized match columns so
	// future matching sees the new value.
	if entityType == models.EntityTypePerson {
		if err := s.refreshNormalized(ctx, id, req.Field, req.Value); err != nil {
			return err
		}
	}

	if err := s.recorder.Record(ctx, entityType, id, req.Field, oldValue, req.Value, actorID, req.Reason); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return faults.Storage("commit field update", err)
	}

	s.emitter.EmitFieldUpdated(ctx, entityType, id, req.Field, actorID)

	return nil
}

type columnGetter func(ctx context.Context, id, column string) (*string, error)
type columnSetter func(ctx context.Context, id, column string, value *string) error

func (s *Service) columnAccess(entityType models.EntityType) (columnGetter, columnSetter) {
	switch entityType {
	case models.EntityTypePerson:
		return s.people.GetColumn, s.people.SetColumn
	case models.EntityTypePlace:
		return s.places.GetColumn, s.places.SetColumn
	case models.EntityTypeSubmission:
		return s.submissions.GetColumn, s.submissions.SetColumn
	case models.EntityTypeRequest:
		return s.requests.GetColumn, s.requests.SetColumn
	case models.EntityTypeCat:
		return s.cats.GetColumn, s.cats.SetColumn
	}
	return nil, nil
}

func (s *Service) validateStatusChange(entityType models.EntityType, id string, oldValue, newValue *string) error {
	if newValue == nil {
		return faults.Invalid(string(entityType), id, "status cannot be cleared")
	}

	from := ""
	if oldValue != nil {
		from = *oldValue
	}

	switch entityType {
	case models.EntityTypeSubmission:
		if !submissionTransitionAllowed(models.SubmissionStatus(from), models.SubmissionStatus(*newValue)) {
			return faults.Invalid(string(entityType), id, fmt.Sprintf("submission status cannot move from %s to %s", from, *newValue))
		}
	case models.EntityTypeRequest:
		if !requestTransitionAllowed(models.RequestStatus(from), models.RequestStatus(*newValue)) {
			return faults.Invalid(string(entityType), id, fmt.Sprintf("request status cannot move from %s to %s", from, *newValue))
		}
	}

	return nil
}

func (s *Service) refreshNormalized(ctx context.Context, id, field string, value *string) error {
	var column, normalized string
	switch field {
	case "email":
		column = "email_normalized"
		if value != nil {
			normalized = normalizers.NormalizeEmail(*value)
		}
	case "phone":
		column = "phone_normalized"
		if value != nil {
			normalized = normalizers.NormalizePhone(*value)
		}
	default:
		return nil
	}

	var normValue *string
	if normalized != "" {
		normValue = &normalized
	}

	if err := s.people.SetColumn(ctx, id, column, normValue); err != nil {
		return faults.Storage("normalized column refresh", err)
	}
	return nil
}
