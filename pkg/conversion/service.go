// Package conversion turns triaged intake submissions into service
// requests, resolving entities on the way.
package conversion

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/feralops/clowder/internal/repositories/request"
	"github.com/feralops/clowder/internal/repositories/submission"
	"github.com/feralops/clowder/pkg/audit"
	"github.com/feralops/clowder/pkg/entitystore"
	"github.com/feralops/clowder/pkg/events"
	"github.com/feralops/clowder/pkg/faults"
	"github.com/feralops/clowder/pkg/matching"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/tracing"
)

// Service converts submissions. Conversion is atomic: entity matches,
// the request row, the status flip, and every audit entry commit
// together or not at all.
type Service struct {
	logger      ectologger.Logger
	db          entitystore.TxBeginner
	submissions submission.SubmissionRepository
	requests    request.RequestRepository
	matcher     *matching.Matcher
	recorder    audit.Recorder
	emitter     *events.Emitter
	timeout     time.Duration
}

func NewService(
	logger ectologger.Logger,
	db entitystore.TxBeginner,
	submissions submission.SubmissionRepository,
	requests request.RequestRepository,
	matcher *matching.Matcher,
	recorder audit.Recorder,
	emitter *events.Emitter,
	timeout time.Duration,
) *Service {
	return &Service{
		logger:      logger,
		db:          db,
		submissions: submissions,
		requests:    requests,
		matcher:     matcher,
		recorder:    recorder,
		emitter:     emitter,
		timeout:     timeout,
	}
}

// Convert resolves a triaged submission's contact and address, creates
// the service request, and marks the submission converted. A repeat
// call, or a lost race with a concurrent caller, comes back as an
// already converted fault carrying the winning request id.
func (s *Service) Convert(ctx context.Context, submissionID, actorID string) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "conversion.Service.Convert")
	defer span.End()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := s.convert(ctx, submissionID, actorID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, faults.Timeout("submission conversion", err)
		}
		return nil, err
	}

	s.emitter.EmitSubmissionConverted(ctx, events.ConversionPayload{
		SubmissionID: submissionID,
		RequestID:    req.ID,
		PersonID:     req.RequesterPersonID,
		PlaceID:      req.PlaceID,
	}, actorID)

	return req, nil
}

func (s *Service) convert(ctx context.Context, submissionID, actorID string) (*models.Request, error) {
	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return nil, faults.Storage("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, faults.Storage("submission lookup", err)
	}
	if sub == nil {
		return nil, faults.NotFound("submission", submissionID)
	}

	switch sub.Status {
	case models.SubmissionStatusConverted:
		return nil, s.alreadyConverted(ctx, submissionID)
	case models.SubmissionStatusTriaged:
		// proceed
	default:
		return nil, faults.Invalid("submission", submissionID, "only triaged submissions can be converted")
	}

	personMatch, err := s.matcher.MatchPerson(ctx, sub, actorID)
	if err != nil {
		return nil, err
	}
	placeMatch, err := s.matcher.MatchPlace(ctx, sub, actorID)
	if err != nil {
		return nil, err
	}

	priorPersonID, priorPlaceID := sub.MatchedPersonID, sub.MatchedPlaceID
	if err := s.submissions.SetMatches(ctx, submissionID, &personMatch.PersonID, &placeMatch.PlaceID); err != nil {
		return nil, faults.Storage("match write", err)
	}
	if err := s.recorder.Record(ctx, models.EntityTypeSubmission, submissionID, "matched_person_id", priorPersonID, &personMatch.PersonID, actorID, "conversion"); err != nil {
		return nil, err
	}
	if err := s.recorder.Record(ctx, models.EntityTypeSubmission, submissionID, "matched_place_id", priorPlaceID, &placeMatch.PlaceID, actorID, "conversion"); err != nil {
		return nil, err
	}

	created, err := s.requests.Create(ctx, models.Request{
		SubmissionID:      submissionID,
		RequesterPersonID: personMatch.PersonID,
		PlaceID:           placeMatch.PlaceID,
		Status:            models.RequestStatusOpen,
		CatCount:          sub.CatCount,
		Notes:             sub.Notes,
	})
	if err != nil {
		if errors.Is(err, request.ErrDuplicateSubmission) {
			// Lost the race. Roll back our half-done work and surface
			// the winner's request id.
			tx.Rollback(ctx)
			return nil, s.alreadyConverted(context.WithoutCancel(ctx), submissionID)
		}
		return nil, faults.Storage("request create", err)
	}

	oldStatus := string(sub.Status)
	newStatus := string(models.SubmissionStatusConverted)
	if err := s.submissions.SetStatus(ctx, submissionID, models.SubmissionStatusConverted); err != nil {
		return nil, faults.Storage("status write", err)
	}
	if err := s.recorder.Record(ctx, models.EntityTypeSubmission, submissionID, "status", &oldStatus, &newStatus, actorID, "conversion"); err != nil {
		return nil, err
	}
	if err := s.recorder.Record(ctx, models.EntityTypeRequest, created.ID, "record", nil, &created.SubmissionID, actorID, "created by conversion"); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, faults.Storage("commit conversion", err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"submission_id": submissionID,
		"request_id":    created.ID,
	}).Info("converted submission")

	return created, nil
}

// alreadyConverted looks up the request that won and wraps it in an
// already converted fault.
func (s *Service) alreadyConverted(ctx context.Context, submissionID string) error {
	existing, err := s.requests.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		return faults.Storage("request lookup", err)
	}
	if existing == nil {
		return faults.ConversionFailed(submissionID, "submission is marked converted but its request is missing", nil)
	}
	return faults.AlreadyConverted(submissionID, existing.ID)
}
