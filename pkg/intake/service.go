// Package intake lands raw submissions arriving on the intake topic.
package intake

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/feralops/clowder/internal/repositories/submission"
	"github.com/feralops/clowder/pkg/audit"
	"github.com/feralops/clowder/pkg/entitystore"
	"github.com/feralops/clowder/pkg/faults"
	"github.com/feralops/clowder/pkg/kafka"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/tracing"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Service stores incoming submissions verbatim with status received.
// No matching happens here; that waits for conversion.
type Service struct {
	logger      ectologger.Logger
	db          entitystore.TxBeginner
	submissions submission.SubmissionRepository
	recorder    audit.Recorder
}

func NewService(logger ectologger.Logger, db entitystore.TxBeginner, submissions submission.SubmissionRepository, recorder audit.Recorder) *Service {
	return &Service{
		logger:      logger,
		db:          db,
		submissions: submissions,
		recorder:    recorder,
	}
}

// HandleMessage is the consumer callback for the intake topic. An error
// return leaves the offset uncommitted so the message retries.
func (s *Service) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "intake.Service.HandleMessage")
	defer span.End()

	if msg.Intake == nil {
		return nil
	}

	if err := validate.Struct(msg.Intake); err != nil {
		// Invalid payloads can never succeed; log and drop.
		s.logger.WithContext(ctx).WithError(err).WithField("source", msg.GetSource()).Error("dropping invalid intake message")
		return nil
	}

	sub, err := s.Receive(ctx, *msg.Intake)
	if err != nil {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"submission_id": sub.ID,
		"source":        sub.Source,
	}).Info("received intake submission")

	return nil
}

// Receive stores one submission and audits its creation atomically.
func (s *Service) Receive(ctx context.Context, msg models.IntakeMessage) (*models.Submission, error) {
	ctx, span := tracing.StartSpan(ctx, "intake.Service.Receive")
	defer span.End()

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return nil, faults.Storage("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	sub, err := s.submissions.Create(ctx, msg)
	if err != nil {
		return nil, faults.Storage("submission create", err)
	}

	status := string(sub.Status)
	if err := s.recorder.Record(ctx, models.EntityTypeSubmission, sub.ID, "status", nil, &status, "system:intake", "received from "+sub.Source); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, faults.Storage("commit submission", err)
	}

	return sub, nil
}

// CloseDuplicate archives a submission that duplicates earlier intake.
func (s *Service) CloseDuplicate(ctx context.Context, submissionID, reason, actorID string) error {
	ctx, span := tracing.StartSpan(ctx, "intake.Service.CloseDuplicate")
	defer span.End()

	if reason == "" {
		reason = "duplicate request"
	}

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return faults.Storage("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return faults.Storage("submission lookup", err)
	}
	if sub == nil {
		return faults.NotFound("submission", submissionID)
	}
	if sub.Status == models.SubmissionStatusConverted {
		return faults.Invalid("submission", submissionID, "a converted submission cannot be closed")
	}

	if err := s.submissions.Close(ctx, submissionID, reason); err != nil {
		return faults.Storage("submission close", err)
	}

	oldStatus := string(sub.Status)
	newStatus := string(models.SubmissionStatusClosed)
	if err := s.recorder.Record(ctx, models.EntityTypeSubmission, submissionID, "status", &oldStatus, &newStatus, actorID, reason); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return faults.Storage("commit submission close", err)
	}

	return nil
}
