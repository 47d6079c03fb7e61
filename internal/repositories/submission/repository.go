package submission

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/feralops/clowder/pkg/database"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/tracing"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
)

// SubmissionRepository defines the interface for submission operations
type SubmissionRepository interface {
	Create(ctx context.Context, msg models.IntakeMessage) (*models.Submission, error)
	GetByID(ctx context.Context, id string) (*models.Submission, error)
	SetStatus(ctx context.Context, id string, status models.SubmissionStatus) error
	SetMatches(ctx context.Context, id string, personID, placeID *string) error
	Close(ctx context.Context, id, archiveReason string) error
	RepointPerson(ctx context.Context, fromID, toID string) ([]string, error)
	GetColumn(ctx context.Context, id, column string) (*string, error)
	SetColumn(ctx context.Context, id, column string, value *string) error
}

// Repository implements SubmissionRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "submissions"

var columns = []string{"id", "source", "status", "contact_name", "contact_email", "contact_phone", "address_line", "city", "region", "postal_code", "cat_count", "notes", "payload", "archive_reason", "matched_person_id", "matched_place_id", "received_at", "created_at", "updated_at"}

// Create stores an intake message verbatim with status received.
func (r *Repository) Create(ctx context.Context, msg models.IntakeMessage) (*models.Submission, error) {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.Create")
	defer span.End()

	now := time.Now().UTC()
	id := uuid.New().String()

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}

	payload := msg.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols("id", "source", "status", "contact_name", "contact_email", "contact_phone", "address_line", "city", "region", "postal_code", "cat_count", "notes", "payload", "received_at", "created_at", "updated_at")
	sb.Values(id, msg.Source, models.SubmissionStatusReceived, msg.ContactName, msg.ContactEmail, msg.ContactPhone, msg.AddressLine, msg.City, msg.Region, msg.PostalCode, msg.CatCount, msg.Notes, []byte(payload), receivedAt, now, now)

	query, args := sb.Build()

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create submission")
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":     id,
		"source": msg.Source,
	}).Info("created submission")

	return r.GetByID(ctx, id)
}

// GetByID gets a submission by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var s models.Submission
	err := r.db.GetContext(ctx, &s, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get submission by ID")
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	return &s, nil
}

// SetStatus moves a submission to the given lifecycle status.
func (r *Repository) SetStatus(ctx context.Context, id string, status models.SubmissionStatus) error {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.SetStatus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(tableName)
	sb.Set(
		sb.Assign("status", status),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to set submission status")
		return fmt.Errorf("failed to set submission status: %w", err)
	}

	return nil
}

// SetMatches records the resolved person and place for a submission.
func (r *Repository) SetMatches(ctx context.Context, id string, personID, placeID *string) error {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.SetMatches")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(tableName)
	sb.Set(
		sb.Assign("matched_person_id", personID),
		sb.Assign("matched_place_id", placeID),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to set submission matches")
		return fmt.Errorf("failed to set submission matches: %w", err)
	}

	return nil
}

// Close archives a submission with a reason, as for duplicates.
func (r *Repository) Close(ctx context.Context, id, archiveReason string) error {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.Close")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(tableName)
	sb.Set(
		sb.Assign("status", models.SubmissionStatusClosed),
		sb.Assign("archive_reason", archiveReason),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to close submission")
		return fmt.Errorf("failed to close submission: %w", err)
	}

	return nil
}

// GetColumn reads a single whitelisted column as text.
func (r *Repository) GetColumn(ctx context.Context, id, column string) (*string, error) {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.GetColumn")
	defer span.End()

	query := fmt.Sprintf("SELECT %s::text FROM %s WHERE id = $1", column, tableName)

	var value *string
	err := r.db.GetContext(ctx, &value, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to read submission column")
		return nil, fmt.Errorf("failed to read submission column: %w", err)
	}

	return value, nil
}

// SetColumn writes a single whitelisted column.
func (r *Repository) SetColumn(ctx context.Context, id, column string, value *string) error {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.SetColumn")
	defer span.End()

	query := fmt.Sprintf("UPDATE %s SET %s = $1, updated_at = $2 WHERE id = $3", tableName, column)

	_, err := r.db.ExecContext(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to set submission column")
		return fmt.Errorf("failed to set submission column: %w", err)
	}

	return nil
}

// RepointPerson redirects matched_person_id references from one person
// to another during a merge, returning affected submission ids.
func (r *Repository) RepointPerson(ctx context.Context, fromID, toID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.RepointPerson")
	defer span.End()

	query := fmt.Sprintf("UPDATE %s SET matched_person_id = $1, updated_at = $2 WHERE matched_person_id = $3 RETURNING id", tableName)

	rows, err := r.db.QueryxContext(ctx, query, toID, time.Now().UTC(), fromID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to repoint submission person references")
		return nil, fmt.Errorf("failed to repoint submissions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan repointed submission: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
