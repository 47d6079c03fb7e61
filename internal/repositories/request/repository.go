package request

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
	"github.com/lib/pq"
)

// ErrDuplicateSubmission indicates another request already exists for
// the submission. The unique constraint on submission_id raises this
// under concurrent conversion.
var ErrDuplicateSubmission = fmt.Errorf("a request already exists for this submission")

// RequestRepository defines the interface for service request operations
type RequestRepository interface {
	Create(ctx context.Context, req models.Request) (*models.Request, error)
	GetByID(ctx context.Context, id string) (*models.Request, error)
	GetBySubmissionID(ctx context.Context, submissionID string) (*models.Request, error)
	RepointPerson(ctx context.Context, fromID, toID string) ([]string, error)
	GetColumn(ctx context.Context, id, column string) (*string, error)
	SetColumn(ctx context.Context, id, column string, value *string) error
}

// Repository implements RequestRepository
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

const tableName = "requests"

var columns = []string{"id", "submission_id", "requester_person_id", "place_id", "status", "cat_count", "notes", "created_at", "updated_at"}

// Create inserts a new service request. A unique violation on
// submission_id comes back as ErrDuplicateSubmission so the conversion
// service can recover the winning request.
func (r *Repository) Create(ctx context.Context, req models.Request) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.Create")
	defer span.End()

	now := time.Now().UTC()
	req.ID = uuid.New().String()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = models.RequestStatusOpen
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols(columns...)
	sb.Values(req.ID, req.SubmissionID, req.RequesterPersonID, req.PlaceID, req.Status, req.CatCount, req.Notes, req.CreatedAt, req.UpdatedAt)

	query, args := sb.Build()

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrDuplicateSubmission
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to create request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":            req.ID,
		"submission_id": req.SubmissionID,
	}).Info("created request")

	return &req, nil
}

// GetByID gets a request by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	return r.getBy(ctx, "RequestRepository.GetByID", "id", id)
}

// GetBySubmissionID gets the request produced by converting a submission
func (r *Repository) GetBySubmissionID(ctx context.Context, submissionID string) (*models.Request, error) {
	return r.getBy(ctx, "RequestRepository.GetBySubmissionID", "submission_id", submissionID)
}

func (r *Repository) getBy(ctx context.Context, spanName, column, value string) (*models.Request, error) {
	ctx, span := tracing.StartSpan(ctx, spanName)
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal(column, value))

	query, args := sb.Build()

	var req models.Request
	err := r.db.GetContext(ctx, &req, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Errorf("failed to get request by %s", column)
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	return &req, nil
}

// RepointPerson redirects requester references from one person to
// another during a merge, returning affected request ids.
func (r *Repository) RepointPerson(ctx context.Context, fromID, toID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.RepointPerson")
	defer span.End()

	query := fmt.Sprintf("UPDATE %s SET requester_person_id = $1, updated_at = $2 WHERE requester_person_id = $3 RETURNING id", tableName)

	rows, err := r.db.QueryxContext(ctx, query, toID, time.Now().UTC(), fromID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to repoint request person references")
		return nil, fmt.Errorf("failed to repoint requests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan repointed request: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// GetColumn reads a single whitelisted column as text.
func (r *Repository) GetColumn(ctx context.Context, id, column string) (*string, error) {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.GetColumn")
	defer span.End()

	query := fmt.Sprintf("SELECT %s::text FROM %s WHERE id = $1", column, tableName)

	var value *string
	err := r.db.GetContext(ctx, &value, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to read request column")
		return nil, fmt.Errorf("failed to read request column: %w", err)
	}

	return value, nil
}

// SetColumn writes a single whitelisted column.
func (r *Repository) SetColumn(ctx context.Context, id, column string, value *string) error {
	ctx, span := tracing.StartSpan(ctx, "RequestRepository.SetColumn")
	defer span.End()

	query := fmt.Sprintf("UPDATE %s SET %s = $1, updated_at = $2 WHERE id = $3", tableName, column)

	_, err := r.db.ExecContext(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to set request column")
		return fmt.Errorf("failed to set request column: %w", err)
	}

	return nil
}
