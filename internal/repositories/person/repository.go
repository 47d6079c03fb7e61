package person

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/feralops/clowder/pkg/database"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/normalizers"
	"github.com/feralops/clowder/pkg/tracing"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
)

// PersonRepository defines the interface for person record operations
type PersonRepository interface {
	Create(ctx context.Context, req models.CreatePersonRequest) (*models.Person, error)
	GetByID(ctx context.Context, id string) (*models.Person, error)
	FindByEmail(ctx context.Context, emailNormalized string) ([]models.Person, error)
	FindByPhone(ctx context.Context, phoneNormalized string) ([]models.Person, error)
	SetMergedInto(ctx context.Context, id, targetID string) error
	RepointTombstones(ctx context.Context, fromID, toID string) ([]string, error)
	GetColumn(ctx context.Context, id, column string) (*string, error)
	SetColumn(ctx context.Context, id, column string, value *string) error
}

// Repository implements PersonRepository
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

const tableName = "people"

var columns = []string{"id", "display_name", "email", "email_normalized", "phone", "phone_normalized", "notes", "merged_into_id", "created_at", "updated_at"}

// Create inserts a new person with normalized contact columns populated.
func (r *Repository) Create(ctx context.Context, req models.CreatePersonRequest) (*models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "PersonRepository.Create")
	defer span.End()

	now := time.Now().UTC()
	id := uuid.New().String()

	var email, emailNorm, phone, phoneNorm *string
	if req.Email != "" {
		email = &req.Email
		n := normalizers.NormalizeEmail(req.Email)
		emailNorm = &n
	}
	if req.Phone != "" {
		phone = &req.Phone
		if n := normalizers.NormalizePhone(req.Phone); n != "" {
			phoneNorm = &n
		}
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols(columns...)
	sb.Values(id, req.DisplayName, email, emailNorm, phone, phoneNorm, req.Notes, nil, now, now)

	query, args := sb.Build()

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create person")
		return nil, fmt.Errorf("failed to create person: %w", err)
	}

	r.logger.WithContext(ctx).WithField("id", id).Info("created person")

	return r.GetByID(ctx, id)
}

// GetByID gets a person by ID, including tombstones.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "PersonRepository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var p models.Person
	err := r.db.GetContext(ctx, &p, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get person by ID")
		return nil, fmt.Errorf("failed to get person: %w", err)
	}

	return &p, nil
}

// FindByEmail finds live people with the given normalized email.
func (r *Repository) FindByEmail(ctx context.Context, emailNormalized string) ([]models.Person, error) {
	return r.findBy(ctx, "PersonRepository.FindByEmail", "email_normalized", emailNormalized)
}

// FindByPhone finds live people with the given normalized phone.
func (r *Repository) FindByPhone(ctx context.Context, phoneNormalized string) ([]models.Person, error) {
	return r.findBy(ctx, "PersonRepository.FindByPhone", "phone_normalized", phoneNormalized)
}

func (r *Repository) findBy(ctx context.Context, spanName, column, value string) ([]models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, spanName)
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal(column, value),
		sb.IsNull("merged_into_id"),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()

	people := []models.Person{}
	if err := r.db.SelectContext(ctx, &people, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("failed to find people by %s", column)
		return nil, fmt.Errorf("failed to find people: %w", err)
	}

	return people, nil
}

// SetMergedInto turns a person into a tombstone pointing at targetID.
func (r *Repository) SetMergedInto(ctx context.Context, id, targetID string) error {
	ctx, span := tracing.StartSpan(ctx, "PersonRepository.SetMergedInto")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(tableName)
	sb.Set(
		sb.Assign("merged_into_id", targetID),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to set merged_into_id")
		return fmt.Errorf("failed to set merged_into_id: %w", err)
	}

	return nil
}

// RepointTombstones redirects every tombstone pointing at fromID to
// point at toID instead, keeping merge chains at depth one. It returns
// the ids of the tombstones it touched so the caller can audit each.
func (r *Repository) RepointTombstones(ctx context.Context, fromID, toID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "PersonRepository.RepointTombstones")
	defer span.End()

	query := fmt.Sprintf("UPDATE %s SET merged_into_id = $1, updated_at = $2 WHERE merged_into_id = $3 RETURNING id", tableName)

	rows, err := r.db.QueryxContext(ctx, query, toID, time.Now().UTC(), fromID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to repoint tombstones")
		return nil, fmt.Errorf("failed to repoint tombstones: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan repointed tombstone: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// GetColumn reads a single whitelisted column. Callers validate the
// column name before reaching this.
func (r *Repository) GetColumn(ctx context.Context, id, column string) (*string, error) {
	ctx, span := tracing.StartSpan(ctx, "PersonRepository.GetColumn")
	defer span.End()

	query := fmt.Sprintf("SELECT %s::text FROM %s WHERE id = $1", column, tableName)

	var value *string
	err := r.db.GetContext(ctx, &value, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to read person column")
		return nil, fmt.Errorf("failed to read person column: %w", err)
	}

	return value, nil
}

// SetColumn writes a single whitelisted column.
func (r *Repository) SetColumn(ctx context.Context, id, column string, value *string) error {
	ctx, span := tracing.StartSpan(ctx, "PersonRepository.SetColumn")
	defer span.End()

	query := fmt.Sprintf("UPDATE %s SET %s = $1, updated_at = $2 WHERE id = $3", tableName, column)

	_, err := r.db.ExecContext(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to set person column")
		return fmt.Errorf("failed to set person column: %w", err)
	}

	return nil
}
