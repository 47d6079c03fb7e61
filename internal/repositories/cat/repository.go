package cat

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

// CatRepository defines the interface for cat record operations
type CatRepository interface {
	Create(ctx context.Context, c models.Cat) (*models.Cat, error)
	GetByID(ctx context.Context, id string) (*models.Cat, error)
	ListByPlace(ctx context.Context, placeID string) ([]models.Cat, error)
	RepointCaretaker(ctx context.Context, fromID, toID string) ([]string, error)
	GetColumn(ctx context.Context, id, column string) (*string, error)
	SetColumn(ctx context.Context, id, column string, value *string) error
}

// Repository implements CatRepository
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

const tableName = "cats"

var columns = []string{"id", "name", "description", "place_id", "caretaker_person_id", "sterilized", "ear_tipped", "created_at", "updated_at"}

// Create inserts a new cat record
func (r *Repository) Create(ctx context.Context, c models.Cat) (*models.Cat, error) {
	ctx, span := tracing.StartSpan(ctx, "CatRepository.Create")
	defer span.End()

	now := time.Now().UTC()
	c.ID = uuid.New().String()
	c.CreatedAt = now
	c.UpdatedAt = now

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols(columns...)
	sb.Values(c.ID, c.Name, c.Description, c.PlaceID, c.CaretakerPersonID, c.Sterilized, c.EarTipped, c.CreatedAt, c.UpdatedAt)

	query, args := sb.Build()

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create cat")
		return nil, fmt.Errorf("failed to create cat: %w", err)
	}

	return &c, nil
}

// GetByID gets a cat by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Cat, error) {
	ctx, span := tracing.StartSpan(ctx, "CatRepository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var c models.Cat
	err := r.db.GetContext(ctx, &c, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get cat by ID")
		return nil, fmt.Errorf("failed to get cat: %w", err)
	}

	return &c, nil
}

// ListByPlace lists the cats recorded at a colony place
func (r *Repository) ListByPlace(ctx context.Context, placeID string) ([]models.Cat, error) {
	ctx, span := tracing.StartSpan(ctx, "CatRepository.ListByPlace")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("place_id", placeID))
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()

	cats := []models.Cat{}
	if err := r.db.SelectContext(ctx, &cats, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list cats by place")
		return nil, fmt.Errorf("failed to list cats: %w", err)
	}

	return cats, nil
}

// RepointCaretaker redirects caretaker references from one person to
// another during a merge, returning affected cat ids.
func (r *Repository) RepointCaretaker(ctx context.Context, fromID, toID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "CatRepository.RepointCaretaker")
	defer span.End()

	query := fmt.Sprintf("UPDATE %s SET caretaker_person_id = $1, updated_at = $2 WHERE caretaker_person_id = $3 RETURNING id", tableName)

	rows, err := r.db.QueryxContext(ctx, query, toID, time.Now().UTC(), fromID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to repoint cat caretaker references")
		return nil, fmt.Errorf("failed to repoint cats: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan repointed cat: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// GetColumn reads a single whitelisted column as text.
func (r *Repository) GetColumn(ctx context.Context, id, column string) (*string, error) {
	ctx, span := tracing.StartSpan(ctx, "CatRepository.GetColumn")
	defer span.End()

	query := fmt.Sprintf("SELECT %s::text FROM %s WHERE id = $1", column, tableName)

	var value *string
	err := r.db.GetContext(ctx, &value, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to read cat column")
		return nil, fmt.Errorf("failed to read cat column: %w", err)
	}

	return value, nil
}

// SetColumn writes a single whitelisted column.
func (r *Repository) SetColumn(ctx context.Context, id, column string, value *string) error {
	ctx, span := tracing.StartSpan(ctx, "CatRepository.SetColumn")
	defer span.End()

	query := fmt.Sprintf("UPDATE %s SET %s = $1, updated_at = $2 WHERE id = $3", tableName, column)

	_, err := r.db.ExecContext(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to set cat column")
		return fmt.Errorf("failed to set cat column: %w", err)
	}

	return nil
}
