package place

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

// PlaceRepository defines the interface for place record operations
type PlaceRepository interface {
	Upsert(ctx context.Context, req models.CreatePlaceRequest) (*models.Place, error)
	GetByID(ctx context.Context, id string) (*models.Place, error)
	GetByAddressKey(ctx context.Context, addressKey string) (*models.Place, error)
	SetWatch(ctx context.Context, id string, watched bool, reason, actorID *string) error
	GetColumn(ctx context.Context, id, column string) (*string, error)
	SetColumn(ctx context.Context, id, column string, value *string) error
}

// Repository implements PlaceRepository
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

const tableName = "places"

var columns = []string{"id", "address_line", "city", "region", "postal_code", "address_key", "latitude", "longitude", "watched", "watch_reason", "watch_set_by", "watch_set_at", "created_at", "updated_at"}

// Upsert inserts a place keyed on its normalized address, or refreshes
// the display fields of the existing row when the key already exists.
// Either way the surviving row is returned.
func (r *Repository) Upsert(ctx context.Context, req models.CreatePlaceRequest) (*models.Place, error) {
	ctx, span := tracing.StartSpan(ctx, "PlaceRepository.Upsert")
	defer span.End()

	now := time.Now().UTC()
	id := uuid.New().String()
	addressKey := normalizers.AddressKey(req.AddressLine, req.City, req.Region, req.PostalCode)

	sb := database.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols("id", "address_line", "city", "region", "postal_code", "address_key", "latitude", "longitude", "watched", "created_at", "updated_at")
	sb.Values(id, req.AddressLine, req.City, req.Region, req.PostalCode, addressKey, req.Latitude, req.Longitude, false, now, now)
	ub := sb.OnConflict("address_key")
	ub.Set(
		ub.Assign("address_line", database.Excluded("address_line")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)

	query, args := sb.Build()

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to upsert place")
		return nil, fmt.Errorf("failed to upsert place: %w", err)
	}

	return r.GetByAddressKey(ctx, addressKey)
}

// GetByID gets a place by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Place, error) {
	return r.getBy(ctx, "PlaceRepository.GetByID", "id", id)
}

// GetByAddressKey gets a place by its normalized address key
func (r *Repository) GetByAddressKey(ctx context.Context, addressKey string) (*models.Place, error) {
	return r.getBy(ctx, "PlaceRepository.GetByAddressKey", "address_key", addressKey)
}

func (r *Repository) getBy(ctx context.Context, spanName, column, value string) (*models.Place, error) {
	ctx, span := tracing.StartSpan(ctx, spanName)
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal(column, value))

	query, args := sb.Build()

	var p models.Place
	err := r.db.GetContext(ctx, &p, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Errorf("failed to get place by %s", column)
		return nil, fmt.Errorf("failed to get place: %w", err)
	}

	return &p, nil
}

// SetWatch flips the watch flag. Reason and actor are recorded when
// watching and cleared when unwatching.
func (r *Repository) SetWatch(ctx context.Context, id string, watched bool, reason, actorID *string) error {
	ctx, span := tracing.StartSpan(ctx, "PlaceRepository.SetWatch")
	defer span.End()

	now := time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(tableName)
	if watched {
		sb.Set(
			sb.Assign("watched", true),
			sb.Assign("watch_reason", reason),
			sb.Assign("watch_set_by", actorID),
			sb.Assign("watch_set_at", now),
			sb.Assign("updated_at", now),
		)
	} else {
		sb.Set(
			sb.Assign("watched", false),
			sb.Assign("watch_reason", nil),
			sb.Assign("watch_set_by", nil),
			sb.Assign("watch_set_at", nil),
			sb.Assign("updated_at", now),
		)
	}
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to set place watch flag")
		return fmt.Errorf("failed to set place watch flag: %w", err)
	}

	return nil
}

// GetColumn reads a single whitelisted column as text.
func (r *Repository) GetColumn(ctx context.Context, id, column string) (*string, error) {
	ctx, span := tracing.StartSpan(ctx, "PlaceRepository.GetColumn")
	defer span.End()

	query := fmt.Sprintf("SELECT %s::text FROM %s WHERE id = $1", column, tableName)

	var value *string
	err := r.db.GetContext(ctx, &value, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to read place column")
		return nil, fmt.Errorf("failed to read place column: %w", err)
	}

	return value, nil
}

// SetColumn writes a single whitelisted column.
func (r *Repository) SetColumn(ctx context.Context, id, column string, value *string) error {
	ctx, span := tracing.StartSpan(ctx, "PlaceRepository.SetColumn")
	defer span.End()

	query := fmt.Sprintf("UPDATE %s SET %s = $1, updated_at = $2 WHERE id = $3", tableName, column)

	_, err := r.db.ExecContext(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to set place column")
		return fmt.Errorf("failed to set place column: %w", err)
	}

	return nil
}
