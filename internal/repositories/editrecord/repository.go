package editrecord

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/feralops/clowder/pkg/database"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/tracing"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
)

// EditRecordRepository defines the interface for audit record operations
type EditRecordRepository interface {
	Insert(ctx context.Context, rec models.EditRecord) (*models.EditRecord, error)
	ListByEntity(ctx context.Context, entityType models.EntityType, entityID string, limit, offset int) ([]models.EditRecord, int, error)
}

// Repository implements EditRecordRepository
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

const tableName = "edit_records"

var columns = []string{"id", "entity_type", "entity_id", "field", "old_value", "new_value", "actor_id", "reason", "created_at"}

// Insert appends one audit record. Records are immutable; there is no
// update or delete path.
func (r *Repository) Insert(ctx context.Context, rec models.EditRecord) (*models.EditRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "EditRecordRepository.Insert")
	defer span.End()

	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(tableName)
	sb.Cols(columns...)
	sb.Values(rec.ID, rec.EntityType, rec.EntityID, rec.Field, rec.OldValue, rec.NewValue, rec.ActorID, rec.Reason, rec.CreatedAt)

	query, args := sb.Build()

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to insert edit record")
		return nil, fmt.Errorf("failed to insert edit record: %w", err)
	}

	return &rec, nil
}

// ListByEntity returns one page of an entity's audit trail ordered
// newest first, plus the total count for paging.
func (r *Repository) ListByEntity(ctx context.Context, entityType models.EntityType, entityID string, limit, offset int) ([]models.EditRecord, int, error) {
	ctx, span := tracing.StartSpan(ctx, "EditRecordRepository.ListByEntity")
	defer span.End()

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(tableName)
	countSb.Where(
		countSb.Equal("entity_type", entityType),
		countSb.Equal("entity_id", entityID),
	)

	query, args := countSb.Build()

	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count edit records")
		return nil, 0, fmt.Errorf("failed to count edit records: %w", err)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_id", entityID),
	)
	sb.OrderBy("created_at DESC", "id DESC")
	sb.Limit(limit)
	sb.Offset(offset)

	query, args = sb.Build()

	records := []models.EditRecord{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list edit records")
		return nil, 0, fmt.Errorf("failed to list edit records: %w", err)
	}

	return records, total, nil
}
