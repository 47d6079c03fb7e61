// Package audit records and serves the immutable edit trail for every
// entity in the system.
package audit

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/feralops/clowder/internal/repositories/editrecord"
	"github.com/feralops/clowder/pkg/faults"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/tracing"
)

// Recorder writes audit entries. Services that mutate entities take a
// Recorder so every change lands in the same trail.
type Recorder interface {
	Record(ctx context.Context, entityType models.EntityType, entityID, field string, oldValue, newValue *string, actorID, reason string) error
}

// Service implements Recorder and serves paginated history reads.
type Service struct {
	logger       ectologger.Logger
	records      editrecord.EditRecordRepository
	defaultLimit int
	maxLimit     int
}

func NewService(logger ectologger.Logger, records editrecord.EditRecordRepository, defaultLimit, maxLimit int) *Service {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if maxLimit <= 0 {
		maxLimit = 200
	}
	return &Service{
		logger:       logger,
		records:      records,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// Record appends one audit entry. It runs inside whatever transaction
// the context carries, so a rolled back mutation takes its audit entry
// down with it.
func (s *Service) Record(ctx context.Context, entityType models.EntityType, entityID, field string, oldValue, newValue *string, actorID, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "audit.Service.Record")
	defer span.End()

	rec := models.EditRecord{
		EntityType: entityType,
		EntityID:   entityID,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		ActorID:    actorID,
		Reason:     reason,
	}

	if _, err := s.records.Insert(ctx, rec); err != nil {
		return faults.Storage("audit record insert", err)
	}

	return nil
}

// History returns one page of an entity's audit trail, newest first.
// Out-of-range limits are clamped rather than rejected.
func (s *Service) History(ctx context.Context, entityType models.EntityType, entityID string, limit, offset int) (*models.HistoryPage, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.Service.History")
	defer span.End()

	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	records, total, err := s.records.ListByEntity(ctx, entityType, entityID, limit, offset)
	if err != nil {
		return nil, faults.Storage("audit history read", err)
	}

	return &models.HistoryPage{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}, nil
}
