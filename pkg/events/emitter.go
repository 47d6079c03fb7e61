// Package events handles event emission for entity lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"github.com/feralops/clowder/pkg/kafka"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/tracing"
)

// Emitter publishes entity lifecycle events. Services call it after
// their transaction commits; a nil *Emitter is a valid no-op so tests
// and event-less deployments need no wiring.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

func (e *Emitter) emit(ctx context.Context, event *kafka.EntityEvent) {
	if e == nil || e.producer == nil {
		return
	}

	// Emission is best effort. The state change has already committed,
	// so a publish failure is logged and not surfaced to the caller.
	if err := e.producer.PublishEntityEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("event_type", event.EventType).Error("Failed to emit entity event")
	}
}

// EmitSubmissionConverted announces a submission becoming a request
func (e *Emitter) EmitSubmissionConverted(ctx context.Context, payload ConversionPayload, actorID string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitSubmissionConverted")
	defer span.End()

	data, _ := json.Marshal(payload)
	e.emit(ctx, &kafka.EntityEvent{
		EventType:  "submission.converted",
		EntityID:   payload.SubmissionID,
		EntityType: string(models.EntityTypeSubmission),
		ActorID:    actorID,
		Data:       data,
	})
}

// EmitPersonMerged announces a person collapsing into another
func (e *Emitter) EmitPersonMerged(ctx context.Context, payload MergePayload, actorID string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitPersonMerged")
	defer span.End()

	data, _ := json.Marshal(payload)
	e.emit(ctx, &kafka.EntityEvent{
		EventType:  "person.merged",
		EntityID:   payload.SourceID,
		EntityType: string(models.EntityTypePerson),
		ActorID:    actorID,
		Data:       data,
	})
}

// EmitWatchChanged announces a place's watch flag flipping
func (e *Emitter) EmitWatchChanged(ctx context.Context, payload WatchPayload, actorID string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitWatchChanged")
	defer span.End()

	data, _ := json.Marshal(payload)
	e.emit(ctx, &kafka.EntityEvent{
		EventType:  "place.watch_changed",
		EntityID:   payload.PlaceID,
		EntityType: string(models.EntityTypePlace),
		ActorID:    actorID,
		Data:       data,
	})
}

// EmitFieldUpdated announces a single field change on an entity
func (e *Emitter) EmitFieldUpdated(ctx context.Context, entityType models.EntityType, entityID, field string, actorID string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitFieldUpdated")
	defer span.End()

	data, _ := json.Marshal(map[string]string{"field": field})
	e.emit(ctx, &kafka.EntityEvent{
		EventType:  "entity.field_updated",
		EntityID:   entityID,
		EntityType: string(entityType),
		ActorID:    actorID,
		Data:       data,
	})
}
