// Package watchlist manages the watch flag on colony places.
package watchlist

import (
	"context"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/feralops/clowder/internal/repositories/place"
	"github.com/feralops/clowder/pkg/audit"
	"github.com/feralops/clowder/pkg/entitystore"
	"github.com/feralops/clowder/pkg/events"
	"github.com/feralops/clowder/pkg/faults"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/tracing"
)

// Service flips places on and off the watch list.
type Service struct {
	logger   ectologger.Logger
	db       entitystore.TxBeginner
	places   place.PlaceRepository
	recorder audit.Recorder
	emitter  *events.Emitter
}

func NewService(logger ectologger.Logger, db entitystore.TxBeginner, places place.PlaceRepository, recorder audit.Recorder, emitter *events.Emitter) *Service {
	return &Service{
		logger:   logger,
		db:       db,
		places:   places,
		recorder: recorder,
		emitter:  emitter,
	}
}

// SetWatch puts a place on or takes it off the watch list. Watching
// requires a non-empty reason. Re-affirming the current state is
// permitted and still audited, so a refreshed justification lands in
// the trail.
func (s *Service) SetWatch(ctx context.Context, placeID string, req models.SetWatchRequest, actorID string) (*models.Place, error) {
	ctx, span := tracing.StartSpan(ctx, "watchlist.Service.SetWatch")
	defer span.End()

	reason := strings.TrimSpace(req.Reason)
	if req.Watched && reason == "" {
		return nil, faults.ReasonRequired(placeID)
	}

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return nil, faults.Storage("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.places.GetByID(ctx, placeID)
	if err != nil {
		return nil, faults.Storage("place lookup", err)
	}
	if p == nil {
		return nil, faults.NotFound("place", placeID)
	}

	// Snapshot before the write so the audit entry carries the state the
	// caller actually changed.
	oldValue := strconv.FormatBool(p.Watched)
	newValue := strconv.FormatBool(req.Watched)

	var reasonPtr, actorPtr *string
	if req.Watched {
		reasonPtr = &reason
		actorPtr = &actorID
	}

	if err := s.places.SetWatch(ctx, placeID, req.Watched, reasonPtr, actorPtr); err != nil {
		return nil, faults.Storage("watch flag write", err)
	}
	if err := s.recorder.Record(ctx, models.EntityTypePlace, placeID, "watch_list", &oldValue, &newValue, actorID, reason); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, faults.Storage("commit watch change", err)
	}

	s.emitter.EmitWatchChanged(ctx, events.WatchPayload{
		PlaceID: placeID,
		Watched: req.Watched,
		Reason:  reason,
	}, actorID)

	return s.places.GetByID(ctx, placeID)
}
