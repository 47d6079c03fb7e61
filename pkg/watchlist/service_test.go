package watchlist

import (
	"context"
	"database/sql"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feralops/clowder/pkg/database"
	"github.com/feralops/clowder/pkg/faults"
	"github.com/feralops/clowder/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeTx struct {
	database.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) IsOpen() bool { return !t.committed && !t.rolledBack }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	tx *fakeTx
}

func (f *fakeDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	f.tx = &fakeTx{}
	return ctx, f.tx, nil
}

type fakePlaces struct {
	places map[string]*models.Place
}

func (f *fakePlaces) Upsert(ctx context.Context, req models.CreatePlaceRequest) (*models.Place, error) {
	return nil, nil
}

func (f *fakePlaces) GetByID(ctx context.Context, id string) (*models.Place, error) {
	return f.places[id], nil
}

func (f *fakePlaces) GetByAddressKey(ctx context.Context, addressKey string) (*models.Place, error) {
	return nil, nil
}

func (f *fakePlaces) SetWatch(ctx context.Context, id string, watched bool, reason, actorID *string) error {
	p, ok := f.places[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Watched = watched
	p.WatchReason = reason
	p.WatchSetBy = actorID
	return nil
}

func (f *fakePlaces) GetColumn(ctx context.Context, id, column string) (*string, error) {
	return nil, nil
}

func (f *fakePlaces) SetColumn(ctx context.Context, id, column string, value *string) error {
	return nil
}

type recordedEdit struct {
	field    string
	oldValue *string
	newValue *string
	reason   string
}

type fakeRecorder struct {
	edits []recordedEdit
}

func (f *fakeRecorder) Record(ctx context.Context, entityType models.EntityType, entityID, field string, oldValue, newValue *string, actorID, reason string) error {
	f.edits = append(f.edits, recordedEdit{field: field, oldValue: oldValue, newValue: newValue, reason: reason})
	return nil
}

func TestSetWatch(t *testing.T) {
	t.Run("watching without a reason is rejected", func(t *testing.T) {
		db := &fakeDB{}
		svc := NewService(testLogger(), db, &fakePlaces{}, &fakeRecorder{}, nil)

		_, err := svc.SetWatch(context.Background(), "pl1", models.SetWatchRequest{Watched: true, Reason: "   "}, "actor-1")
		assert.Equal(t, faults.KindReasonRequired, faults.KindOf(err))
		assert.Nil(t, db.tx, "rejected before any transaction starts")
	})

	t.Run("unknown place is not found", func(t *testing.T) {
		svc := NewService(testLogger(), &fakeDB{}, &fakePlaces{places: map[string]*models.Place{}}, &fakeRecorder{}, nil)

		_, err := svc.SetWatch(context.Background(), "missing", models.SetWatchRequest{Watched: true, Reason: "hoarding"}, "actor-1")
		assert.Equal(t, faults.KindNotFound, faults.KindOf(err))
	})

	t.Run("re-affirming refreshes the reason and still audits", func(t *testing.T) {
		places := &fakePlaces{places: map[string]*models.Place{
			"pl1": {ID: "pl1", Watched: true, WatchReason: strPtr("hoarding")},
		}}
		recorder := &fakeRecorder{}
		svc := NewService(testLogger(), &fakeDB{}, places, recorder, nil)

		p, err := svc.SetWatch(context.Background(), "pl1", models.SetWatchRequest{Watched: true, Reason: "still hoarding"}, "actor-1")
		require.NoError(t, err)
		assert.True(t, p.Watched)
		assert.Equal(t, "still hoarding", *p.WatchReason)

		require.Len(t, recorder.edits, 1)
		edit := recorder.edits[0]
		assert.Equal(t, "true", *edit.oldValue)
		assert.Equal(t, "true", *edit.newValue)
		assert.Equal(t, "still hoarding", edit.reason)
	})

	t.Run("watching a place audits and commits", func(t *testing.T) {
		places := &fakePlaces{places: map[string]*models.Place{
			"pl1": {ID: "pl1"},
		}}
		recorder := &fakeRecorder{}
		db := &fakeDB{}
		svc := NewService(testLogger(), db, places, recorder, nil)

		p, err := svc.SetWatch(context.Background(), "pl1", models.SetWatchRequest{Watched: true, Reason: "aggressive trapper complaints"}, "actor-1")
		require.NoError(t, err)
		assert.True(t, p.Watched)
		require.NotNil(t, p.WatchReason)
		assert.Equal(t, "aggressive trapper complaints", *p.WatchReason)
		require.NotNil(t, p.WatchSetBy)
		assert.Equal(t, "actor-1", *p.WatchSetBy)

		require.Len(t, recorder.edits, 1)
		edit := recorder.edits[0]
		assert.Equal(t, "watch_list", edit.field)
		assert.Equal(t, "false", *edit.oldValue)
		assert.Equal(t, "true", *edit.newValue)
		assert.Equal(t, "aggressive trapper complaints", edit.reason)
		assert.True(t, db.tx.committed)
	})

	t.Run("unwatching clears the watch metadata", func(t *testing.T) {
		places := &fakePlaces{places: map[string]*models.Place{
			"pl1": {ID: "pl1", Watched: true, WatchReason: strPtr("hoarding"), WatchSetBy: strPtr("actor-0")},
		}}
		recorder := &fakeRecorder{}
		svc := NewService(testLogger(), &fakeDB{}, places, recorder, nil)

		p, err := svc.SetWatch(context.Background(), "pl1", models.SetWatchRequest{Watched: false}, "actor-1")
		require.NoError(t, err)
		assert.False(t, p.Watched)
		assert.Nil(t, p.WatchReason)
		assert.Nil(t, p.WatchSetBy)
		require.Len(t, recorder.edits, 1)
	})
}

func strPtr(s string) *string { return &s }
