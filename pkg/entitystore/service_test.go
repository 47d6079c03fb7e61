package entitystore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feralops/clowder/pkg/database"
	"github.com/feralops/clowder/pkg/faults"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/normalizers"
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

// fakeColumns backs GetColumn/SetColumn for the repository fakes.
type fakeColumns struct {
	cols map[string]map[string]*string
}

func (f *fakeColumns) GetColumn(ctx context.Context, id, column string) (*string, error) {
	row, ok := f.cols[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return row[column], nil
}

func (f *fakeColumns) SetColumn(ctx context.Context, id, column string, value *string) error {
	row, ok := f.cols[id]
	if !ok {
		return sql.ErrNoRows
	}
	row[column] = value
	return nil
}

type fakePeople struct {
	fakeColumns
	people map[string]*models.Person
}

func newFakePeople(people ...*models.Person) *fakePeople {
	f := &fakePeople{
		fakeColumns: fakeColumns{cols: map[string]map[string]*string{}},
		people:      map[string]*models.Person{},
	}
	for _, p := range people {
		f.people[p.ID] = p
	}
	return f
}

func (f *fakePeople) Create(ctx context.Context, req models.CreatePersonRequest) (*models.Person, error) {
	p := &models.Person{ID: "new-person", DisplayName: req.DisplayName}
	f.people[p.ID] = p
	return p, nil
}

func (f *fakePeople) GetByID(ctx context.Context, id string) (*models.Person, error) {
	return f.people[id], nil
}

func (f *fakePeople) FindByEmail(ctx context.Context, emailNormalized string) ([]models.Person, error) {
	return nil, nil
}

func (f *fakePeople) FindByPhone(ctx context.Context, phoneNormalized string) ([]models.Person, error) {
	return nil, nil
}

func (f *fakePeople) SetMergedInto(ctx context.Context, id, targetID string) error {
	p, ok := f.people[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.MergedIntoID = &targetID
	return nil
}

func (f *fakePeople) RepointTombstones(ctx context.Context, fromID, toID string) ([]string, error) {
	var ids []string
	for id, p := range f.people {
		if id != fromID && p.MergedIntoID != nil && *p.MergedIntoID == fromID {
			p.MergedIntoID = &toID
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakePlaces struct {
	fakeColumns
	byKey map[string]*models.Place
}

func newFakePlaces() *fakePlaces {
	return &fakePlaces{
		fakeColumns: fakeColumns{cols: map[string]map[string]*string{}},
		byKey:       map[string]*models.Place{},
	}
}

func (f *fakePlaces) Upsert(ctx context.Context, req models.CreatePlaceRequest) (*models.Place, error) {
	key := normalizers.AddressKey(req.AddressLine, req.City, req.Region, req.PostalCode)
	if existing, ok := f.byKey[key]; ok {
		return existing, nil
	}
	p := &models.Place{ID: "new-place", AddressLine: req.AddressLine, AddressKey: key}
	f.byKey[key] = p
	return p, nil
}

func (f *fakePlaces) GetByID(ctx context.Context, id string) (*models.Place, error) {
	for _, p := range f.byKey {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakePlaces) GetByAddressKey(ctx context.Context, addressKey string) (*models.Place, error) {
	return f.byKey[addressKey], nil
}

func (f *fakePlaces) SetWatch(ctx context.Context, id string, watched bool, reason, actorID *string) error {
	return nil
}

type fakeSubmissions struct {
	fakeColumns
	repointIDs []string
}

func (f *fakeSubmissions) Create(ctx context.Context, msg models.IntakeMessage) (*models.Submission, error) {
	return nil, nil
}

func (f *fakeSubmissions) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	return nil, nil
}

func (f *fakeSubmissions) SetStatus(ctx context.Context, id string, status models.SubmissionStatus) error {
	return nil
}

func (f *fakeSubmissions) SetMatches(ctx context.Context, id string, personID, placeID *string) error {
	return nil
}

func (f *fakeSubmissions) Close(ctx context.Context, id, archiveReason string) error {
	return nil
}

func (f *fakeSubmissions) RepointPerson(ctx context.Context, fromID, toID string) ([]string, error) {
	return f.repointIDs, nil
}

type fakeRequests struct {
	fakeColumns
	repointIDs []string
}

func (f *fakeRequests) Create(ctx context.Context, req models.Request) (*models.Request, error) {
	return nil, nil
}

func (f *fakeRequests) GetByID(ctx context.Context, id string) (*models.Request, error) {
	return nil, nil
}

func (f *fakeRequests) GetBySubmissionID(ctx context.Context, submissionID string) (*models.Request, error) {
	return nil, nil
}

func (f *fakeRequests) RepointPerson(ctx context.Context, fromID, toID string) ([]string, error) {
	return f.repointIDs, nil
}

type fakeCats struct {
	fakeColumns
	repointIDs []string
}

func (f *fakeCats) Create(ctx context.Context, c models.Cat) (*models.Cat, error) {
	return nil, nil
}

func (f *fakeCats) GetByID(ctx context.Context, id string) (*models.Cat, error) {
	return nil, nil
}

func (f *fakeCats) ListByPlace(ctx context.Context, placeID string) ([]models.Cat, error) {
	return nil, nil
}

func (f *fakeCats) RepointCaretaker(ctx context.Context, fromID, toID string) ([]string, error) {
	return f.repointIDs, nil
}

type recordedEdit struct {
	entityType models.EntityType
	entityID   string
	field      string
	oldValue   *string
	newValue   *string
	reason     string
}

type fakeRecorder struct {
	edits []recordedEdit
	err   error
}

func (f *fakeRecorder) Record(ctx context.Context, entityType models.EntityType, entityID, field string, oldValue, newValue *string, actorID, reason string) error {
	if f.err != nil {
		return f.err
	}
	f.edits = append(f.edits, recordedEdit{
		entityType: entityType,
		entityID:   entityID,
		field:      field,
		oldValue:   oldValue,
		newValue:   newValue,
		reason:     reason,
	})
	return nil
}

type testDeps struct {
	db       *fakeDB
	people   *fakePeople
	places   *fakePlaces
	subs     *fakeSubmissions
	reqs     *fakeRequests
	cats     *fakeCats
	recorder *fakeRecorder
}

func newTestService(deps *testDeps) *Service {
	if deps.db == nil {
		deps.db = &fakeDB{}
	}
	if deps.people == nil {
		deps.people = newFakePeople()
	}
	if deps.places == nil {
		deps.places = newFakePlaces()
	}
	if deps.subs == nil {
		deps.subs = &fakeSubmissions{}
	}
	if deps.reqs == nil {
		deps.reqs = &fakeRequests{}
	}
	if deps.cats == nil {
		deps.cats = &fakeCats{}
	}
	if deps.recorder == nil {
		deps.recorder = &fakeRecorder{}
	}
	return NewService(testLogger(), deps.db, deps.people, deps.places, deps.subs, deps.reqs, deps.cats, deps.recorder, nil)
}

func strPtr(s string) *string { return &s }

func TestFindPerson(t *testing.T) {
	tests := []struct {
		name         string
		people       []*models.Person
		lookupID     string
		expectedID   string
		expectedKind faults.Kind
	}{
		{
			name:       "live person resolves to itself",
			people:     []*models.Person{{ID: "p1", DisplayName: "Pat"}},
			lookupID:   "p1",
			expectedID: "p1",
		},
		{
			name: "two hop chain resolves to survivor",
			people: []*models.Person{
				{ID: "p1", MergedIntoID: strPtr("p2")},
				{ID: "p2", MergedIntoID: strPtr("p3")},
				{ID: "p3", DisplayName: "Survivor"},
			},
			lookupID:   "p1",
			expectedID: "p3",
		},
		{
			name:         "unknown id is not found",
			people:       nil,
			lookupID:     "missing",
			expectedKind: faults.KindNotFound,
		},
		{
			name: "chain with missing link is a dangling merge",
			people: []*models.Person{
				{ID: "p1", MergedIntoID: strPtr("gone")},
			},
			lookupID:     "p1",
			expectedKind: faults.KindDanglingMerge,
		},
		{
			name: "cycle is a dangling merge",
			people: []*models.Person{
				{ID: "p1", MergedIntoID: strPtr("p2")},
				{ID: "p2", MergedIntoID: strPtr("p1")},
			},
			lookupID:     "p1",
			expectedKind: faults.KindDanglingMerge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&testDeps{people: newFakePeople(tt.people...)})

			p, err := svc.FindPerson(context.Background(), tt.lookupID)
			if tt.expectedKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.expectedKind, faults.KindOf(err))
				return
			}

			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, tt.expectedID, p.ID)
		})
	}
}

func TestCreatePerson(t *testing.T) {
	deps := &testDeps{}
	svc := newTestService(deps)

	p, err := svc.CreatePerson(context.Background(), models.CreatePersonRequest{DisplayName: "Pat"}, "actor-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Pat", p.DisplayName)

	require.Len(t, deps.recorder.edits, 1)
	assert.Equal(t, models.EntityTypePerson, deps.recorder.edits[0].entityType)
	assert.Equal(t, "record", deps.recorder.edits[0].field)
	assert.True(t, deps.db.tx.committed)
}

func TestCreatePlace(t *testing.T) {
	deps := &testDeps{}
	svc := newTestService(deps)

	req := models.CreatePlaceRequest{AddressLine: "123 Main St"}

	first, err := svc.CreatePlace(context.Background(), req, "actor-1")
	require.NoError(t, err)
	require.Len(t, deps.recorder.edits, 1, "a new place is audited")

	// The same address upserts onto the existing record without a second
	// creation audit.
	second, err := svc.CreatePlace(context.Background(), req, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, deps.recorder.edits, 1)
}

func TestMergePerson(t *testing.T) {
	t.Run("merging a person into itself fails", func(t *testing.T) {
		svc := newTestService(&testDeps{})

		_, err := svc.MergePerson(context.Background(), "p1", "p1", "actor-1")
		assert.Equal(t, faults.KindSelfMerge, faults.KindOf(err))
	})

	t.Run("merging an already merged source fails", func(t *testing.T) {
		people := newFakePeople(
			&models.Person{ID: "p1", MergedIntoID: strPtr("p2")},
			&models.Person{ID: "p2"},
		)
		svc := newTestService(&testDeps{people: people})

		_, err := svc.MergePerson(context.Background(), "p1", "p2", "actor-1")
		assert.Equal(t, faults.KindAlreadyMerged, faults.KindOf(err))
	})

	t.Run("missing source is not found", func(t *testing.T) {
		svc := newTestService(&testDeps{people: newFakePeople(&models.Person{ID: "p2"})})

		_, err := svc.MergePerson(context.Background(), "p1", "p2", "actor-1")
		assert.Equal(t, faults.KindNotFound, faults.KindOf(err))
	})

	t.Run("target chain leading back to the source fails", func(t *testing.T) {
		people := newFakePeople(
			&models.Person{ID: "p1"},
			&models.Person{ID: "p2", MergedIntoID: strPtr("p1")},
		)
		svc := newTestService(&testDeps{people: people})

		_, err := svc.MergePerson(context.Background(), "p1", "p2", "actor-1")
		assert.Equal(t, faults.KindSelfMerge, faults.KindOf(err))
	})

	t.Run("merge repoints records, tombstones the source, and collapses chains", func(t *testing.T) {
		people := newFakePeople(
			&models.Person{ID: "p1"},
			&models.Person{ID: "p2", MergedIntoID: strPtr("p3")},
			&models.Person{ID: "p3"},
			&models.Person{ID: "p4", MergedIntoID: strPtr("p1")},
		)
		deps := &testDeps{
			people: people,
			subs:   &fakeSubmissions{repointIDs: []string{"s1", "s2"}},
			reqs:   &fakeRequests{repointIDs: []string{"r1"}},
			cats:   &fakeCats{repointIDs: []string{"c1"}},
		}
		svc := newTestService(deps)

		// The target p2 is a tombstone; the merge must land on p3.
		summary, err := svc.MergePerson(context.Background(), "p1", "p2", "actor-1")
		require.NoError(t, err)

		assert.Equal(t, "p1", summary.SourceID)
		assert.Equal(t, "p3", summary.TargetID)
		assert.Equal(t, []string{"s1", "s2"}, summary.RepointedSubmissions)
		assert.Equal(t, []string{"r1"}, summary.RepointedRequests)
		assert.Equal(t, []string{"c1"}, summary.RepointedCats)
		assert.ElementsMatch(t, []string{"p4"}, summary.CollapsedTombstones)

		require.NotNil(t, people.people["p1"].MergedIntoID)
		assert.Equal(t, "p3", *people.people["p1"].MergedIntoID)
		assert.Equal(t, "p3", *people.people["p4"].MergedIntoID, "chain collapsed to depth one")

		// 2 submissions + 1 request + 1 cat + source tombstone + 1 collapse.
		assert.Len(t, deps.recorder.edits, 6)
		assert.True(t, deps.db.tx.committed)
	})

	t.Run("audit failure rolls the merge back", func(t *testing.T) {
		people := newFakePeople(
			&models.Person{ID: "p1"},
			&models.Person{ID: "p2"},
		)
		deps := &testDeps{
			people:   people,
			subs:     &fakeSubmissions{repointIDs: []string{"s1"}},
			recorder: &fakeRecorder{err: errors.New("insert failed")},
		}
		svc := newTestService(deps)

		_, err := svc.MergePerson(context.Background(), "p1", "p2", "actor-1")
		require.Error(t, err)
		assert.True(t, deps.db.tx.rolledBack)
		assert.False(t, deps.db.tx.committed)
	})
}

func TestUpdateField(t *testing.T) {
	t.Run("non editable field is rejected", func(t *testing.T) {
		deps := &testDeps{}
		svc := newTestService(deps)

		err := svc.UpdateField(context.Background(), models.EntityTypePlace, "pl1", models.UpdateFieldRequest{
			Field: "address_line",
			Value: strPtr("999 Elm St"),
		}, "actor-1")
		assert.Equal(t, faults.KindInvalid, faults.KindOf(err))
		assert.Nil(t, deps.db.tx, "rejected before any transaction starts")
	})

	t.Run("missing entity is not found", func(t *testing.T) {
		svc := newTestService(&testDeps{})

		err := svc.UpdateField(context.Background(), models.EntityTypePerson, "missing", models.UpdateFieldRequest{
			Field: "notes",
			Value: strPtr("hello"),
		}, "actor-1")
		assert.Equal(t, faults.KindNotFound, faults.KindOf(err))
	})

	t.Run("tombstone cannot be edited", func(t *testing.T) {
		people := newFakePeople(&models.Person{ID: "p1", MergedIntoID: strPtr("p2")})
		deps := &testDeps{people: people}
		svc := newTestService(deps)

		err := svc.UpdateField(context.Background(), models.EntityTypePerson, "p1", models.UpdateFieldRequest{
			Field: "notes",
			Value: strPtr("hello"),
		}, "actor-1")
		assert.Equal(t, faults.KindAlreadyMerged, faults.KindOf(err))
		assert.True(t, deps.db.tx.rolledBack)
		assert.False(t, deps.db.tx.committed)
	})

	t.Run("simple field update audits and commits", func(t *testing.T) {
		people := newFakePeople(&models.Person{ID: "p1"})
		people.cols["p1"] = map[string]*string{"notes": strPtr("old")}
		deps := &testDeps{people: people}
		svc := newTestService(deps)

		err := svc.UpdateField(context.Background(), models.EntityTypePerson, "p1", models.UpdateFieldRequest{
			Field:  "notes",
			Value:  strPtr("new"),
			Reason: "cleanup",
		}, "actor-1")
		require.NoError(t, err)

		assert.Equal(t, "new", *people.cols["p1"]["notes"])
		require.Len(t, deps.recorder.edits, 1)
		edit := deps.recorder.edits[0]
		assert.Equal(t, "old", *edit.oldValue)
		assert.Equal(t, "new", *edit.newValue)
		assert.Equal(t, "cleanup", edit.reason)
		assert.True(t, deps.db.tx.committed)
	})

	t.Run("email edit refreshes the normalized column", func(t *testing.T) {
		people := newFakePeople(&models.Person{ID: "p1"})
		people.cols["p1"] = map[string]*string{"email": nil}
		svc := newTestService(&testDeps{people: people})

		err := svc.UpdateField(context.Background(), models.EntityTypePerson, "p1", models.UpdateFieldRequest{
			Field: "email",
			Value: strPtr("  Cat.Lady@Example.COM"),
		}, "actor-1")
		require.NoError(t, err)

		require.NotNil(t, people.cols["p1"]["email_normalized"])
		assert.Equal(t, "cat.lady@example.com", *people.cols["p1"]["email_normalized"])
	})

	t.Run("status transitions", func(t *testing.T) {
		tests := []struct {
			name         string
			from         string
			to           string
			expectedKind faults.Kind
		}{
			{name: "received to triaged", from: "received", to: "triaged"},
			{name: "received to closed", from: "received", to: "closed"},
			{name: "triaged to closed", from: "triaged", to: "closed"},
			{name: "triaged back to received", from: "triaged", to: "received", expectedKind: faults.KindInvalid},
			{name: "converted is terminal", from: "converted", to: "closed", expectedKind: faults.KindInvalid},
			{name: "closed is terminal", from: "closed", to: "received", expectedKind: faults.KindInvalid},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				subs := &fakeSubmissions{fakeColumns: fakeColumns{cols: map[string]map[string]*string{
					"s1": {"status": strPtr(tt.from)},
				}}}
				svc := newTestService(&testDeps{subs: subs})

				err := svc.UpdateField(context.Background(), models.EntityTypeSubmission, "s1", models.UpdateFieldRequest{
					Field: "status",
					Value: strPtr(tt.to),
				}, "actor-1")
				if tt.expectedKind != "" {
					assert.Equal(t, tt.expectedKind, faults.KindOf(err))
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.to, *subs.cols["s1"]["status"])
			})
		}
	})

	t.Run("status cannot be cleared", func(t *testing.T) {
		subs := &fakeSubmissions{fakeColumns: fakeColumns{cols: map[string]map[string]*string{
			"s1": {"status": strPtr("received")},
		}}}
		svc := newTestService(&testDeps{subs: subs})

		err := svc.UpdateField(context.Background(), models.EntityTypeSubmission, "s1", models.UpdateFieldRequest{
			Field: "status",
			Value: nil,
		}, "actor-1")
		assert.Equal(t, faults.KindInvalid, faults.KindOf(err))
	})
}
