package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	catrepo "github.com/feralops/clowder/internal/repositories/cat"
	"github.com/feralops/clowder/internal/repositories/editrecord"
	personrepo "github.com/feralops/clowder/internal/repositories/person"
	placerepo "github.com/feralops/clowder/internal/repositories/place"
	requestrepo "github.com/feralops/clowder/internal/repositories/request"
	submissionrepo "github.com/feralops/clowder/internal/repositories/submission"
	"github.com/feralops/clowder/pkg/audit"
	"github.com/feralops/clowder/pkg/conversion"
	"github.com/feralops/clowder/pkg/database"
	"github.com/feralops/clowder/pkg/entitystore"
	"github.com/feralops/clowder/pkg/events"
	"github.com/feralops/clowder/pkg/faults"
	"github.com/feralops/clowder/pkg/intake"
	"github.com/feralops/clowder/pkg/matching"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/watchlist"
)

// testContext wires the full service stack against a real database.
// Tests skip unless DB_HOST is set; the schema must already be migrated.
type testContext struct {
	ctx       context.Context
	db        database.DB
	store     *entitystore.Service
	converter *conversion.Service
	receiver  *intake.Service
	watcher   *watchlist.Service
	auditor   *audit.Service
	people    personrepo.PersonRepository
}

func testLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func setupTestContext(t *testing.T) *testContext {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	host := os.Getenv("DB_HOST")
	if host == "" {
		t.Skip("Database not configured")
	}

	user := os.Getenv("DB_USER_NAME")
	if user == "" {
		user = "user"
	}
	pass := os.Getenv("DB_PASSWORD")
	if pass == "" {
		pass = "password"
	}
	name := os.Getenv("DB_NAME")
	if name == "" {
		name = "clowder"
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable", host, user, pass, name)
	conn, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	logger := testLogger()
	db := database.NewDatabaseInstance(conn, logger)

	people := personrepo.NewRepository(db, logger)
	places := placerepo.NewRepository(db, logger)
	submissions := submissionrepo.NewRepository(db, logger)
	requests := requestrepo.NewRepository(db, logger)
	cats := catrepo.NewRepository(db, logger)
	records := editrecord.NewRepository(db, logger)

	auditor := audit.NewService(logger, records, 50, 200)
	emitter := events.NewEmitter(nil, logger)
	store := entitystore.NewService(logger, db, people, places, submissions, requests, cats, auditor, emitter)
	matcher := matching.NewMatcher(logger, people, places, store)

	return &testContext{
		ctx:       context.Background(),
		db:        db,
		store:     store,
		converter: conversion.NewService(logger, db, submissions, requests, matcher, auditor, emitter, 10*time.Second),
		receiver:  intake.NewService(logger, db, submissions, auditor),
		watcher:   watchlist.NewService(logger, db, places, auditor, emitter),
		auditor:   auditor,
		people:    people,
	}
}

// uniqueIntake builds an intake message whose contact and address cannot
// collide with earlier runs against the same database.
func uniqueIntake(tag string) models.IntakeMessage {
	suffix := uuid.New().String()[:8]
	return models.IntakeMessage{
		Source:       "integration-" + tag,
		ContactName:  "Pat " + suffix,
		ContactEmail: fmt.Sprintf("pat-%s@example.com", suffix),
		ContactPhone: "",
		AddressLine:  fmt.Sprintf("%s Main St", suffix),
		City:         "Springfield",
		CatCount:     2,
		Notes:        "colony behind the diner",
	}
}

func triage(t *testing.T, tc *testContext, submissionID string) {
	t.Helper()
	status := string(models.SubmissionStatusTriaged)
	err := tc.store.UpdateField(tc.ctx, models.EntityTypeSubmission, submissionID, models.UpdateFieldRequest{
		Field:  "status",
		Value:  &status,
		Reason: "triage pass",
	}, "test-operator")
	require.NoError(t, err)
}

func TestIntakeToConversionFlow(t *testing.T) {
	tc := setupTestContext(t)

	sub, err := tc.receiver.Receive(tc.ctx, uniqueIntake("convert"))
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusReceived, sub.Status)

	triage(t, tc, sub.ID)

	req, err := tc.converter.Convert(tc.ctx, sub.ID, "test-operator")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, req.SubmissionID)
	assert.Equal(t, models.RequestStatusOpen, req.Status)
	assert.Equal(t, 2, req.CatCount)
	assert.NotEmpty(t, req.RequesterPersonID)
	assert.NotEmpty(t, req.PlaceID)

	// The conversion created a brand new person for the unique contact,
	// and the creation itself is on the person's audit trail.
	person, err := tc.store.FindPerson(tc.ctx, req.RequesterPersonID)
	require.NoError(t, err)
	assert.False(t, person.IsMerged())

	personPage, err := tc.auditor.History(tc.ctx, models.EntityTypePerson, req.RequesterPersonID, 50, 0)
	require.NoError(t, err)
	var sawCreation bool
	for _, rec := range personPage.Records {
		if rec.Field == "record" {
			sawCreation = true
		}
	}
	assert.True(t, sawCreation)

	// A repeat conversion is success-shaped: the fault carries the
	// winning request id.
	_, err = tc.converter.Convert(tc.ctx, sub.ID, "test-operator")
	fault, ok := faults.As(err)
	require.True(t, ok)
	assert.Equal(t, faults.KindAlreadyConverted, fault.Kind)
	assert.Equal(t, req.ID, fault.RequestID)

	// Every step of the flow landed in the audit trail: intake, triage,
	// two match writes, and the status flip.
	page, err := tc.auditor.History(tc.ctx, models.EntityTypeSubmission, sub.ID, 50, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, page.Total, 5)

	fields := make(map[string]bool)
	for _, rec := range page.Records {
		fields[rec.Field] = true
	}
	assert.True(t, fields["status"])
	assert.True(t, fields["matched_person_id"])
	assert.True(t, fields["matched_place_id"])
}

func TestConcurrentConvertsCreateOneRequest(t *testing.T) {
	tc := setupTestContext(t)

	sub, err := tc.receiver.Receive(tc.ctx, uniqueIntake("race"))
	require.NoError(t, err)
	triage(t, tc, sub.ID)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*models.Request, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tc.converter.Convert(tc.ctx, sub.ID, "test-operator")
		}(i)
	}
	wg.Wait()

	// Exactly one caller wins; the unique constraint on the submission id
	// serializes the rest.
	var winnerID string
	winners := 0
	for i := range results {
		if errs[i] == nil {
			winners++
			winnerID = results[i].ID
		}
	}
	require.Equal(t, 1, winners)

	for i := range errs {
		if errs[i] == nil {
			continue
		}
		fault, ok := faults.As(errs[i])
		require.True(t, ok)
		assert.Equal(t, faults.KindAlreadyConverted, fault.Kind)
		assert.Equal(t, winnerID, fault.RequestID)
	}
}

func TestRepeatSubmissionMatchesExistingEntities(t *testing.T) {
	tc := setupTestContext(t)

	msg := uniqueIntake("repeat")

	first, err := tc.receiver.Receive(tc.ctx, msg)
	require.NoError(t, err)
	triage(t, tc, first.ID)
	firstReq, err := tc.converter.Convert(tc.ctx, first.ID, "test-operator")
	require.NoError(t, err)

	// Same contact and address arriving again resolves to the same
	// person and place instead of creating duplicates.
	second, err := tc.receiver.Receive(tc.ctx, msg)
	require.NoError(t, err)
	triage(t, tc, second.ID)
	secondReq, err := tc.converter.Convert(tc.ctx, second.ID, "test-operator")
	require.NoError(t, err)

	assert.Equal(t, firstReq.RequesterPersonID, secondReq.RequesterPersonID)
	assert.Equal(t, firstReq.PlaceID, secondReq.PlaceID)
	assert.NotEqual(t, firstReq.ID, secondReq.ID)
}

func TestMergeRepointsConvertedSubmission(t *testing.T) {
	tc := setupTestContext(t)

	sub, err := tc.receiver.Receive(tc.ctx, uniqueIntake("merge"))
	require.NoError(t, err)
	triage(t, tc, sub.ID)
	req, err := tc.converter.Convert(tc.ctx, sub.ID, "test-operator")
	require.NoError(t, err)

	target, err := tc.store.CreatePerson(tc.ctx, models.CreatePersonRequest{
		DisplayName: "Survivor " + uuid.New().String()[:8],
	}, "test-operator")
	require.NoError(t, err)

	summary, err := tc.store.MergePerson(tc.ctx, req.RequesterPersonID, target.ID, "test-operator")
	require.NoError(t, err)
	assert.Contains(t, summary.RepointedSubmissions, sub.ID)
	assert.Contains(t, summary.RepointedRequests, req.ID)

	// The source id now resolves through its tombstone to the target.
	resolved, err := tc.store.FindPerson(tc.ctx, req.RequesterPersonID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, resolved.ID)

	// Merging again fails; the source is a tombstone.
	_, err = tc.store.MergePerson(tc.ctx, req.RequesterPersonID, target.ID, "test-operator")
	assert.Equal(t, faults.KindAlreadyMerged, faults.KindOf(err))
}

func TestWatchlistFlow(t *testing.T) {
	tc := setupTestContext(t)

	place, err := tc.store.CreatePlace(tc.ctx, models.CreatePlaceRequest{
		AddressLine: uuid.New().String()[:8] + " Watch Ln",
		City:        "Springfield",
	}, "test-operator")
	require.NoError(t, err)

	_, err = tc.watcher.SetWatch(tc.ctx, place.ID, models.SetWatchRequest{Watched: true}, "test-operator")
	assert.Equal(t, faults.KindReasonRequired, faults.KindOf(err))

	watched, err := tc.watcher.SetWatch(tc.ctx, place.ID, models.SetWatchRequest{
		Watched: true,
		Reason:  "repeat trapping complaints",
	}, "test-operator")
	require.NoError(t, err)
	assert.True(t, watched.Watched)
	require.NotNil(t, watched.WatchReason)
	assert.Equal(t, "repeat trapping complaints", *watched.WatchReason)

	page, err := tc.auditor.History(tc.ctx, models.EntityTypePlace, place.ID, 50, 0)
	require.NoError(t, err)

	var sawWatch bool
	for _, rec := range page.Records {
		if rec.Field == "watch_list" {
			sawWatch = true
		}
	}
	assert.True(t, sawWatch)
}
