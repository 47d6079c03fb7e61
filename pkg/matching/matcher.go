// Package matching resolves submission contact info and addresses
// against existing person and place records.
package matching

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/feralops/clowder/internal/repositories/person"
	"github.com/feralops/clowder/internal/repositories/place"
	"github.com/feralops/clowder/pkg/faults"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/normalizers"
	"github.com/feralops/clowder/pkg/tracing"
)

// EntityCreator creates person and place records with their audited
// creation entries. Created records must leave a trail like any other
// state change, so creation goes through the entity store rather than
// straight at the repositories.
type EntityCreator interface {
	CreatePerson(ctx context.Context, req models.CreatePersonRequest, actorID string) (*models.Person, error)
	CreatePlace(ctx context.Context, req models.CreatePlaceRequest, actorID string) (*models.Place, error)
}

// Matcher applies the match policy. Identifiers are tried strongest
// first; a single hit is authoritative, multiple hits stop the pipeline
// for review, and zero hits fall through to the next identifier. It
// never silently creates a record when candidates exist.
type Matcher struct {
	logger  ectologger.Logger
	people  person.PersonRepository
	places  place.PlaceRepository
	creator EntityCreator
}

func NewMatcher(logger ectologger.Logger, people person.PersonRepository, places place.PlaceRepository, creator EntityCreator) *Matcher {
	return &Matcher{
		logger:  logger,
		people:  people,
		places:  places,
		creator: creator,
	}
}

// MatchPerson resolves a submission's contact to a person, creating one
// when nothing matches. Ambiguity comes back as a needs review fault
// carrying the candidate list.
func (m *Matcher) MatchPerson(ctx context.Context, sub *models.Submission, actorID string) (*models.PersonMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Matcher.MatchPerson")
	defer span.End()

	if sub.MatchedPersonID != nil && *sub.MatchedPersonID != "" {
		resolved, err := m.resolvePerson(ctx, *sub.MatchedPersonID)
		if err != nil {
			return nil, err
		}
		return &models.PersonMatch{
			PersonID:  resolved.ID,
			Outcome:   models.MatchOutcomeExisting,
			MatchedOn: []string{"prior_match"},
		}, nil
	}

	if email := normalizers.NormalizeEmail(sub.ContactEmail); email != "" {
		match, err := m.matchBy(ctx, m.people.FindByEmail, email, "email")
		if err != nil || match != nil {
			return match, err
		}
	}

	if phone := normalizers.NormalizePhone(sub.ContactPhone); phone != "" {
		match, err := m.matchBy(ctx, m.people.FindByPhone, phone, "phone")
		if err != nil || match != nil {
			return match, err
		}
	}

	created, err := m.creator.CreatePerson(ctx, models.CreatePersonRequest{
		DisplayName: sub.ContactName,
		Email:       sub.ContactEmail,
		Phone:       sub.ContactPhone,
	}, actorID)
	if err != nil {
		return nil, err
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"person_id":     created.ID,
		"submission_id": sub.ID,
	}).Info("created person for unmatched submission")

	return &models.PersonMatch{
		PersonID: created.ID,
		Outcome:  models.MatchOutcomeCreated,
	}, nil
}

const maxChainHops = 10

// resolvePerson follows the merge chain from a previously matched id to
// the surviving record. A broken link or a cycle is a dangling merge
// fault rather than a reason to re-run the match.
func (m *Matcher) resolvePerson(ctx context.Context, id string) (*models.Person, error) {
	visited := make(map[string]bool)
	currentID := id

	for hops := 0; hops <= maxChainHops; hops++ {
		if visited[currentID] {
			return nil, faults.DanglingMerge(currentID, "merge chain contains a cycle")
		}
		visited[currentID] = true

		p, err := m.people.GetByID(ctx, currentID)
		if err != nil {
			return nil, faults.Storage("person lookup", err)
		}
		if p == nil {
			if currentID == id {
				return nil, faults.NotFound("person", id)
			}
			return nil, faults.DanglingMerge(currentID, "merge chain points at a missing person")
		}

		if !p.IsMerged() {
			return p, nil
		}
		currentID = *p.MergedIntoID
	}

	return nil, faults.DanglingMerge(currentID, "merge chain exceeds maximum depth")
}

type finder func(ctx context.Context, value string) ([]models.Person, error)

func (m *Matcher) matchBy(ctx context.Context, find finder, value, identifier string) (*models.PersonMatch, error) {
	candidates, err := find(ctx, value)
	if err != nil {
		return nil, faults.Storage("person match lookup", err)
	}

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return &models.PersonMatch{
			PersonID:  candidates[0].ID,
			Outcome:   models.MatchOutcomeExisting,
			MatchedOn: []string{identifier},
		}, nil
	}

	list := make([]faults.Candidate, len(candidates))
	for i, c := range candidates {
		list[i] = faults.Candidate{
			ID:          c.ID,
			DisplayName: c.DisplayName,
			MatchedOn:   []string{identifier},
		}
	}
	return nil, faults.NeedsReview("person", list)
}

// MatchPlace resolves a submission's address to a place by its
// normalized address key, creating one when none exists. The key is
// unique so there is never an ambiguous place match.
func (m *Matcher) MatchPlace(ctx context.Context, sub *models.Submission, actorID string) (*models.PlaceMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Matcher.MatchPlace")
	defer span.End()

	if sub.MatchedPlaceID != nil && *sub.MatchedPlaceID != "" {
		p, err := m.places.GetByID(ctx, *sub.MatchedPlaceID)
		if err != nil {
			return nil, faults.Storage("place lookup", err)
		}
		if p == nil {
			return nil, faults.NotFound("place", *sub.MatchedPlaceID)
		}
		return &models.PlaceMatch{
			PlaceID: p.ID,
			Outcome: models.MatchOutcomeExisting,
		}, nil
	}

	addressKey := normalizers.AddressKey(sub.AddressLine, sub.City, sub.Region, sub.PostalCode)
	if addressKey == "" {
		return nil, faults.Invalid("submission", sub.ID, "submission has no usable address")
	}

	existing, err := m.places.GetByAddressKey(ctx, addressKey)
	if err != nil {
		return nil, faults.Storage("place match lookup", err)
	}
	if existing != nil {
		return &models.PlaceMatch{
			PlaceID: existing.ID,
			Outcome: models.MatchOutcomeExisting,
		}, nil
	}

	created, err := m.creator.CreatePlace(ctx, models.CreatePlaceRequest{
		AddressLine: sub.AddressLine,
		City:        sub.City,
		Region:      sub.Region,
		PostalCode:  sub.PostalCode,
	}, actorID)
	if err != nil {
		return nil, err
	}

	return &models.PlaceMatch{
		PlaceID: created.ID,
		Outcome: models.MatchOutcomeCreated,
	}, nil
}
