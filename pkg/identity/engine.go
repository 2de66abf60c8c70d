package identity

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/platform/tracing"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Scenario names the merge path an identify call took.
type Scenario string

const (
	ScenarioNew     Scenario = "new"
	ScenarioPartial Scenario = "partial"
	ScenarioExact   Scenario = "exact"
	ScenarioSplit   Scenario = "split"
)

// Outcome describes every write a merge performed.
type Outcome struct {
	Scenario  Scenario
	PrimaryID int64
	// Created holds contacts inserted by this merge, at most one.
	Created []models.Contact
	// Demoted is the former primary absorbed by a split merge.
	Demoted       *models.Contact
	RelinkedCount int64
}

// Engine applies the merge rules for one normalized request. It must run
// inside a unit of work; it assumes the store sees a consistent snapshot.
type Engine struct {
	store    ContactStore
	matcher  *Matcher
	resolver *Resolver
	logger   ectologger.Logger
	now      func() time.Time
}

func NewEngine(store ContactStore, logger ectologger.Logger) *Engine {
	resolver := NewResolver(store)
	return &Engine{
		store:    store,
		matcher:  NewMatcher(store, resolver),
		resolver: resolver,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Merge reconciles email and phone ("" meaning absent) with the stored
// contacts and returns the resulting cluster's primary.
func (e *Engine) Merge(ctx context.Context, email, phone string) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Engine.Merge")
	defer span.End()

	match, err := e.matcher.Classify(ctx, email, phone)
	if err != nil {
		return Outcome{}, err
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"shape":      string(match.Shape),
		"candidates": len(match.Candidates),
	})

	var outcome Outcome
	switch match.Shape {
	case ShapeNone:
		outcome, err = e.createPrimary(ctx, email, phone)
	case ShapeExact:
		outcome, err = e.resolveExact(ctx, *match.Exact)
	case ShapeSplit:
		outcome, err = e.mergeClusters(ctx, email, phone, *match.EmailPrimary, *match.PhonePrimary)
	default:
		outcome, err = e.extendCluster(ctx, email, phone, match.Candidates)
	}
	if err != nil {
		log.WithError(err).Error("Failed to merge contact")
		return Outcome{}, err
	}

	log.WithFields(map[string]any{
		"scenario":       string(outcome.Scenario),
		"primary_id":     outcome.PrimaryID,
		"created":        len(outcome.Created),
		"relinked_count": outcome.RelinkedCount,
	}).Debug("Merged contact")
	return outcome, nil
}

func (e *Engine) createPrimary(ctx context.Context, email, phone string) (Outcome, error) {
	contact, err := e.store.Insert(ctx, models.Contact{
		Email:          models.StringPtr(email),
		PhoneNumber:    models.StringPtr(phone),
		LinkPrecedence: models.LinkPrecedencePrimary,
	})
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Scenario:  ScenarioNew,
		PrimaryID: contact.ID,
		Created:   []models.Contact{contact},
	}, nil
}

func (e *Engine) resolveExact(ctx context.Context, exact models.Contact) (Outcome, error) {
	primary, err := e.resolver.ResolvePrimary(ctx, exact.ID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Scenario: ScenarioExact, PrimaryID: primary.ID}, nil
}

// extendCluster attaches new information to the oldest cluster among the
// candidates.
func (e *Engine) extendCluster(ctx context.Context, email, phone string, candidates []models.Contact) (Outcome, error) {
	var primary *models.Contact
	resolved := map[int64]bool{}
	for _, candidate := range candidates {
		p, err := e.resolver.ResolvePrimary(ctx, candidate.ID)
		if err != nil {
			return Outcome{}, err
		}
		if resolved[p.ID] {
			continue
		}
		resolved[p.ID] = true
		if primary == nil || p.OlderThan(*primary) {
			primary = &p
		}
	}

	outcome := Outcome{Scenario: ScenarioPartial, PrimaryID: primary.ID}
	created, err := e.addSecondaryIfNew(ctx, *primary, email, phone)
	if err != nil {
		return Outcome{}, err
	}
	outcome.Created = created
	return outcome, nil
}

// mergeClusters folds the newer primary's cluster into the older one.
func (e *Engine) mergeClusters(ctx context.Context, email, phone string, emailPrimary, phonePrimary models.Contact) (Outcome, error) {
	winner, loser := emailPrimary, phonePrimary
	if loser.OlderThan(winner) {
		winner, loser = loser, winner
	}

	at := e.now()
	if err := e.store.Demote(ctx, loser.ID, winner.ID, at); err != nil {
		return Outcome{}, err
	}
	relinked, err := e.store.Relink(ctx, loser.ID, winner.ID, at)
	if err != nil {
		return Outcome{}, err
	}

	demoted := loser
	demoted.LinkPrecedence = models.LinkPrecedenceSecondary
	demoted.LinkedID = &winner.ID
	demoted.UpdatedAt = at

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_id":     winner.ID,
		"demoted_id":     loser.ID,
		"relinked_count": relinked,
	}).Info("Merged contact clusters")

	outcome := Outcome{
		Scenario:      ScenarioSplit,
		PrimaryID:     winner.ID,
		Demoted:       &demoted,
		RelinkedCount: relinked,
	}

	created, err := e.addSecondaryIfNew(ctx, winner, email, phone)
	if err != nil {
		return Outcome{}, err
	}
	outcome.Created = created
	return outcome, nil
}

// addSecondaryIfNew inserts one secondary carrying the full requested pair
// when the request brings an email or a phone the cluster does not have yet.
func (e *Engine) addSecondaryIfNew(ctx context.Context, primary models.Contact, email, phone string) ([]models.Contact, error) {
	secondaries, err := e.store.ListSecondaries(ctx, primary.ID)
	if err != nil {
		return nil, err
	}

	emails, phones := clusterIdentifiers(primary, secondaries)
	newEmail := email != "" && !emails[email]
	newPhone := phone != "" && !phones[phone]
	if !newEmail && !newPhone {
		return nil, nil
	}

	primaryID := primary.ID
	contact, err := e.store.Insert(ctx, models.Contact{
		Email:          models.StringPtr(email),
		PhoneNumber:    models.StringPtr(phone),
		LinkPrecedence: models.LinkPrecedenceSecondary,
		LinkedID:       &primaryID,
	})
	if err != nil {
		return nil, err
	}
	return []models.Contact{contact}, nil
}
