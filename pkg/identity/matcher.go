package identity

import (
	"context"

	"github.com/Ramsey-B/fern/internal/platform/tracing"
	"github.com/Ramsey-B/fern/pkg/models"
)

// MatchShape classifies how a request relates to stored contacts.
type MatchShape string

const (
	// ShapeNone means no stored contact shares either identifier.
	ShapeNone MatchShape = "none"
	// ShapeExact means one contact carries both identifiers.
	ShapeExact MatchShape = "exact"
	// ShapeSplit means the email and the phone belong to different clusters.
	ShapeSplit MatchShape = "split"
	// ShapePartial covers every other overlap.
	ShapePartial MatchShape = "partial"
)

// Match is the result of Classify.
type Match struct {
	Shape      MatchShape
	Candidates []models.Contact
	// Exact is set for ShapeExact.
	Exact *models.Contact
	// EmailPrimary and PhonePrimary are the resolved primaries of the first
	// email side and phone side candidates. Both are set for ShapeSplit.
	EmailPrimary *models.Contact
	PhonePrimary *models.Contact
}

// Matcher looks up and classifies candidates. It never writes.
type Matcher struct {
	store    ContactStore
	resolver *Resolver
}

func NewMatcher(store ContactStore, resolver *Resolver) *Matcher {
	return &Matcher{store: store, resolver: resolver}
}

// FindCandidates returns every stored contact sharing the email or the phone.
func (m *Matcher) FindCandidates(ctx context.Context, email, phone string) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Matcher.FindCandidates")
	defer span.End()

	return m.store.FindByIdentifiers(ctx, email, phone)
}

// ExactMatch returns the first candidate whose email and phone both equal the
// input. Only applies when both are given.
func ExactMatch(candidates []models.Contact, email, phone string) *models.Contact {
	if email == "" || phone == "" {
		return nil
	}
	for i := range candidates {
		if candidates[i].EmailValue() == email && candidates[i].PhoneValue() == phone {
			return &candidates[i]
		}
	}
	return nil
}

// Classify decides the match shape, checked in the order none, exact, split, partial.
func (m *Matcher) Classify(ctx context.Context, email, phone string) (Match, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Matcher.Classify")
	defer span.End()

	candidates, err := m.FindCandidates(ctx, email, phone)
	if err != nil {
		return Match{}, err
	}

	match := Match{Shape: ShapeNone, Candidates: candidates}
	if len(candidates) == 0 {
		return match, nil
	}

	if exact := ExactMatch(candidates, email, phone); exact != nil {
		match.Shape = ShapeExact
		match.Exact = exact
		return match, nil
	}

	match.Shape = ShapePartial
	if email == "" || phone == "" {
		return match, nil
	}

	emailSide := firstWith(candidates, func(c models.Contact) bool { return c.EmailValue() == email })
	phoneSide := firstWith(candidates, func(c models.Contact) bool { return c.PhoneValue() == phone })
	if emailSide == nil || phoneSide == nil {
		return match, nil
	}

	emailPrimary, err := m.resolver.ResolvePrimary(ctx, emailSide.ID)
	if err != nil {
		return Match{}, err
	}
	phonePrimary, err := m.resolver.ResolvePrimary(ctx, phoneSide.ID)
	if err != nil {
		return Match{}, err
	}

	if emailPrimary.ID != phonePrimary.ID {
		match.Shape = ShapeSplit
		match.EmailPrimary = &emailPrimary
		match.PhonePrimary = &phonePrimary
	}
	return match, nil
}

func firstWith(candidates []models.Contact, pred func(models.Contact) bool) *models.Contact {
	for i := range candidates {
		if pred(candidates[i]) {
			return &candidates[i]
		}
	}
	return nil
}
