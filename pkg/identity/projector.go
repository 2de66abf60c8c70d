package identity

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/fern/internal/platform/tracing"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Projector builds the consolidated view of a cluster.
type Projector struct {
	store ContactStore
}

func NewProjector(store ContactStore) *Projector {
	return &Projector{store: store}
}

// Project returns the summary of the cluster rooted at primaryID. The
// primary's identifiers come first, then those of the secondaries oldest
// first, each value once.
func (p *Projector) Project(ctx context.Context, primaryID int64) (models.Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Projector.Project")
	defer span.End()

	primary, err := p.store.GetByID(ctx, primaryID)
	if err != nil {
		return models.Summary{}, err
	}
	if !primary.IsPrimary() {
		return models.Summary{}, fmt.Errorf("%w: contact %d is not a primary", ErrCorruptChain, primaryID)
	}

	secondaries, err := p.store.ListSecondaries(ctx, primaryID)
	if err != nil {
		return models.Summary{}, err
	}

	return summarize(primary, secondaries), nil
}

func summarize(primary models.Contact, secondaries []models.Contact) models.Summary {
	summary := models.Summary{
		PrimaryContactID:    primary.ID,
		Emails:              []string{},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: make([]int64, 0, len(secondaries)),
	}

	emails := newOrderedSet(&summary.Emails)
	phones := newOrderedSet(&summary.PhoneNumbers)

	emails.add(primary.EmailValue())
	phones.add(primary.PhoneValue())
	for _, s := range secondaries {
		emails.add(s.EmailValue())
		phones.add(s.PhoneValue())
		summary.SecondaryContactIDs = append(summary.SecondaryContactIDs, s.ID)
	}
	return summary
}

// clusterIdentifiers returns the email and phone sets of a cluster.
func clusterIdentifiers(primary models.Contact, secondaries []models.Contact) (emails, phones map[string]bool) {
	emails = map[string]bool{}
	phones = map[string]bool{}
	for _, c := range append([]models.Contact{primary}, secondaries...) {
		if v := c.EmailValue(); v != "" {
			emails[v] = true
		}
		if v := c.PhoneValue(); v != "" {
			phones[v] = true
		}
	}
	return emails, phones
}

type orderedSet struct {
	seen map[string]bool
	out  *[]string
}

func newOrderedSet(out *[]string) *orderedSet {
	return &orderedSet{seen: map[string]bool{}, out: out}
}

func (s *orderedSet) add(v string) {
	if v == "" || s.seen[v] {
		return
	}
	s.seen[v] = true
	*s.out = append(*s.out, v)
}
