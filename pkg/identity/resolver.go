package identity

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/fern/internal/platform/tracing"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Resolver follows linked_id pointers to a cluster's primary.
type Resolver struct {
	store ContactStore
}

func NewResolver(store ContactStore) *Resolver {
	return &Resolver{store: store}
}

// ResolvePrimary returns the primary of id's cluster. The walk is bounded by
// the number of stored contacts, so a cycle or an overlong chain fails with
// ErrCorruptChain instead of looping.
func (r *Resolver) ResolvePrimary(ctx context.Context, id int64) (models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Resolver.ResolvePrimary")
	defer span.End()

	contact, err := r.store.GetByID(ctx, id)
	if err != nil {
		return models.Contact{}, err
	}
	if contact.IsPrimary() {
		return contact, nil
	}

	total, err := r.store.Count(ctx)
	if err != nil {
		return models.Contact{}, err
	}

	visited := map[int64]bool{contact.ID: true}
	for hops := int64(1); hops <= total+1; hops++ {
		if contact.LinkedID == nil {
			return models.Contact{}, fmt.Errorf("%w: secondary %d has no linked_id", ErrCorruptChain, contact.ID)
		}

		next := *contact.LinkedID
		if visited[next] {
			return models.Contact{}, fmt.Errorf("%w: cycle at contact %d", ErrCorruptChain, next)
		}
		visited[next] = true

		contact, err = r.store.GetByID(ctx, next)
		if err != nil {
			return models.Contact{}, err
		}
		if contact.IsPrimary() {
			return contact, nil
		}
	}

	return models.Contact{}, fmt.Errorf("%w: no primary within %d hops of contact %d", ErrCorruptChain, total+1, id)
}
