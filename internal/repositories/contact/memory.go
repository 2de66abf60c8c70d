package contact

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/platform/tracing"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
)

type memoryTxKey struct{}

// MemoryStore keeps contacts in process. Units of work are serialized by a
// single mutex and write to a copy of the table that replaces the committed
// one only on success.
type MemoryStore struct {
	mu       sync.Mutex
	contacts map[int64]models.Contact
	nextID   int64
	now      func() time.Time
	logger   ectologger.Logger
}

type memoryTx struct {
	store    *MemoryStore
	contacts map[int64]models.Contact
	nextID   int64
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the timestamp source for inserted contacts.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(logger ectologger.Logger, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		contacts: make(map[int64]models.Contact),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed stores contacts verbatim, ids included. Intended for tests that need
// states identify never produces.
func (s *MemoryStore) Seed(contacts ...models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range contacts {
		s.contacts[c.ID] = c
		if c.ID > s.nextID {
			s.nextID = c.ID
		}
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, lockKeys []string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "contact.MemoryStore.WithinTx")
	defer span.End()

	if tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok && tx.store == s {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", identity.ErrTransient, err)
	}

	tx := &memoryTx{
		store:    s,
		contacts: make(map[int64]models.Contact, len(s.contacts)),
		nextID:   s.nextID,
	}
	for id, c := range s.contacts {
		tx.contacts[id] = c
	}

	if err := fn(context.WithValue(ctx, memoryTxKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Discarding unit of work for cancelled context")
		return fmt.Errorf("%w: %w", identity.ErrTransient, err)
	}

	s.contacts = tx.contacts
	s.nextID = tx.nextID
	return nil
}

// view runs fn against the caller's transaction or, outside one, against the
// committed table under the mutex.
func (s *MemoryStore) view(ctx context.Context, fn func(tx *memoryTx) error) error {
	if tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok && tx.store == s {
		return fn(tx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, contacts: s.contacts, nextID: s.nextID}
	err := fn(tx)
	s.nextID = tx.nextID
	return err
}

func (s *MemoryStore) GetByID(ctx context.Context, id int64) (models.Contact, error) {
	var contact models.Contact
	err := s.view(ctx, func(tx *memoryTx) error {
		c, ok := tx.contacts[id]
		if !ok || c.DeletedAt != nil {
			return identity.NotFound(id)
		}
		contact = copyContact(c)
		return nil
	})
	return contact, err
}

func (s *MemoryStore) FindByIdentifiers(ctx context.Context, email, phone string) ([]models.Contact, error) {
	var found []models.Contact
	err := s.view(ctx, func(tx *memoryTx) error {
		if email == "" && phone == "" {
			return nil
		}
		found = tx.filter(func(c models.Contact) bool {
			return (email != "" && c.EmailValue() == email) || (phone != "" && c.PhoneValue() == phone)
		})
		return nil
	})
	return found, err
}

func (s *MemoryStore) ListSecondaries(ctx context.Context, primaryID int64) ([]models.Contact, error) {
	var found []models.Contact
	err := s.view(ctx, func(tx *memoryTx) error {
		found = tx.filter(func(c models.Contact) bool {
			return c.LinkPrecedence == models.LinkPrecedenceSecondary && c.LinkedID != nil && *c.LinkedID == primaryID
		})
		return nil
	})
	return found, err
}

func (s *MemoryStore) Insert(ctx context.Context, contact models.Contact) (models.Contact, error) {
	if contact.Email == nil && contact.PhoneNumber == nil {
		return models.Contact{}, fmt.Errorf("contact requires an email or a phone number")
	}
	if contact.IsPrimary() != (contact.LinkedID == nil) {
		return models.Contact{}, fmt.Errorf("contact link precedence %q does not match linked_id", contact.LinkPrecedence)
	}

	var inserted models.Contact
	err := s.view(ctx, func(tx *memoryTx) error {
		tx.nextID++
		contact.ID = tx.nextID
		contact.CreatedAt = s.now()
		contact.UpdatedAt = contact.CreatedAt
		contact.DeletedAt = nil
		tx.contacts[contact.ID] = copyContact(contact)
		inserted = copyContact(contact)
		return nil
	})
	return inserted, err
}

func (s *MemoryStore) Demote(ctx context.Context, id, newPrimaryID int64, at time.Time) error {
	return s.view(ctx, func(tx *memoryTx) error {
		c, ok := tx.contacts[id]
		if !ok || c.DeletedAt != nil {
			return identity.NotFound(id)
		}
		c.LinkPrecedence = models.LinkPrecedenceSecondary
		c.LinkedID = &newPrimaryID
		c.UpdatedAt = at
		tx.contacts[id] = c
		return nil
	})
}

func (s *MemoryStore) Relink(ctx context.Context, fromPrimaryID, toPrimaryID int64, at time.Time) (int64, error) {
	var count int64
	err := s.view(ctx, func(tx *memoryTx) error {
		for id, c := range tx.contacts {
			if c.DeletedAt != nil || c.LinkedID == nil || *c.LinkedID != fromPrimaryID {
				continue
			}
			to := toPrimaryID
			c.LinkedID = &to
			c.UpdatedAt = at
			tx.contacts[id] = c
			count++
		}
		return nil
	})
	return count, err
}

func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.view(ctx, func(tx *memoryTx) error {
		count = int64(len(tx.contacts))
		return nil
	})
	return count, err
}

// filter returns matching live contacts ordered by created_at then id.
func (tx *memoryTx) filter(pred func(models.Contact) bool) []models.Contact {
	var out []models.Contact
	for _, c := range tx.contacts {
		if c.DeletedAt == nil && pred(c) {
			out = append(out, copyContact(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OlderThan(out[j]) })
	return out
}

// copyContact detaches pointer fields so callers cannot mutate stored rows.
func copyContact(c models.Contact) models.Contact {
	if c.Email != nil {
		v := *c.Email
		c.Email = &v
	}
	if c.PhoneNumber != nil {
		v := *c.PhoneNumber
		c.PhoneNumber = &v
	}
	if c.LinkedID != nil {
		v := *c.LinkedID
		c.LinkedID = &v
	}
	return c
}
