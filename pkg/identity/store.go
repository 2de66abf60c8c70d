package identity

import (
	"context"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ContactStore is pure data access over contact records. Inside WithinTx the
// methods act on the transaction carried by ctx. Reads never return soft
// deleted rows.
type ContactStore interface {
	// GetByID returns ErrNotFound when the id does not exist.
	GetByID(ctx context.Context, id int64) (models.Contact, error)
	// FindByIdentifiers returns contacts whose email equals email OR whose phone
	// equals phone, each once, ordered by created_at then id. An empty argument
	// matches nothing.
	FindByIdentifiers(ctx context.Context, email, phone string) ([]models.Contact, error)
	// ListSecondaries returns the contacts linked to primaryID ordered by created_at then id.
	ListSecondaries(ctx context.Context, primaryID int64) ([]models.Contact, error)
	// Insert assigns id, created_at and updated_at.
	Insert(ctx context.Context, contact models.Contact) (models.Contact, error)
	// Demote turns a primary into a secondary of newPrimaryID.
	Demote(ctx context.Context, id, newPrimaryID int64, at time.Time) error
	// Relink re-points every secondary of fromPrimaryID to toPrimaryID.
	Relink(ctx context.Context, fromPrimaryID, toPrimaryID int64, at time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// Transactor runs a unit of work atomically. lockKeys are serialized against
// every other unit of work holding any of the same keys. fn's writes commit
// only if fn returns nil and ctx is still live.
type Transactor interface {
	WithinTx(ctx context.Context, lockKeys []string, fn func(ctx context.Context) error) error
}

type Store interface {
	ContactStore
	Transactor
}
