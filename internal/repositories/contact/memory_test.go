package contact

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newPrimary(email, phone string) models.Contact {
	return models.Contact{
		Email:          models.StringPtr(email),
		PhoneNumber:    models.StringPtr(phone),
		LinkPrecedence: models.LinkPrecedencePrimary,
	}
}

func newSecondary(primaryID int64, email, phone string) models.Contact {
	c := newPrimary(email, phone)
	c.LinkPrecedence = models.LinkPrecedenceSecondary
	c.LinkedID = &primaryID
	return c
}

func TestMemoryStore_InsertAssignsIDsAndTimestamps(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(testLogger(), WithClock(func() time.Time { return at }))
	ctx := context.Background()

	first, err := store.Insert(ctx, newPrimary("a@x.io", ""))
	require.NoError(t, err)
	second, err := store.Insert(ctx, newSecondary(first.ID, "", "1"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, at, first.CreatedAt)
	assert.Equal(t, at, first.UpdatedAt)

	got, err := store.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestMemoryStore_InsertRejectsInvalidRows(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	_, err := store.Insert(ctx, models.Contact{LinkPrecedence: models.LinkPrecedencePrimary})
	assert.Error(t, err)

	orphan := newPrimary("a@x.io", "")
	orphan.LinkPrecedence = models.LinkPrecedenceSecondary
	_, err = store.Insert(ctx, orphan)
	assert.Error(t, err)

	linkedPrimary := newPrimary("a@x.io", "")
	linkedPrimary.LinkedID = new(int64)
	_, err = store.Insert(ctx, linkedPrimary)
	assert.Error(t, err)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_FindByIdentifiers(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	a, err := store.Insert(ctx, newPrimary("a@x.io", "1"))
	require.NoError(t, err)
	_, err = store.Insert(ctx, newPrimary("b@x.io", "2"))
	require.NoError(t, err)
	c, err := store.Insert(ctx, newSecondary(a.ID, "c@x.io", "1"))
	require.NoError(t, err)

	found, err := store.FindByIdentifiers(ctx, "a@x.io", "1")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, a.ID, found[0].ID)
	assert.Equal(t, c.ID, found[1].ID)

	found, err = store.FindByIdentifiers(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMemoryStore_DemoteAndRelink(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()
	at := time.Now().UTC()

	winner, err := store.Insert(ctx, newPrimary("a@x.io", ""))
	require.NoError(t, err)
	loser, err := store.Insert(ctx, newPrimary("b@x.io", ""))
	require.NoError(t, err)
	child, err := store.Insert(ctx, newSecondary(loser.ID, "c@x.io", ""))
	require.NoError(t, err)

	require.NoError(t, store.Demote(ctx, loser.ID, winner.ID, at))
	relinked, err := store.Relink(ctx, loser.ID, winner.ID, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), relinked)

	secondaries, err := store.ListSecondaries(ctx, winner.ID)
	require.NoError(t, err)
	require.Len(t, secondaries, 2)
	assert.Equal(t, loser.ID, secondaries[0].ID)
	assert.Equal(t, child.ID, secondaries[1].ID)
	assert.Equal(t, at, secondaries[1].UpdatedAt)

	assert.ErrorIs(t, store.Demote(ctx, 99, winner.ID, at), identity.ErrNotFound)
}

func TestMemoryStore_WithinTxRollsBackOnError(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, []string{"email:a@x.io"}, func(ctx context.Context) error {
		if _, err := store.Insert(ctx, newPrimary("a@x.io", "")); err != nil {
			return err
		}
		n, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "writes are visible inside the unit of work")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// ids handed out by the discarded unit of work are reused
	c, err := store.Insert(ctx, newPrimary("b@x.io", ""))
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.ID)
}

func TestMemoryStore_WithinTxCommitsAndJoins(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	err := store.WithinTx(ctx, nil, func(ctx context.Context) error {
		if _, err := store.Insert(ctx, newPrimary("a@x.io", "")); err != nil {
			return err
		}
		return store.WithinTx(ctx, []string{"phone:1"}, func(ctx context.Context) error {
			_, err := store.Insert(ctx, newPrimary("", "1"))
			return err
		})
	})
	require.NoError(t, err)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryStore_WithinTxDiscardsCancelledWork(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	err := store.WithinTx(ctx, nil, func(txCtx context.Context) error {
		_, err := store.Insert(txCtx, newPrimary("a@x.io", ""))
		cancel()
		return err
	})
	assert.ErrorIs(t, err, identity.ErrTransient)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	inserted, err := store.Insert(ctx, newPrimary("a@x.io", ""))
	require.NoError(t, err)
	*inserted.Email = "mutated@x.io"

	got, err := store.GetByID(ctx, inserted.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", got.EmailValue())
}

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"email:a", "phone:1"}, sortedUnique([]string{"phone:1", "email:a", "phone:1"}))
	assert.Empty(t, sortedUnique(nil))
}
