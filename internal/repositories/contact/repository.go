// Package contact persists contact records.
package contact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/internal/platform/database"
	"github.com/Ramsey-B/fern/internal/platform/metrics"
	"github.com/Ramsey-B/fern/internal/platform/tracing"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
)

const table = "contacts"

var columns = []string{"id", "email", "phone_number", "link_precedence", "linked_id", "created_at", "updated_at", "deleted_at"}

// Repository is the Postgres contact store. Units of work run SERIALIZABLE
// and hold a transaction scoped advisory lock per identifier key.
type Repository struct {
	db         database.DB
	logger     ectologger.Logger
	maxRetries int
	retryDelay time.Duration
}

// NewRepository creates a new contact repository. maxRetries bounds how often
// a unit of work is replayed after a serialization failure or deadlock.
func NewRepository(db database.DB, logger ectologger.Logger, maxRetries int) *Repository {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Repository{
		db:         db,
		logger:     logger,
		maxRetries: maxRetries,
		retryDelay: 10 * time.Millisecond,
	}
}

// queryer returns the transaction carried by ctx, or the pool outside one.
func (r *Repository) queryer(ctx context.Context) database.Queryer {
	if tx, ok := database.FromContext(ctx); ok {
		return tx
	}
	return r.db
}

func (r *Repository) WithinTx(ctx context.Context, lockKeys []string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.WithinTx")
	defer span.End()

	keys := sortedUnique(lockKeys)

	// joined units of work share the outer transaction and its retry loop
	if tx, ok := database.FromContext(ctx); ok {
		if err := r.acquireLocks(ctx, tx, keys); err != nil {
			return err
		}
		return fn(ctx)
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = r.runTx(ctx, keys, fn)
		if err == nil || !database.IsSerializationFailure(err) {
			return err
		}
		if attempt >= r.maxRetries {
			break
		}

		metrics.TxRetriesTotal.WithLabelValues("postgres").Inc()
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"attempt":   attempt + 1,
			"lock_keys": keys,
		}).Warn("Retrying contact unit of work after concurrent conflict")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", identity.ErrTransient, ctx.Err())
		case <-time.After(time.Duration(attempt+1) * r.retryDelay):
		}
	}

	r.logger.WithContext(ctx).WithError(err).Errorf("Contact unit of work failed after %d retries", r.maxRetries)
	if errors.Is(err, identity.ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %w", identity.ErrConflict, err)
}

func (r *Repository) runTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	txCtx, tx, err := r.db.GetTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(err)
	}
	defer func() {
		_ = tx.Rollback(txCtx)
	}()

	if err := r.acquireLocks(txCtx, tx, keys); err != nil {
		return err
	}

	if err := fn(txCtx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", identity.ErrTransient, err)
	}

	if err := tx.Commit(txCtx); err != nil {
		return classify(err)
	}
	return nil
}

// acquireLocks takes one transaction scoped advisory lock per key. The lock
// statement is the first in the transaction, so under SERIALIZABLE it also
// fixes the snapshot before any wait. A waiter therefore reads data older than
// the holder's commit and fails its first write with 40001; WithinTx replays
// it, so every contended unit of work costs one extra attempt.
func (r *Repository) acquireLocks(ctx context.Context, q database.Queryer, keys []string) error {
	for _, key := range keys {
		if _, err := q.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("lock_key", key).Error("Failed to acquire advisory lock")
			return classify(err)
		}
	}
	return nil
}

// GetByID retrieves a contact by id
func (r *Repository) GetByID(ctx context.Context, id int64) (models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var contact models.Contact
	if err := r.queryer(ctx).GetContext(ctx, &contact, query, args...); err != nil {
		if database.IsNoRows(err) {
			return models.Contact{}, identity.NotFound(id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to get contact")
		return models.Contact{}, classify(err)
	}

	return contact, nil
}

// FindByIdentifiers retrieves every contact sharing the email or the phone number
func (r *Repository) FindByIdentifiers(ctx context.Context, email, phone string) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.FindByIdentifiers")
	defer span.End()

	var conds []string
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	if email != "" {
		conds = append(conds, sb.Equal("email", email))
	}
	if phone != "" {
		conds = append(conds, sb.Equal("phone_number", phone))
	}
	if len(conds) == 0 {
		return nil, nil
	}

	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Or(conds...),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var contacts []models.Contact
	if err := r.queryer(ctx).SelectContext(ctx, &contacts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find contacts by identifiers")
		return nil, classify(err)
	}

	return contacts, nil
}

// ListSecondaries retrieves the contacts linked to a primary
func (r *Repository) ListSecondaries(ctx context.Context, primaryID int64) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.ListSecondaries")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("linked_id", primaryID),
		sb.Equal("link_precedence", string(models.LinkPrecedenceSecondary)),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var contacts []models.Contact
	if err := r.queryer(ctx).SelectContext(ctx, &contacts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("primary_id", primaryID).Error("Failed to list secondary contacts")
		return nil, classify(err)
	}

	return contacts, nil
}

// Insert creates a contact and returns it with its assigned id and timestamps
func (r *Repository) Insert(ctx context.Context, contact models.Contact) (models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.Insert")
	defer span.End()

	now := time.Now().UTC()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols("email", "phone_number", "link_precedence", "linked_id", "created_at", "updated_at")
	ib.Values(contact.Email, contact.PhoneNumber, string(contact.LinkPrecedence), contact.LinkedID, contact.CreatedAt, contact.UpdatedAt)

	query, args := ib.Build()
	query += " RETURNING id"

	if err := r.queryer(ctx).GetContext(ctx, &contact.ID, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert contact")
		return models.Contact{}, classify(err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":              contact.ID,
		"link_precedence": string(contact.LinkPrecedence),
	}).Debug("Inserted contact")
	return contact, nil
}

// Demote turns a primary into a secondary of newPrimaryID
func (r *Repository) Demote(ctx context.Context, id, newPrimaryID int64, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.Demote")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("link_precedence", string(models.LinkPrecedenceSecondary)),
		ub.Assign("linked_id", newPrimaryID),
		ub.Assign("updated_at", at),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	result, err := r.queryer(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to demote contact")
		return classify(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return identity.NotFound(id)
	}
	return nil
}

// Relink re-points every secondary of fromPrimaryID to toPrimaryID
func (r *Repository) Relink(ctx context.Context, fromPrimaryID, toPrimaryID int64, at time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.Relink")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("linked_id", toPrimaryID),
		ub.Assign("updated_at", at),
	)
	ub.Where(
		ub.Equal("linked_id", fromPrimaryID),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	result, err := r.queryer(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"from_primary_id": fromPrimaryID,
			"to_primary_id":   toPrimaryID,
		}).Error("Failed to relink contacts")
		return 0, classify(err)
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// Count returns the number of stored contacts
func (r *Repository) Count(ctx context.Context) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.Count")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(table)

	query, args := sb.Build()
	var count int64
	if err := r.queryer(ctx).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count contacts")
		return 0, classify(err)
	}
	return count, nil
}

// classify maps driver errors onto identity error kinds, keeping the cause in
// the chain for IsSerializationFailure.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case database.IsSerializationFailure(err):
		return fmt.Errorf("%w: %w", identity.ErrConflict, err)
	case database.IsTransient(err):
		return fmt.Errorf("%w: %w", identity.ErrTransient, err)
	default:
		return fmt.Errorf("contact store: %w", err)
	}
}

func sortedUnique(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
