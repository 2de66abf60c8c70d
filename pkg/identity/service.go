// Package identity reconciles contact observations into identity clusters.
//
// Every cluster is a one hop star: one primary contact and any number of
// secondaries whose linked_id points at it. Identify finds the clusters a
// request touches, applies the merge rules, and returns the consolidated view,
// all inside a single unit of work so concurrent calls cannot split a cluster.
package identity

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/platform/metrics"
	"github.com/Ramsey-B/fern/internal/platform/tracing"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Hook observes committed identify calls. Hook errors are logged and never
// fail the call.
type Hook interface {
	Name() string
	AfterIdentify(ctx context.Context, outcome Outcome, summary models.Summary) error
}

// KeyLocker serializes identify calls across processes. The returned func
// releases every key. An error matching ErrConflict means the keys stayed held
// past the wait timeout; any other error is treated as ErrTransient.
type KeyLocker interface {
	LockKeys(ctx context.Context, keys []string) (func(context.Context), error)
}

type Option func(*Service)

// WithNormalizers sets the chains applied to emails and phone numbers. Emails
// are lowercased after the email chain whatever it contains.
func WithNormalizers(email, phone normalizers.Chain) Option {
	return func(s *Service) {
		s.emailChain = email
		s.phoneChain = phone
	}
}

func WithLocker(locker KeyLocker) Option {
	return func(s *Service) {
		s.locker = locker
	}
}

func WithHooks(hooks ...Hook) Option {
	return func(s *Service) {
		s.hooks = append(s.hooks, hooks...)
	}
}

type Service struct {
	store      Store
	engine     *Engine
	resolver   *Resolver
	projector  *Projector
	locker     KeyLocker
	hooks      []Hook
	emailChain normalizers.Chain
	phoneChain normalizers.Chain
	logger     ectologger.Logger
}

// NewService lowercases emails and keeps phone numbers verbatim unless
// WithNormalizers adds more steps.
func NewService(store Store, logger ectologger.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		engine:    NewEngine(store, logger),
		resolver:  NewResolver(store),
		projector: NewProjector(store),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalize applies the configured chains. "" means absent. Emails are always
// lowercased last so stored and compared emails never differ by case.
func (s *Service) Normalize(email, phone string) (string, string) {
	if email != "" {
		email = normalizers.Lowercase(s.emailChain.Apply(email))
	}
	if phone != "" {
		phone = s.phoneChain.Apply(phone)
	}
	return email, phone
}

// LockKeys returns the sorted identifier lock keys for a normalized request.
func LockKeys(email, phone string) []string {
	var keys []string
	if email != "" {
		keys = append(keys, "email:"+email)
	}
	if phone != "" {
		keys = append(keys, "phone:"+phone)
	}
	sort.Strings(keys)
	return keys
}

// Identify reconciles an email and/or phone number with stored contacts and
// returns the consolidated view of the resulting cluster.
func (s *Service) Identify(ctx context.Context, email, phone string) (models.Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Service.Identify")
	defer span.End()

	start := time.Now()
	email, phone = s.Normalize(email, phone)
	if email == "" && phone == "" {
		metrics.IdentifyTotal.WithLabelValues("invalid", metrics.ResultError).Inc()
		return models.Summary{}, ErrInvalidRequest
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"has_email": email != "",
		"has_phone": phone != "",
	})

	keys := LockKeys(email, phone)
	if s.locker != nil {
		unlock, err := s.locker.LockKeys(ctx, keys)
		if err != nil {
			log.WithError(err).Warn("Failed to acquire identifier locks")
			metrics.IdentifyTotal.WithLabelValues("unknown", metrics.ResultError).Inc()
			if !errors.Is(err, ErrConflict) {
				err = errors.Join(ErrTransient, err)
			}
			return models.Summary{}, err
		}
		defer unlock(context.WithoutCancel(ctx))
	}

	var (
		outcome Outcome
		summary models.Summary
	)
	err := s.store.WithinTx(ctx, keys, func(ctx context.Context) error {
		var err error
		outcome, err = s.engine.Merge(ctx, email, phone)
		if err != nil {
			return err
		}
		summary, err = s.projector.Project(ctx, outcome.PrimaryID)
		return err
	})
	if err != nil {
		log.WithError(err).Error("Failed to identify contact")
		metrics.IdentifyTotal.WithLabelValues("unknown", metrics.ResultError).Inc()
		return models.Summary{}, err
	}

	s.record(outcome, time.Since(start))
	log.WithFields(map[string]any{
		"scenario":   string(outcome.Scenario),
		"primary_id": outcome.PrimaryID,
	}).Info("Identified contact")

	s.runHooks(ctx, outcome, summary)
	return summary, nil
}

// GetContact returns the consolidated view of the cluster containing id
// without writing anything.
func (s *Service) GetContact(ctx context.Context, id int64) (models.Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Service.GetContact")
	defer span.End()

	var summary models.Summary
	err := s.store.WithinTx(ctx, nil, func(ctx context.Context) error {
		primary, err := s.resolver.ResolvePrimary(ctx, id)
		if err != nil {
			return err
		}
		summary, err = s.projector.Project(ctx, primary.ID)
		return err
	})
	if err != nil {
		return models.Summary{}, err
	}
	return summary, nil
}

func (s *Service) record(outcome Outcome, elapsed time.Duration) {
	scenario := string(outcome.Scenario)
	metrics.IdentifyTotal.WithLabelValues(scenario, metrics.ResultSuccess).Inc()
	metrics.IdentifyDuration.WithLabelValues(scenario).Observe(elapsed.Seconds())
	for _, c := range outcome.Created {
		metrics.ContactsCreatedTotal.WithLabelValues(string(c.LinkPrecedence)).Inc()
	}
	if outcome.Demoted != nil {
		metrics.MergesTotal.Inc()
	}
}

func (s *Service) runHooks(ctx context.Context, outcome Outcome, summary models.Summary) {
	for _, hook := range s.hooks {
		if err := hook.AfterIdentify(ctx, outcome, summary); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"hook":       hook.Name(),
				"primary_id": outcome.PrimaryID,
			}).Warn("Post-commit hook failed")
		}
	}
}
