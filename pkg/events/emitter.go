// Package events publishes contact lifecycle events after identify commits.
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/platform/metrics"
	"github.com/Ramsey-B/fern/internal/platform/tracing"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	EventContactCreated = "contact.created"
	EventContactLinked  = "contact.linked"
	EventContactMerged  = "contact.merged"
)

// Publisher sends a batch of contact events.
type Publisher interface {
	PublishContactEvents(ctx context.Context, events []*kafka.ContactEvent) error
}

// Emitter turns identify outcomes into contact events
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
	now       func() time.Time
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Emitter) Name() string {
	return "events"
}

// AfterIdentify publishes one event per write the merge performed. Exact
// matches write nothing and publish nothing.
func (e *Emitter) AfterIdentify(ctx context.Context, outcome identity.Outcome, summary models.Summary) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.AfterIdentify")
	defer span.End()

	events := e.Build(outcome, summary)
	if len(events) == 0 {
		return nil
	}

	if err := e.publisher.PublishContactEvents(ctx, events); err != nil {
		for _, event := range events {
			metrics.EventsPublishedTotal.WithLabelValues(event.EventType, metrics.ResultError).Inc()
		}
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"primary_id": outcome.PrimaryID,
			"scenario":   string(outcome.Scenario),
		}).Error("Failed to emit contact events")
		return err
	}

	for _, event := range events {
		metrics.EventsPublishedTotal.WithLabelValues(event.EventType, metrics.ResultSuccess).Inc()
	}
	return nil
}

// Build maps an outcome to its events: created contacts first, then the merge.
func (e *Emitter) Build(outcome identity.Outcome, summary models.Summary) []*kafka.ContactEvent {
	at := e.now()
	events := make([]*kafka.ContactEvent, 0, len(outcome.Created)+1)

	for _, c := range outcome.Created {
		eventType := EventContactLinked
		if c.IsPrimary() {
			eventType = EventContactCreated
		}
		events = append(events, &kafka.ContactEvent{
			EventType:        eventType,
			ContactID:        c.ID,
			PrimaryContactID: outcome.PrimaryID,
			Email:            c.Email,
			PhoneNumber:      c.PhoneNumber,
			LinkPrecedence:   c.LinkPrecedence,
			Summary:          &summary,
			Timestamp:        at,
		})
	}

	if d := outcome.Demoted; d != nil {
		events = append(events, &kafka.ContactEvent{
			EventType:        EventContactMerged,
			ContactID:        d.ID,
			PrimaryContactID: outcome.PrimaryID,
			Email:            d.Email,
			PhoneNumber:      d.PhoneNumber,
			LinkPrecedence:   models.LinkPrecedenceSecondary,
			RelinkedCount:    outcome.RelinkedCount,
			Summary:          &summary,
			Timestamp:        at,
		})
	}

	return events
}
