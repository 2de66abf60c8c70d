package events

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakePublisher struct {
	batches [][]*kafka.ContactEvent
	err     error
}

func (p *fakePublisher) PublishContactEvents(_ context.Context, events []*kafka.ContactEvent) error {
	p.batches = append(p.batches, events)
	return p.err
}

func newEmitter(p Publisher) *Emitter {
	return NewEmitter(p, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func ptr[T any](v T) *T { return &v }

func TestAfterIdentify_NewContact(t *testing.T) {
	pub := &fakePublisher{}
	outcome := identity.Outcome{
		Scenario:  identity.ScenarioNew,
		PrimaryID: 1,
		Created: []models.Contact{{
			ID: 1, Email: ptr("a@x.io"), LinkPrecedence: models.LinkPrecedencePrimary,
		}},
	}

	require.NoError(t, newEmitter(pub).AfterIdentify(context.Background(), outcome, models.Summary{PrimaryContactID: 1}))
	require.Len(t, pub.batches, 1)
	require.Len(t, pub.batches[0], 1)

	event := pub.batches[0][0]
	assert.Equal(t, EventContactCreated, event.EventType)
	assert.Equal(t, int64(1), event.ContactID)
	assert.Equal(t, int64(1), event.Summary.PrimaryContactID)
}

func TestAfterIdentify_ExactPublishesNothing(t *testing.T) {
	pub := &fakePublisher{}
	outcome := identity.Outcome{Scenario: identity.ScenarioExact, PrimaryID: 4}

	require.NoError(t, newEmitter(pub).AfterIdentify(context.Background(), outcome, models.Summary{}))
	assert.Empty(t, pub.batches)
}

func TestBuild_Split(t *testing.T) {
	outcome := identity.Outcome{
		Scenario:  identity.ScenarioSplit,
		PrimaryID: 1,
		Demoted: &models.Contact{
			ID: 2, PhoneNumber: ptr("555"), LinkPrecedence: models.LinkPrecedenceSecondary, LinkedID: ptr(int64(1)),
		},
		RelinkedCount: 3,
	}

	events := newEmitter(&fakePublisher{}).Build(outcome, models.Summary{PrimaryContactID: 1})
	require.Len(t, events, 1)
	assert.Equal(t, EventContactMerged, events[0].EventType)
	assert.Equal(t, int64(2), events[0].ContactID)
	assert.Equal(t, int64(1), events[0].PrimaryContactID)
	assert.Equal(t, int64(3), events[0].RelinkedCount)
}

func TestBuild_Partial(t *testing.T) {
	outcome := identity.Outcome{
		Scenario:  identity.ScenarioPartial,
		PrimaryID: 1,
		Created: []models.Contact{{
			ID: 5, Email: ptr("b@x.io"), PhoneNumber: ptr("555"),
			LinkPrecedence: models.LinkPrecedenceSecondary, LinkedID: ptr(int64(1)),
		}},
	}

	events := newEmitter(&fakePublisher{}).Build(outcome, models.Summary{})
	require.Len(t, events, 1)
	assert.Equal(t, EventContactLinked, events[0].EventType)
	assert.Equal(t, models.LinkPrecedenceSecondary, events[0].LinkPrecedence)
}

func TestAfterIdentify_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	outcome := identity.Outcome{
		Scenario:  identity.ScenarioNew,
		PrimaryID: 1,
		Created:   []models.Contact{{ID: 1, LinkPrecedence: models.LinkPrecedencePrimary}},
	}

	err := newEmitter(pub).AfterIdentify(context.Background(), outcome, models.Summary{})
	assert.EqualError(t, err, "broker down")
}

func TestName(t *testing.T) {
	assert.Equal(t, "events", newEmitter(&fakePublisher{}).Name())
}
