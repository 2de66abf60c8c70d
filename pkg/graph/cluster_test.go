package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeRunner struct {
	runs [][]Statement
	err  error
}

func (r *fakeRunner) RunStatements(_ context.Context, statements []Statement) error {
	r.runs = append(r.runs, statements)
	return r.err
}

func ptr[T any](v T) *T { return &v }

func newMirror(r StatementRunner) *ClusterMirror {
	return NewClusterMirror(r, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func TestStatements_NewPrimary(t *testing.T) {
	statements := Statements(identity.Outcome{
		Scenario:  identity.ScenarioNew,
		PrimaryID: 1,
		Created: []models.Contact{{
			ID: 1, Email: ptr("a@x.io"), LinkPrecedence: models.LinkPrecedencePrimary,
		}},
	})

	require.Len(t, statements, 2)
	assert.Equal(t, upsertContactCypher, statements[0].Cypher)
	assert.Nil(t, statements[0].Params["phone_number"])
	assert.Equal(t, "a@x.io", statements[0].Params["email"])
	assert.Equal(t, emailCypher, statements[1].Cypher)
}

func TestStatements_Secondary(t *testing.T) {
	statements := Statements(identity.Outcome{
		Scenario:  identity.ScenarioPartial,
		PrimaryID: 1,
		Created: []models.Contact{{
			ID: 2, Email: ptr("b@x.io"), PhoneNumber: ptr("555"),
			LinkPrecedence: models.LinkPrecedenceSecondary, LinkedID: ptr(int64(1)),
		}},
	})

	require.Len(t, statements, 4)
	last := statements[3]
	assert.Equal(t, linkCypher, last.Cypher)
	assert.Equal(t, int64(2), last.Params["id"])
	assert.Equal(t, int64(1), last.Params["primary_id"])
}

func TestStatements_Split(t *testing.T) {
	statements := Statements(identity.Outcome{
		Scenario:  identity.ScenarioSplit,
		PrimaryID: 1,
		Demoted: &models.Contact{
			ID: 7, PhoneNumber: ptr("555"), LinkPrecedence: models.LinkPrecedencePrimary,
		},
		RelinkedCount: 2,
	})

	require.Len(t, statements, 4)
	assert.Equal(t, "secondary", statements[0].Params["link_precedence"])
	assert.Equal(t, relinkCypher, statements[2].Cypher)
	assert.Equal(t, int64(7), statements[2].Params["from_id"])
	assert.Equal(t, linkCypher, statements[3].Cypher)
}

func TestClusterMirror_AfterIdentify(t *testing.T) {
	runner := &fakeRunner{}
	mirror := newMirror(runner)

	require.NoError(t, mirror.AfterIdentify(context.Background(), identity.Outcome{Scenario: identity.ScenarioExact, PrimaryID: 1}, models.Summary{}))
	assert.Empty(t, runner.runs)

	outcome := identity.Outcome{
		Scenario:  identity.ScenarioNew,
		PrimaryID: 1,
		Created:   []models.Contact{{ID: 1, PhoneNumber: ptr("555"), LinkPrecedence: models.LinkPrecedencePrimary}},
	}
	require.NoError(t, mirror.AfterIdentify(context.Background(), outcome, models.Summary{}))
	assert.Len(t, runner.runs, 1)

	runner.err = errors.New("bolt closed")
	assert.Error(t, mirror.AfterIdentify(context.Background(), outcome, models.Summary{}))
	assert.Equal(t, "graph", mirror.Name())
}

func TestConfigURI(t *testing.T) {
	assert.Equal(t, "bolt://memgraph:7687", Config{Host: "memgraph", Port: 7687}.URI())
}
