package graph

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/platform/metrics"
	"github.com/Ramsey-B/fern/internal/platform/tracing"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	upsertContactCypher = `
		MERGE (c:Contact {id: $id})
		SET c.email = $email,
			c.phone_number = $phone_number,
			c.link_precedence = $link_precedence`

	linkCypher = `
		MATCH (c:Contact {id: $id})
		MATCH (p:Contact {id: $primary_id})
		MERGE (c)-[:LINKED_TO]->(p)`

	// moves every secondary of the demoted primary onto the surviving primary
	relinkCypher = `
		MATCH (s:Contact)-[r:LINKED_TO]->(old:Contact {id: $from_id})
		MATCH (p:Contact {id: $to_id})
		DELETE r
		MERGE (s)-[:LINKED_TO]->(p)`

	emailCypher = `
		MATCH (c:Contact {id: $id})
		MERGE (e:Email {address: $email})
		MERGE (c)-[:HAS_EMAIL]->(e)`

	phoneCypher = `
		MATCH (c:Contact {id: $id})
		MERGE (n:Phone {number: $phone_number})
		MERGE (c)-[:HAS_PHONE]->(n)`
)

// StatementRunner executes cypher statements atomically.
type StatementRunner interface {
	RunStatements(ctx context.Context, statements []Statement) error
}

// ClusterMirror keeps a Contact graph in step with committed merges. The
// relational store stays authoritative; a failed sync is reported, not retried.
type ClusterMirror struct {
	runner StatementRunner
	logger ectologger.Logger
}

func NewClusterMirror(runner StatementRunner, logger ectologger.Logger) *ClusterMirror {
	return &ClusterMirror{
		runner: runner,
		logger: logger,
	}
}

func (m *ClusterMirror) Name() string {
	return "graph"
}

func (m *ClusterMirror) AfterIdentify(ctx context.Context, outcome identity.Outcome, _ models.Summary) error {
	ctx, span := tracing.StartSpan(ctx, "graph.ClusterMirror.AfterIdentify")
	defer span.End()

	statements := Statements(outcome)
	if len(statements) == 0 {
		return nil
	}

	if err := m.runner.RunStatements(ctx, statements); err != nil {
		metrics.GraphSyncTotal.WithLabelValues(metrics.ResultError).Inc()
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"primary_id": outcome.PrimaryID,
			"statements": len(statements),
		}).Error("Failed to sync cluster to graph")
		return err
	}

	metrics.GraphSyncTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	return nil
}

// Statements returns the writes that reflect outcome in the graph.
func Statements(outcome identity.Outcome) []Statement {
	var statements []Statement

	for _, c := range outcome.Created {
		statements = append(statements, contactStatements(c)...)
		if !c.IsPrimary() {
			statements = append(statements, Statement{
				Cypher: linkCypher,
				Params: map[string]any{"id": c.ID, "primary_id": outcome.PrimaryID},
			})
		}
	}

	if d := outcome.Demoted; d != nil {
		demoted := *d
		demoted.LinkPrecedence = models.LinkPrecedenceSecondary
		statements = append(statements, contactStatements(demoted)...)
		statements = append(statements,
			Statement{
				Cypher: relinkCypher,
				Params: map[string]any{"from_id": d.ID, "to_id": outcome.PrimaryID},
			},
			Statement{
				Cypher: linkCypher,
				Params: map[string]any{"id": d.ID, "primary_id": outcome.PrimaryID},
			},
		)
	}

	return statements
}

func contactStatements(c models.Contact) []Statement {
	statements := []Statement{{
		Cypher: upsertContactCypher,
		Params: map[string]any{
			"id":              c.ID,
			"email":           nullable(c.Email),
			"phone_number":    nullable(c.PhoneNumber),
			"link_precedence": string(c.LinkPrecedence),
		},
	}}
	if c.Email != nil {
		statements = append(statements, Statement{
			Cypher: emailCypher,
			Params: map[string]any{"id": c.ID, "email": *c.Email},
		})
	}
	if c.PhoneNumber != nil {
		statements = append(statements, Statement{
			Cypher: phoneCypher,
			Params: map[string]any{"id": c.ID, "phone_number": *c.PhoneNumber},
		})
	}
	return statements
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
