package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

// Backend expands retrieval through the citation graph: a fulltext seed
// search over passage nodes, then a bounded traversal along legal
// cross-reference edges.
type Backend struct {
	driver   neo4j.DriverWithContext
	database string
	maxHops  int
}

func New(driver neo4j.DriverWithContext, database string, maxHops int) *Backend {
	if maxHops <= 0 {
		maxHops = 2
	}
	return &Backend{driver: driver, database: database, maxHops: maxHops}
}

func Open(uri, username, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	return driver, nil
}

func (b *Backend) EnsureSchema(ctx context.Context) error {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: b.database})
	defer session.Close(ctx)

	const stmt = `CREATE FULLTEXT INDEX passage_text IF NOT EXISTS FOR (p:Passage) ON EACH [p.text, p.title]`
	if _, err := session.Run(ctx, stmt, nil); err != nil {
		return fmt.Errorf("ensure fulltext index: %w", err)
	}
	return nil
}

func (b *Backend) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}

func (b *Backend) Source() domain.Source {
	return domain.SourceGraph
}

func (b *Backend) Search(ctx context.Context, queryText string, scope domain.ScopeFilter, filters map[string]string, topK int) ([]domain.EvidenceItem, error) {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: b.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	cypher, params := buildTraversal(queryText, scope, filters, topK, b.maxHops)
	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "graph search", err)
	}

	var items []domain.EvidenceItem
	for result.Next(ctx) {
		items = append(items, itemFromRow(result.Record().AsMap(), scope.TenantID))
	}
	if err := result.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "graph search", err)
	}
	return items, nil
}

// buildTraversal keeps the scope predicate on BOTH the seed and the
// traversed node: an in-tenant seed must never pull an out-of-tenant
// neighbor into the result.
func buildTraversal(queryText string, scope domain.ScopeFilter, filters map[string]string, topK, maxHops int) (string, map[string]any) {
	params := map[string]any{
		"query":     queryText,
		"tenant_id": scope.TenantID,
		"top_k":     topK,
	}

	scopeClause := func(alias string) string {
		clauses := []string{fmt.Sprintf("%s.tenant_id = $tenant_id", alias)}
		if len(scope.AllowedCases) > 0 {
			params["cases"] = scope.AllowedCases
			clauses = append(clauses, fmt.Sprintf("%s.case_id IN $cases", alias))
		}
		if len(scope.AllowedVisibility) > 0 {
			params["visibility"] = scope.AllowedVisibility
			clauses = append(clauses, fmt.Sprintf("%s.visibility IN $visibility", alias))
		}
		for _, key := range []string{domain.MetaDocType, domain.MetaJurisdiction} {
			if value, ok := filters[key]; ok {
				params[key] = value
				clauses = append(clauses, fmt.Sprintf("%s.%s = $%s", alias, key, key))
			}
		}
		return strings.Join(clauses, " AND ")
	}

	cypher := fmt.Sprintf(`
CALL db.index.fulltext.queryNodes('passage_text', $query) YIELD node AS seed, score
WHERE %s
MATCH path = (seed)-[:CITES|INTERPRETS|AMENDS*0..%d]->(related)
WHERE %s
WITH related, min(length(path)) AS hops, max(score) AS seed_score
RETURN related.doc_id AS doc_id, related.passage_offset AS passage_offset, related.text AS text,
	related.case_id AS case_id, related.visibility AS visibility, related.doc_type AS doc_type,
	related.jurisdiction AS jurisdiction, related.title AS title,
	seed_score, hops
ORDER BY hops ASC, seed_score DESC, doc_id ASC
LIMIT $top_k`, scopeClause("seed"), maxHops, scopeClause("related"))

	return cypher, params
}

func itemFromRow(row map[string]any, tenantID string) domain.EvidenceItem {
	score := asFloat(row["seed_score"])
	hops := asInt(row["hops"])
	return domain.EvidenceItem{
		Source:     domain.SourceGraph,
		DocumentID: asString(row["doc_id"]),
		Offset:     asInt(row["passage_offset"]),
		Text:       asString(row["text"]),
		RawScore:   score,
		// Lucene relevance squashed onto [0,1), then decayed per hop so
		// indirect citations rank below the passage that seeded them.
		NormScore: (score / (score + 1)) / float64(1+hops),
		Metadata: map[string]string{
			domain.MetaTenantID:     tenantID,
			domain.MetaCaseID:       asString(row["case_id"]),
			domain.MetaVisibility:   asString(row["visibility"]),
			domain.MetaDocType:      asString(row["doc_type"]),
			domain.MetaJurisdiction: asString(row["jurisdiction"]),
			domain.MetaTitle:        asString(row["title"]),
		},
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}
