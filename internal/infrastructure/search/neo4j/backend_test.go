package neo4j

import (
	"math"
	"strings"
	"testing"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

func TestBuildTraversalScopesSeedAndRelated(t *testing.T) {
	scope := domain.ScopeFilter{
		TenantID:          "tenant-1",
		AllowedCases:      []string{"case-1"},
		AllowedVisibility: []string{"internal"},
	}
	cypher, params := buildTraversal("limitation period", scope, map[string]string{domain.MetaJurisdiction: "de"}, 10, 2)

	if !strings.Contains(cypher, "db.index.fulltext.queryNodes('passage_text', $query)") {
		t.Fatalf("traversal must seed from the fulltext index:\n%s", cypher)
	}
	if !strings.Contains(cypher, "[:CITES|INTERPRETS|AMENDS*0..2]") {
		t.Fatalf("traversal must be hop-bounded:\n%s", cypher)
	}
	for _, alias := range []string{"seed", "related"} {
		for _, clause := range []string{
			alias + ".tenant_id = $tenant_id",
			alias + ".case_id IN $cases",
			alias + ".visibility IN $visibility",
			alias + ".jurisdiction = $jurisdiction",
		} {
			if !strings.Contains(cypher, clause) {
				t.Fatalf("missing clause %q:\n%s", clause, cypher)
			}
		}
	}
	if params["tenant_id"] != "tenant-1" || params["query"] != "limitation period" || params["top_k"] != 10 {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestBuildTraversalOmitsUnsetScopeClauses(t *testing.T) {
	cypher, params := buildTraversal("tax", domain.ScopeFilter{TenantID: "t"}, nil, 5, 1)

	if strings.Contains(cypher, "$cases") || strings.Contains(cypher, "$visibility") {
		t.Fatalf("unset scope dimensions must not appear:\n%s", cypher)
	}
	if _, ok := params["cases"]; ok {
		t.Fatalf("unexpected cases param: %v", params)
	}
}

func TestItemFromRowDecaysScoreByHops(t *testing.T) {
	row := map[string]any{
		"doc_id":         "doc-1",
		"passage_offset": int64(4),
		"text":           "the statute provides",
		"case_id":        "case-1",
		"visibility":     "internal",
		"doc_type":       "statute",
		"jurisdiction":   "de",
		"title":          "Civil Code",
		"seed_score":     3.0,
		"hops":           int64(1),
	}
	item := itemFromRow(row, "tenant-1")

	if item.Source != domain.SourceGraph || item.DocumentID != "doc-1" || item.Offset != 4 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.RawScore != 3.0 {
		t.Fatalf("raw score must keep the lucene relevance, got %f", item.RawScore)
	}
	want := (3.0 / 4.0) / 2.0
	if math.Abs(item.NormScore-want) > 1e-9 {
		t.Fatalf("norm score = %f, want %f", item.NormScore, want)
	}
	if item.Metadata[domain.MetaTenantID] != "tenant-1" {
		t.Fatalf("item must carry the querying tenant, got %+v", item.Metadata)
	}

	direct := itemFromRow(map[string]any{"seed_score": 3.0, "hops": int64(0)}, "tenant-1")
	if direct.NormScore <= item.NormScore {
		t.Fatalf("direct hit must outrank a one-hop neighbor: %f vs %f", direct.NormScore, item.NormScore)
	}
}
