package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Source identifies which backend produced an evidence item.
type Source string

const (
	SourceLexical Source = "lexical"
	SourceVector  Source = "vector"
	SourceGraph   Source = "graph"
)

// AllSources is the default source set when a request does not name one.
func AllSources() []Source {
	return []Source{SourceLexical, SourceVector, SourceGraph}
}

// ParseSources validates and normalizes a caller-supplied source list.
// Unknown names are a caller programming error, never silently dropped.
func ParseSources(names []string) ([]Source, error) {
	if len(names) == 0 {
		return AllSources(), nil
	}
	seen := make(map[Source]bool, len(names))
	out := make([]Source, 0, len(names))
	for _, name := range names {
		s := Source(strings.ToLower(strings.TrimSpace(name)))
		switch s {
		case SourceLexical, SourceVector, SourceGraph:
		default:
			return nil, WrapError(ErrUnknownSource, "parse sources", fmt.Errorf("%q", name))
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// RetrievalRequest is the inbound retrieve() payload.
type RetrievalRequest struct {
	Text     string            `json:"query"`
	TenantID string            `json:"tenant_id"`
	CaseID   string            `json:"case_id,omitempty"`
	Sources  []string          `json:"sources,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// Query is the immutable, validated form of a retrieval request.
type Query struct {
	ID       string
	Text     string
	TenantID string
	CaseID   string
	Filters  map[string]string
	Sources  []Source
}

// ScopeFilter is the resolved access-control predicate for one query.
// It is computed once and passed unchanged to every backend call.
type ScopeFilter struct {
	TenantID          string
	AllowedCases      []string // empty = every case in the tenant
	AllowedVisibility []string // empty = every visibility level
}

// Allows reports whether an evidence item is visible under the filter.
// Adapters enforce the same predicate server-side; this is the invariant
// check applied again before anything is returned to a caller.
func (f ScopeFilter) Allows(item EvidenceItem) bool {
	if item.Metadata[MetaTenantID] != f.TenantID {
		return false
	}
	if len(f.AllowedCases) > 0 && !containsString(f.AllowedCases, item.Metadata[MetaCaseID]) {
		return false
	}
	if len(f.AllowedVisibility) > 0 && !containsString(f.AllowedVisibility, item.Metadata[MetaVisibility]) {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Well-known evidence metadata keys. Adapters fill these at the
// conversion boundary; nothing backend-native leaks past them.
const (
	MetaTenantID     = "tenant_id"
	MetaCaseID       = "case_id"
	MetaVisibility   = "visibility"
	MetaJurisdiction = "jurisdiction"
	MetaDocType      = "doc_type"
	MetaTitle        = "title"
)

// EvidenceItem is one retrieved unit of evidence. Text, source and
// metadata are read-only after creation; fusion and reranking write
// only the score fields of their own copies.
type EvidenceItem struct {
	Source     Source            `json:"source"`
	DocumentID string            `json:"document_id"`
	Offset     int               `json:"offset"`
	Text       string            `json:"text"`
	RawScore   float64           `json:"raw_score"`
	NormScore  float64           `json:"norm_score"`
	FusedScore float64           `json:"fused_score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DedupKey is the identity used by fusion: the same logical passage
// retrieved through several ranked lists collapses onto one key.
func (e EvidenceItem) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d", e.Source, e.DocumentID, e.Offset)
}

// EvidenceLevel classifies the overall quality of a fused result set.
type EvidenceLevel string

const (
	EvidenceStrong       EvidenceLevel = "STRONG"
	EvidenceModerate     EvidenceLevel = "MODERATE"
	EvidenceLow          EvidenceLevel = "LOW"
	EvidenceInsufficient EvidenceLevel = "INSUFFICIENT"
)

// RetrievalResult is what retrieve() hands back to the caller.
// Abstention is a normal response variant, not an error.
type RetrievalResult struct {
	Items     []EvidenceItem `json:"items"`
	Level     EvidenceLevel  `json:"evidence_level"`
	Abstained bool           `json:"abstained"`
	CacheHit  bool           `json:"cache_hit"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// ExpansionStrategy names how alternate query phrasings are produced.
type ExpansionStrategy string

const (
	// ExpandParaphrase issues semantically diverse rewrites of the query.
	ExpandParaphrase ExpansionStrategy = "paraphrase"
	// ExpandHypothetical rewrites the query as a hypothetical answer
	// statement, trading precision for recall on retry.
	ExpandHypothetical ExpansionStrategy = "hypothetical"
)

// SortEvidence orders items by fused score descending with the
// documented tie-break: higher best single raw backend score first,
// then lexicographic document id, then offset. This rule is the
// regression seam of the whole engine; keep it exactly reproducible.
func SortEvidence(items []EvidenceItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].FusedScore != items[j].FusedScore {
			return items[i].FusedScore > items[j].FusedScore
		}
		if items[i].RawScore != items[j].RawScore {
			return items[i].RawScore > items[j].RawScore
		}
		if items[i].DocumentID != items[j].DocumentID {
			return items[i].DocumentID < items[j].DocumentID
		}
		return items[i].Offset < items[j].Offset
	})
}
