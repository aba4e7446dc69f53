package usecase

import (
	"reflect"
	"testing"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

func TestFuseRRFDeduplicatesAndSumsScores(t *testing.T) {
	lexical := []domain.EvidenceItem{
		{Source: domain.SourceLexical, DocumentID: "doc-1", Offset: 0, Text: "a", NormScore: 0.9},
		{Source: domain.SourceLexical, DocumentID: "doc-2", Offset: 0, Text: "b", NormScore: 0.8},
	}
	vector := []domain.EvidenceItem{
		{Source: domain.SourceLexical, DocumentID: "doc-2", Offset: 0, Text: "b", NormScore: 1.0},
		{Source: domain.SourceVector, DocumentID: "doc-3", Offset: 4, Text: "c", NormScore: 0.7},
	}

	fused := fuseRRF([][]domain.EvidenceItem{lexical, vector}, 60)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused items, got %d", len(fused))
	}
	// doc-2 appears at rank 2 and rank 1: 1/62 + 1/61.
	want := 1.0/62 + 1.0/61
	if fused[0].DocumentID != "doc-2" {
		t.Fatalf("expected doc-2 first after fusion, got %s", fused[0].DocumentID)
	}
	if fused[0].FusedScore != want {
		t.Fatalf("expected summed score %v, got %v", want, fused[0].FusedScore)
	}
	if fused[0].NormScore != 1.0 {
		t.Fatalf("expected best single backend score kept, got %v", fused[0].NormScore)
	}
}

func TestFuseRRFDedupKeyIncludesSourceAndOffset(t *testing.T) {
	lists := [][]domain.EvidenceItem{
		{{Source: domain.SourceLexical, DocumentID: "doc-1", Offset: 0, Text: "a"}},
		{{Source: domain.SourceVector, DocumentID: "doc-1", Offset: 0, Text: "a"}},
		{{Source: domain.SourceLexical, DocumentID: "doc-1", Offset: 8, Text: "a2"}},
	}

	fused := fuseRRF(lists, 60)
	if len(fused) != 3 {
		t.Fatalf("different (source, doc, offset) tuples must not collapse, got %d items", len(fused))
	}
	seen := make(map[string]bool)
	for _, item := range fused {
		key := item.DedupKey()
		if seen[key] {
			t.Fatalf("duplicate dedup key %q in output", key)
		}
		seen[key] = true
	}
}

func TestFuseRRFDeterministic(t *testing.T) {
	lists := [][]domain.EvidenceItem{
		{
			{Source: domain.SourceLexical, DocumentID: "doc-b", Offset: 0, NormScore: 0.4},
			{Source: domain.SourceLexical, DocumentID: "doc-a", Offset: 0, NormScore: 0.4},
		},
		{
			{Source: domain.SourceVector, DocumentID: "doc-c", Offset: 0, NormScore: 0.4},
		},
	}

	first := fuseRRF(lists, 60)
	second := fuseRRF(lists, 60)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("fusion must be reproducible:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestFuseRRFTieBreakPrefersBestRawThenDocID(t *testing.T) {
	// Same rank in separate lists gives identical fused scores. The tie
	// breaks on the raw backend score, not the normalized one: a strong
	// lexical rank (raw 5.0, norm 5/6) beats a cosine hit whose
	// normalized score is higher (raw 0.9, norm 0.9).
	lists := [][]domain.EvidenceItem{
		{{Source: domain.SourceLexical, DocumentID: "doc-lex", Offset: 0, RawScore: 5.0, NormScore: 5.0 / 6.0}},
		{{Source: domain.SourceVector, DocumentID: "doc-vec", Offset: 0, RawScore: 0.9, NormScore: 0.9}},
		{{Source: domain.SourceGraph, DocumentID: "doc-a", Offset: 0, RawScore: 0.3, NormScore: 0.3}},
		{{Source: domain.SourceGraph, DocumentID: "doc-m", Offset: 4, RawScore: 0.3, NormScore: 0.3}},
	}

	fused := fuseRRF(lists, 60)
	if fused[0].DocumentID != "doc-lex" {
		t.Fatalf("equal fused score must prefer higher raw backend score, got %s first", fused[0].DocumentID)
	}
	if fused[1].DocumentID != "doc-vec" {
		t.Fatalf("expected doc-vec second, got %s", fused[1].DocumentID)
	}
	if fused[2].DocumentID != "doc-a" || fused[3].DocumentID != "doc-m" {
		t.Fatalf("remaining tie must break on document id: got %s then %s", fused[2].DocumentID, fused[3].DocumentID)
	}
}

func TestFuseRRFDefaultsK(t *testing.T) {
	lists := [][]domain.EvidenceItem{
		{{Source: domain.SourceLexical, DocumentID: "doc-1", Offset: 0}},
	}
	fused := fuseRRF(lists, 0)
	if fused[0].FusedScore != 1.0/61 {
		t.Fatalf("expected default k=60, got score %v", fused[0].FusedScore)
	}
}

func TestTrimCandidates(t *testing.T) {
	items := []domain.EvidenceItem{{DocumentID: "a"}, {DocumentID: "b"}, {DocumentID: "c"}}
	if got := trimCandidates(items, 2); len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got := trimCandidates(items, 0); len(got) != 3 {
		t.Fatalf("limit 0 must be unbounded, got %d", len(got))
	}
}
