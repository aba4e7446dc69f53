package usecase

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
	"github.com/kodeks-ai/lexrag/internal/core/ports"
)

// Reranker refines the ordering of the top-N fused candidates. It is
// side-effect free: the head is re-scored on copies, the tail keeps its
// fusion-stage order appended unchanged. A missing or failing model
// never fails the request; the fused ordering is returned as-is.
type Reranker struct {
	model  ports.RerankModel
	logger *slog.Logger
}

func NewReranker(model ports.RerankModel, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{model: model, logger: logger}
}

func (r *Reranker) Rerank(ctx context.Context, queryText string, fused []domain.EvidenceItem, topN int) []domain.EvidenceItem {
	if len(fused) == 0 {
		return fused
	}
	if topN <= 0 || topN > len(fused) {
		topN = len(fused)
	}

	head := make([]domain.EvidenceItem, topN)
	copy(head, fused[:topN])

	scores, err := r.headScores(ctx, queryText, head)
	if err != nil {
		r.logger.Warn("rerank_model_unavailable", "error", err, "candidates", topN)
		return fused
	}
	for i := range head {
		head[i].FusedScore = scores[i]
	}
	domain.SortEvidence(head)

	if topN == len(fused) {
		return head
	}
	out := make([]domain.EvidenceItem, 0, len(fused))
	out = append(out, head...)
	out = append(out, fused[topN:]...)
	return out
}

func (r *Reranker) headScores(ctx context.Context, queryText string, head []domain.EvidenceItem) ([]float64, error) {
	if r.model != nil {
		texts := make([]string, len(head))
		for i, item := range head {
			texts[i] = item.Text
		}
		scores, err := r.model.Score(ctx, queryText, texts)
		if err == nil && len(scores) == len(head) {
			return scores, nil
		}
		if err != nil {
			return nil, err
		}
		// Wrong cardinality is as unusable as an outage.
		r.logger.Warn("rerank_model_cardinality_mismatch", "want", len(head), "got", len(scores))
	}
	return lexicalCrossScores(queryText, head), nil
}

// lexicalCrossScores is the deterministic built-in relevance model:
// min-max normalized fused score blended with query-token overlap and
// a title hit, weighted 0.6/0.3/0.1.
func lexicalCrossScores(queryText string, head []domain.EvidenceItem) []float64 {
	queryTokens := toTokenSet(queryText)

	minScore := head[0].FusedScore
	maxScore := head[0].FusedScore
	for _, item := range head[1:] {
		if item.FusedScore < minScore {
			minScore = item.FusedScore
		}
		if item.FusedScore > maxScore {
			maxScore = item.FusedScore
		}
	}
	scoreRange := maxScore - minScore
	normalize := func(v float64) float64 {
		if scoreRange <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / scoreRange
	}

	out := make([]float64, len(head))
	for i, item := range head {
		overlap := tokenOverlap(queryTokens, toTokenSet(item.Text))
		titleBoost := titleTokenHit(queryTokens, item.Metadata[domain.MetaTitle])
		out[i] = 0.60*normalize(item.FusedScore) + 0.30*overlap + 0.10*titleBoost
	}
	return out
}

func tokenOverlap(query, text map[string]struct{}) float64 {
	if len(query) == 0 || len(text) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := text[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func titleTokenHit(query map[string]struct{}, title string) float64 {
	if len(query) == 0 || title == "" {
		return 0
	}
	title = strings.ToLower(title)
	for token := range query {
		if token == "" {
			continue
		}
		if strings.Contains(title, token) {
			return 1
		}
	}
	return 0
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
