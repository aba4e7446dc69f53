package usecase

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
	"github.com/kodeks-ai/lexrag/internal/core/ports"
)

// Expander produces the query formulations issued on fan-out: the
// original text first, then up to maxExtra alternates from the first
// provider in the chain that succeeds. Providers that fail are skipped,
// so expansion can only add recall, never break a query.
type Expander struct {
	providers []ports.ExpansionProvider
	maxExtra  int
	logger    *slog.Logger
}

func NewExpander(providers []ports.ExpansionProvider, maxExtra int, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	if maxExtra < 0 {
		maxExtra = 0
	}
	return &Expander{providers: providers, maxExtra: maxExtra, logger: logger}
}

func (e *Expander) Expand(ctx context.Context, queryText string, strategy domain.ExpansionStrategy) []string {
	out := []string{queryText}
	if e.maxExtra == 0 {
		return out
	}

	for _, provider := range e.providers {
		variants, err := provider.Expand(ctx, queryText, strategy, e.maxExtra)
		if err != nil {
			e.logger.Warn("query_expansion_provider_failed", "strategy", string(strategy), "error", err)
			continue
		}
		for _, v := range variants {
			v = strings.TrimSpace(v)
			if v == "" || equalFoldTrim(v, queryText) || containsFold(out, v) {
				continue
			}
			out = append(out, v)
			if len(out) > e.maxExtra {
				return out
			}
		}
		if len(out) > 1 {
			return out
		}
	}
	return out
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// HeuristicExpansion is the deterministic tail of the provider chain.
// It never fails, so a misbehaving LLM provider degrades expansion
// quality, not availability.
type HeuristicExpansion struct{}

func NewHeuristicExpansion() *HeuristicExpansion {
	return &HeuristicExpansion{}
}

func (h *HeuristicExpansion) Expand(_ context.Context, queryText string, strategy domain.ExpansionStrategy, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}

	var variants []string
	switch strategy {
	case domain.ExpandHypothetical:
		variants = h.hypothetical(queryText)
	default:
		variants = h.paraphrases(queryText)
	}
	if len(variants) > max {
		variants = variants[:max]
	}
	return variants, nil
}

// paraphrases builds a keyword reduction and a question-neutral rewrite.
func (h *HeuristicExpansion) paraphrases(queryText string) []string {
	keywords := contentWords(queryText)
	out := make([]string, 0, 2)
	if len(keywords) > 1 {
		out = append(out, strings.Join(keywords, " "))
	}
	if len(keywords) > 0 {
		out = append(out, "legal provisions governing "+strings.Join(keywords, " "))
	}
	return out
}

// hypothetical rewrites the query as the statement a relevant passage
// would contain, the hypothetical-answer trick for recall on retry.
func (h *HeuristicExpansion) hypothetical(queryText string) []string {
	keywords := contentWords(queryText)
	if len(keywords) == 0 {
		return nil
	}
	joined := strings.Join(keywords, " ")
	return []string{
		"the applicable statute provides that " + joined,
		"the court held that " + joined,
	}
}

var expansionStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "can": {}, "did": {}, "do": {},
	"does": {}, "for": {}, "how": {}, "in": {}, "is": {}, "it": {}, "of": {},
	"on": {}, "or": {}, "the": {}, "to": {}, "under": {}, "was": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "with": {},
}

func contentWords(s string) []string {
	tokens := splitAlphaNumLower(s)
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := expansionStopwords[token]; stop {
			continue
		}
		out = append(out, token)
	}
	return out
}
