package ollama

import (
	"fmt"
	"strings"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

func buildExpansionPrompt(queryText string, strategy domain.ExpansionStrategy, max int) string {
	instruction := fmt.Sprintf("Rewrite the legal research query below into up to %d alternate phrasings a lawyer might use. Keep the legal meaning identical.", max)
	if strategy == domain.ExpandHypothetical {
		instruction = fmt.Sprintf("Write up to %d short hypothetical passages that an authoritative legal text answering the query below would contain. One sentence each.", max)
	}

	return instruction + `
Return strict JSON object with a single key:
variants (array of strings).
No markdown, no extra keys.

Query:
` + queryText
}

func buildScoringPrompt(queryText string, candidates []string) string {
	const maxSnippet = 1500

	var contextBuilder strings.Builder
	for idx, candidate := range candidates {
		snippet := candidate
		if len(snippet) > maxSnippet {
			snippet = snippet[:maxSnippet]
		}
		contextBuilder.WriteString(fmt.Sprintf("[%d] %s\n\n", idx+1, snippet))
	}

	return fmt.Sprintf(`Grade how well each numbered passage answers the legal query.
Return strict JSON object with a single key:
scores (array of numbers from 0 to 1, one per passage, in order).
No markdown, no extra keys.

Query:
%s

Passages:
%s`, queryText, contextBuilder.String())
}
