package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
	"github.com/kodeks-ai/lexrag/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel, embedModel string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// SetResilienceExecutor wraps every model-server call in the shared
// retry and circuit-breaker policy. Set before first use.
func (c *Client) SetResilienceExecutor(executor *resilience.Executor) {
	c.executor = executor
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return response.Embeddings[0], nil
}

// Paraphraser rewrites queries with the generation model. Failures are
// tolerated upstream; the expander falls back to its heuristics.
type Paraphraser struct {
	client *Client
}

func NewParaphraser(client *Client) *Paraphraser {
	return &Paraphraser{client: client}
}

func (p *Paraphraser) Expand(ctx context.Context, queryText string, strategy domain.ExpansionStrategy, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}

	respText, err := p.client.generateJSON(ctx, buildExpansionPrompt(queryText, strategy, max))
	if err != nil {
		return nil, err
	}

	var result struct {
		Variants []string `json:"variants"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &result); err != nil {
		return nil, fmt.Errorf("parse expansion json: %w", err)
	}

	variants := make([]string, 0, max)
	for _, variant := range result.Variants {
		variant = strings.TrimSpace(variant)
		if variant == "" {
			continue
		}
		variants = append(variants, variant)
		if len(variants) == max {
			break
		}
	}
	return variants, nil
}

// Scorer grades candidate passages against the query, one relevance
// value per candidate on [0,1].
type Scorer struct {
	client *Client
}

func NewScorer(client *Client) *Scorer {
	return &Scorer{client: client}
}

func (s *Scorer) Score(ctx context.Context, queryText string, candidates []string) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	respText, err := s.client.generateJSON(ctx, buildScoringPrompt(queryText, candidates))
	if err != nil {
		return nil, err
	}

	var result struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &result); err != nil {
		return nil, fmt.Errorf("parse scoring json: %w", err)
	}
	if len(result.Scores) != len(candidates) {
		return nil, fmt.Errorf("scoring result length %d, want %d", len(result.Scores), len(candidates))
	}
	return result.Scores, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
