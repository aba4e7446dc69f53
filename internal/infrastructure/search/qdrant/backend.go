package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
	"github.com/kodeks-ai/lexrag/internal/core/ports"
	"github.com/kodeks-ai/lexrag/internal/infrastructure/resilience"
)

// Backend serves dense retrieval over a qdrant collection via its HTTP API.
type Backend struct {
	baseURL    string
	collection string
	httpClient *http.Client
	embedder   ports.Embedder
	executor   *resilience.Executor
}

func New(baseURL, collection string, embedder ports.Embedder) *Backend {
	return &Backend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		embedder:   embedder,
	}
}

// SetResilienceExecutor wraps search calls in the shared retry and
// circuit-breaker policy. Set before first use.
func (b *Backend) SetResilienceExecutor(executor *resilience.Executor) {
	b.executor = executor
}

func (b *Backend) Source() domain.Source {
	return domain.SourceVector
}

func (b *Backend) Search(ctx context.Context, queryText string, scope domain.ScopeFilter, filters map[string]string, topK int) ([]domain.EvidenceItem, error) {
	vector, err := b.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "embed query", err)
	}

	reqBody := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter":       buildFilter(scope, filters),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	call := func(callCtx context.Context) error {
		url := fmt.Sprintf("%s/collections/%s/points/search", b.baseURL, b.collection)
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create search request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return domain.WrapError(domain.ErrTemporary, "qdrant search request", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			if msg := strings.TrimSpace(string(raw)); msg != "" {
				return domain.WrapError(domain.ErrTemporary, "qdrant search", fmt.Errorf("%s: %s", resp.Status, msg))
			}
			return domain.WrapError(domain.ErrTemporary, "qdrant search", fmt.Errorf("%s", resp.Status))
		}

		if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
			return fmt.Errorf("decode search response: %w", err)
		}
		return nil
	}

	if b.executor == nil {
		err = call(ctx)
	} else {
		err = b.executor.Execute(ctx, "qdrant.search", call, nil)
	}
	if err != nil {
		return nil, err
	}

	items := make([]domain.EvidenceItem, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		items = append(items, domain.EvidenceItem{
			Source:     domain.SourceVector,
			DocumentID: getStringPayload(r.Payload, "doc_id"),
			Offset:     getIntPayload(r.Payload, "passage_offset"),
			Text:       getStringPayload(r.Payload, "text"),
			RawScore:   r.Score,
			NormScore:  clampUnit(r.Score),
			Metadata: map[string]string{
				domain.MetaTenantID:     getStringPayload(r.Payload, "tenant_id"),
				domain.MetaCaseID:       getStringPayload(r.Payload, "case_id"),
				domain.MetaVisibility:   getStringPayload(r.Payload, "visibility"),
				domain.MetaDocType:      getStringPayload(r.Payload, "doc_type"),
				domain.MetaJurisdiction: getStringPayload(r.Payload, "jurisdiction"),
				domain.MetaTitle:        getStringPayload(r.Payload, "title"),
			},
		})
	}
	return items, nil
}

func buildFilter(scope domain.ScopeFilter, filters map[string]string) map[string]any {
	must := []map[string]any{
		{"key": "tenant_id", "match": map[string]any{"value": scope.TenantID}},
	}
	if len(scope.AllowedCases) > 0 {
		must = append(must, map[string]any{
			"key": "case_id", "match": map[string]any{"any": scope.AllowedCases},
		})
	}
	if len(scope.AllowedVisibility) > 0 {
		must = append(must, map[string]any{
			"key": "visibility", "match": map[string]any{"any": scope.AllowedVisibility},
		})
	}
	for _, key := range []string{domain.MetaDocType, domain.MetaJurisdiction} {
		if value, ok := filters[key]; ok {
			must = append(must, map[string]any{
				"key": key, "match": map[string]any{"value": value},
			})
		}
	}
	return map[string]any{"must": must}
}

// Cosine similarity can go negative; anything below zero carries no
// evidence weight.
func clampUnit(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int(f)
}
