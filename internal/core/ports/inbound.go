package ports

import (
	"context"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

// Retriever is the inbound contract for multi-source evidence retrieval.
type Retriever interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error)
}

// CitationVerifier checks generated text against retrieved evidence.
type CitationVerifier interface {
	VerifyCitations(ctx context.Context, generatedText string, evidence []domain.EvidenceItem, tenantID string) (*domain.VerificationReport, error)
}

// CacheAdmin is the administrative contract for explicit invalidation.
type CacheAdmin interface {
	InvalidateCache(ctx context.Context, tenantID, caseID string) (int, error)
}
