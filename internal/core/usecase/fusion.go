package usecase

import (
	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

type fusedCandidate struct {
	item  domain.EvidenceItem
	score float64
}

// fuseRRF merges every per-query, per-backend ranked list into one
// ordered result set using Reciprocal Rank Fusion: each item's fused
// score is the sum over all lists in which it appears of 1/(k+rank),
// with rank 1-based. Duplicates collapse on (source, document id,
// offset) and their contributions sum, never average.
func fuseRRF(lists [][]domain.EvidenceItem, rrfK int) []domain.EvidenceItem {
	if rrfK <= 0 {
		rrfK = 60
	}

	total := 0
	for _, list := range lists {
		total += len(list)
	}
	acc := make(map[string]fusedCandidate, total)

	for _, list := range lists {
		for rank, item := range list {
			key := item.DedupKey()
			candidate := acc[key]
			candidate.item = preferRicherItem(candidate.item, item)
			candidate.score += 1.0 / float64(rrfK+rank+1)
			acc[key] = candidate
		}
	}

	out := make([]domain.EvidenceItem, 0, len(acc))
	for _, c := range acc {
		item := c.item
		item.FusedScore = c.score
		out = append(out, item)
	}

	domain.SortEvidence(out)
	return out
}

func trimCandidates(items []domain.EvidenceItem, limit int) []domain.EvidenceItem {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return items[:limit]
}

// preferRicherItem keeps the most complete view of a passage that
// appears in several ranked lists. Score fields keep the best single
// backend score, which the tie-break rule depends on.
func preferRicherItem(current, candidate domain.EvidenceItem) domain.EvidenceItem {
	if current.DocumentID == "" && current.Text == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if len(current.Metadata) == 0 && len(candidate.Metadata) > 0 {
		current.Metadata = candidate.Metadata
	}
	if candidate.NormScore > current.NormScore {
		current.NormScore = candidate.NormScore
	}
	if candidate.RawScore > current.RawScore {
		current.RawScore = candidate.RawScore
	}
	return current
}
