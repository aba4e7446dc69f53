package usecase

import (
	"log/slog"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

// GateAction is the corrective decision taken on a fused result set.
type GateAction string

const (
	GateAccept            GateAction = "accept"
	GateAcceptWithWarning GateAction = "accept_with_warning"
	GateRetry             GateAction = "retry"
	GateAbstain           GateAction = "abstain"
)

// GateThresholds are the corrective-gate classification knobs. They are
// deployment configuration, not constants; the zero value is unusable
// and must come from config.
type GateThresholds struct {
	Strong         float64 // best normalized score for STRONG
	Moderate       float64 // best normalized score for MODERATE
	Low            float64 // best normalized score for LOW
	SupportScore   float64 // per-item score counting as support
	StrongMinCount int     // supporting items required for STRONG
	TopKForAverage int     // items in the top-k mean, audit only
}

func DefaultGateThresholds() GateThresholds {
	return GateThresholds{
		Strong:         0.75,
		Moderate:       0.5,
		Low:            0.25,
		SupportScore:   0.5,
		StrongMinCount: 3,
		TopKForAverage: 5,
	}
}

// Gate classifies the evidence quality of a retrieval and decides
// whether to accept it, retry with a different strategy, or abstain.
type Gate struct {
	thresholds GateThresholds
	logger     *slog.Logger
	onDecision func(level domain.EvidenceLevel, action GateAction)
}

func NewGate(thresholds GateThresholds, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{thresholds: thresholds, logger: logger}
}

// SetDecisionHook registers a callback fired after every decision,
// used to mirror decisions into metrics. Set before first use.
func (g *Gate) SetDecisionHook(hook func(level domain.EvidenceLevel, action GateAction)) {
	g.onDecision = hook
}

// Evaluate classifies items (already fused and reranked) from their
// normalized score distribution and maps the level to an action given
// the remaining retry budget. Every decision is logged with its inputs.
func (g *Gate) Evaluate(queryID string, items []domain.EvidenceItem, retriesLeft int) (domain.EvidenceLevel, GateAction) {
	best, topKMean, supportCount := g.statistics(items)

	level := domain.EvidenceInsufficient
	switch {
	case best >= g.thresholds.Strong && supportCount >= g.thresholds.StrongMinCount:
		level = domain.EvidenceStrong
	case best >= g.thresholds.Moderate:
		level = domain.EvidenceModerate
	case best >= g.thresholds.Low:
		level = domain.EvidenceLow
	}

	var action GateAction
	switch level {
	case domain.EvidenceStrong, domain.EvidenceModerate:
		action = GateAccept
	case domain.EvidenceLow:
		if retriesLeft > 0 {
			action = GateRetry
		} else {
			action = GateAcceptWithWarning
		}
	default:
		if retriesLeft > 0 {
			action = GateRetry
		} else {
			action = GateAbstain
		}
	}

	g.logger.Info("retrieval_gate_decision",
		"query_id", queryID,
		"level", string(level),
		"action", string(action),
		"best_score", best,
		"top_k_mean", topKMean,
		"support_count", supportCount,
		"item_count", len(items),
		"retries_left", retriesLeft,
	)
	if g.onDecision != nil {
		g.onDecision(level, action)
	}
	return level, action
}

func (g *Gate) statistics(items []domain.EvidenceItem) (best, topKMean float64, supportCount int) {
	if len(items) == 0 {
		return 0, 0, 0
	}
	topK := g.thresholds.TopKForAverage
	if topK <= 0 || topK > len(items) {
		topK = len(items)
	}
	sum := 0.0
	for i, item := range items {
		if item.NormScore > best {
			best = item.NormScore
		}
		if item.NormScore >= g.thresholds.SupportScore {
			supportCount++
		}
		if i < topK {
			sum += item.NormScore
		}
	}
	return best, sum / float64(topK), supportCount
}
