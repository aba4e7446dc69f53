package usecase

import (
	"testing"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

func itemsWithScores(scores ...float64) []domain.EvidenceItem {
	out := make([]domain.EvidenceItem, len(scores))
	for i, s := range scores {
		out[i] = domain.EvidenceItem{DocumentID: "doc", NormScore: s}
	}
	return out
}

func TestGateStrong(t *testing.T) {
	gate := NewGate(DefaultGateThresholds(), nil)

	level, action := gate.Evaluate("q", itemsWithScores(0.8, 0.6, 0.55, 0.5), 1)
	if level != domain.EvidenceStrong {
		t.Fatalf("best 0.8 with 4 items >= 0.5 must be STRONG, got %s", level)
	}
	if action != GateAccept {
		t.Fatalf("STRONG must accept, got %s", action)
	}
}

func TestGateStrongNeedsSupportCount(t *testing.T) {
	gate := NewGate(DefaultGateThresholds(), nil)

	// Best score qualifies but only two items reach the support score.
	level, _ := gate.Evaluate("q", itemsWithScores(0.9, 0.6, 0.1), 1)
	if level != domain.EvidenceModerate {
		t.Fatalf("without 3 supporting items the set is MODERATE, got %s", level)
	}
}

func TestGateModerateAccepts(t *testing.T) {
	gate := NewGate(DefaultGateThresholds(), nil)

	level, action := gate.Evaluate("q", itemsWithScores(0.6, 0.2), 0)
	if level != domain.EvidenceModerate || action != GateAccept {
		t.Fatalf("expected MODERATE/accept, got %s/%s", level, action)
	}
}

func TestGateLowRetriesWhileBudgetRemains(t *testing.T) {
	gate := NewGate(DefaultGateThresholds(), nil)

	level, action := gate.Evaluate("q", itemsWithScores(0.3), 1)
	if level != domain.EvidenceLow || action != GateRetry {
		t.Fatalf("expected LOW/retry, got %s/%s", level, action)
	}

	_, action = gate.Evaluate("q", itemsWithScores(0.3), 0)
	if action != GateAcceptWithWarning {
		t.Fatalf("LOW with no budget must accept with warning, got %s", action)
	}
}

func TestGateInsufficientAbstainsWithoutBudget(t *testing.T) {
	gate := NewGate(DefaultGateThresholds(), nil)

	level, action := gate.Evaluate("q", itemsWithScores(0.1), 1)
	if level != domain.EvidenceInsufficient || action != GateRetry {
		t.Fatalf("expected INSUFFICIENT/retry, got %s/%s", level, action)
	}

	_, action = gate.Evaluate("q", nil, 0)
	if action != GateAbstain {
		t.Fatalf("INSUFFICIENT with no budget must abstain, got %s", action)
	}
}

func TestGateConfigurableThresholds(t *testing.T) {
	thresholds := DefaultGateThresholds()
	thresholds.Moderate = 0.9
	gate := NewGate(thresholds, nil)

	level, _ := gate.Evaluate("q", itemsWithScores(0.8), 0)
	if level != domain.EvidenceLow {
		t.Fatalf("raised moderate threshold must demote to LOW, got %s", level)
	}
}
