package usecase

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
	"github.com/kodeks-ai/lexrag/internal/core/ports"
)

// Citation-like span patterns for legal text. Ordered most-specific
// first; overlapping matches collapse on the normalized span.
var citationPatterns = []*regexp.Regexp{
	// "Art. 37 of Statute X", "Article 12(1) of the Data Protection Act"
	regexp.MustCompile(`(?i)\bArt(?:icle)?\.?\s+\d+[a-z]?(?:\(\d+\))?\s+of\s+(?:the\s+)?[A-Z][\w .-]*`),
	// "Section 5 of the Companies Act", "§ 1782 of Title 28"
	regexp.MustCompile(`(?i)\b(?:Section|§)\s*\d+[a-z]?(?:\(\d+\))?\s+of\s+(?:the\s+)?[A-Z][\w .-]*`),
	// "Case No. C-131/12", "Case No 2019/1234"
	regexp.MustCompile(`(?i)\bCase\s+No\.?\s*[A-Z]?-?\d+[/\-]\d+`),
	// Bare article/section references: "Art. 6", "Section 230"
	regexp.MustCompile(`(?i)\b(?:Art(?:icle)?\.?|Section|§)\s*\d+[a-z]?(?:\(\d+\))?`),
}

// assertivePattern marks spans that assert a checkable article-of-named-
// statute fact; only those can be contradicted, everything else that
// fails both checks stays ambiguous.
var assertivePattern = regexp.MustCompile(`(?i)\b(?:Art(?:icle)?\.?|Section|§)\s*(\d+[a-z]?)(?:\(\d+\))?\s+of\s+(?:the\s+)?([A-Z][\w .-]*)`)

// VerifyUseCase post-hoc checks that citation-like spans in generated
// text are traceable to retrieved evidence or to the authority entity
// store. It is read-only and best-effort: an entity-store outage fails
// open to UNVERIFIED, never to an error.
type VerifyUseCase struct {
	entities  ports.EntityStore
	latency   ports.LatencyRecorder
	logger    *slog.Logger
	onVerdict func(status domain.GroundingStatus)
}

func NewVerifyUseCase(entities ports.EntityStore, latency ports.LatencyRecorder, logger *slog.Logger) *VerifyUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifyUseCase{entities: entities, latency: latency, logger: logger}
}

// SetVerdictHook registers a callback fired once per verdict, used to
// mirror verdicts into metrics. Set before first use.
func (uc *VerifyUseCase) SetVerdictHook(hook func(status domain.GroundingStatus)) {
	uc.onVerdict = hook
}

func (uc *VerifyUseCase) VerifyCitations(ctx context.Context, generatedText string, evidence []domain.EvidenceItem, tenantID string) (*domain.VerificationReport, error) {
	started := time.Now()
	defer func() {
		uc.latency.Observe(StageVerify, time.Since(started))
	}()

	spans := extractCitations(generatedText)
	verdicts := make([]domain.GroundingVerdict, 0, len(spans))
	verified := 0

	for _, span := range spans {
		verdict := uc.verifySpan(ctx, span, evidence)
		if verdict.Status == domain.GroundingVerified {
			verified++
		}
		if uc.onVerdict != nil {
			uc.onVerdict(verdict.Status)
		}
		verdicts = append(verdicts, verdict)
	}

	fidelity := 1.0
	if len(verdicts) > 0 {
		fidelity = float64(verified) / float64(len(verdicts))
	}
	uc.logger.Info("citation_verification",
		"tenant_id", tenantID,
		"citations", len(verdicts),
		"verified", verified,
		"fidelity_index", fidelity,
	)
	return &domain.VerificationReport{Verdicts: verdicts, FidelityIndex: fidelity}, nil
}

func (uc *VerifyUseCase) verifySpan(ctx context.Context, span string, evidence []domain.EvidenceItem) domain.GroundingVerdict {
	verdict := domain.GroundingVerdict{Citation: span}

	// Context verification: literal containment first, then a token
	// overlap paraphrase check against each evidence text.
	normSpan := normalizeCitationText(span)
	spanTokens := toTokenSet(span)
	for _, item := range evidence {
		normText := normalizeCitationText(item.Text)
		if strings.Contains(normText, normSpan) || tokenOverlap(spanTokens, toTokenSet(item.Text)) >= 0.9 {
			verdict.Status = domain.GroundingVerified
			verdict.Supporting = appendUnique(verdict.Supporting, item.DocumentID)
		}
	}
	if verdict.Status == domain.GroundingVerified {
		return verdict
	}

	// Entity verification against the authority store. Any failure
	// other than a clean not-found fails open.
	if uc.entities != nil {
		entity, err := uc.entities.Lookup(ctx, span)
		switch {
		case err == nil:
			verdict.Status = domain.GroundingVerified
			verdict.Supporting = []string{entity.ID}
			return verdict
		case !domain.IsKind(err, domain.ErrEntityNotFound):
			uc.logger.Warn("entity_store_unavailable", "citation", span, "error", err)
			verdict.Status = domain.GroundingUnverified
			return verdict
		}
	}

	if contradictsEvidence(span, evidence) {
		verdict.Status = domain.GroundingContradicted
		return verdict
	}
	verdict.Status = domain.GroundingUnverified
	return verdict
}

// contradictsEvidence reports whether the span asserts an article of a
// statute the evidence does discuss, under a different article number.
// The statute being present makes the absent article a checkable false
// assertion rather than mere ambiguity.
func contradictsEvidence(span string, evidence []domain.EvidenceItem) bool {
	m := assertivePattern.FindStringSubmatch(span)
	if m == nil {
		return false
	}
	article := strings.ToLower(m[1])
	statute := normalizeCitationText(m[2])
	if statute == "" {
		return false
	}

	statuteSeen := false
	for _, item := range evidence {
		normText := normalizeCitationText(item.Text)
		if !strings.Contains(normText, statute) {
			continue
		}
		statuteSeen = true
		for _, em := range assertivePattern.FindAllStringSubmatch(item.Text, -1) {
			if strings.ToLower(em[1]) == article && strings.Contains(statute, normalizeCitationText(em[2])) {
				return false
			}
		}
	}
	return statuteSeen
}

func extractCitations(text string) []string {
	var spans []string
	seen := make(map[string]bool)
	covered := make([][2]int, 0, 8)

	for _, pattern := range citationPatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			if overlapsAny(covered, loc[0], loc[1]) {
				continue
			}
			span := strings.TrimRight(strings.TrimSpace(text[loc[0]:loc[1]]), ".,;:")
			key := normalizeCitationText(span)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			covered = append(covered, [2]int{loc[0], loc[1]})
			spans = append(spans, span)
		}
	}
	return spans
}

func overlapsAny(covered [][2]int, start, end int) bool {
	for _, c := range covered {
		if start < c[1] && end > c[0] {
			return true
		}
	}
	return false
}

// normalizeCitationText lowercases and collapses everything that is not
// a letter or digit, so punctuation and spacing variants compare equal.
func normalizeCitationText(s string) string {
	return strings.Join(splitAlphaNumLower(s), " ")
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
