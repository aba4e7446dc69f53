package domain

// GroundingStatus is the outcome of checking one citation span.
type GroundingStatus string

const (
	GroundingVerified     GroundingStatus = "VERIFIED"
	GroundingUnverified   GroundingStatus = "UNVERIFIED"
	GroundingContradicted GroundingStatus = "CONTRADICTED"
)

// GroundingVerdict records whether one citation-like span from generated
// text is traceable to retrieved evidence or to the authority entity
// store. Verdicts are returned to the caller and never persisted here.
type GroundingVerdict struct {
	Citation   string          `json:"citation"`
	Status     GroundingStatus `json:"status"`
	Supporting []string        `json:"supporting_document_ids,omitempty"`
}

// VerificationReport aggregates per-citation verdicts. FidelityIndex is
// the fraction of citations that verified; text with no citations scores
// 1.0 since nothing it asserts is uncovered.
type VerificationReport struct {
	Verdicts      []GroundingVerdict `json:"verdicts"`
	FidelityIndex float64            `json:"fidelity_index"`
}

// Entity is an authoritative record from the external entity store,
// used as the second line of citation verification.
type Entity struct {
	ID        string
	Canonical string
	Kind      string
}

// InvalidationEvent is broadcast between replicas when an administrator
// drops cached results for a tenant or a single case.
type InvalidationEvent struct {
	TenantID string `json:"tenant_id"`
	CaseID   string `json:"case_id,omitempty"`
}

// LatencySummary is the per-stage percentile digest exposed by the
// latency collector. Durations are milliseconds.
type LatencySummary struct {
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}
