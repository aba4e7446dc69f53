package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// CacheEntry is one cached retrieval outcome. Entries are replaced
// wholesale, never patched in place.
type CacheEntry struct {
	Key       string         `json:"key"`
	TenantID  string         `json:"tenant_id"`
	CaseID    string         `json:"case_id,omitempty"`
	Items     []EvidenceItem `json:"items"`
	Level     EvidenceLevel  `json:"evidence_level"`
	Warnings  []string       `json:"warnings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (e CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// CacheKey derives the cache identity of a query. Filters and sources
// are sorted before hashing so that logically identical queries always
// map to the same entry regardless of argument ordering.
func CacheKey(text, tenantID, caseID string, filters map[string]string, sources []Source) string {
	filterKeys := make([]string, 0, len(filters))
	for k := range filters {
		filterKeys = append(filterKeys, k)
	}
	sort.Strings(filterKeys)

	sourceNames := make([]string, 0, len(sources))
	for _, s := range sources {
		sourceNames = append(sourceNames, string(s))
	}
	sort.Strings(sourceNames)

	var b strings.Builder
	b.WriteString(text)
	b.WriteByte(0)
	b.WriteString(tenantID)
	b.WriteByte(0)
	b.WriteString(caseID)
	b.WriteByte(0)
	for _, k := range filterKeys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(filters[k])
		b.WriteByte(0)
	}
	b.WriteString(strings.Join(sourceNames, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
