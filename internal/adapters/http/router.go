package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
	"github.com/kodeks-ai/lexrag/internal/core/ports"
)

type Router struct {
	retriever ports.Retriever
	verifier  ports.CitationVerifier
	admin     ports.CacheAdmin
	latency   ports.LatencyRecorder

	metricsHandler http.Handler
	traffic        TrafficConfig
}

func NewRouter(
	retriever ports.Retriever,
	verifier ports.CitationVerifier,
	admin ports.CacheAdmin,
	latency ports.LatencyRecorder,
	metricsHandler http.Handler,
	traffic TrafficConfig,
) *Router {
	return &Router{
		retriever:      retriever,
		verifier:       verifier,
		admin:          admin,
		latency:        latency,
		metricsHandler: metricsHandler,
		traffic:        traffic,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/retrieve", rt.retrieve)
	mux.HandleFunc("/v1/verify", rt.verify)
	mux.HandleFunc("/v1/admin/cache/invalidate", rt.invalidateCache)
	mux.HandleFunc("/v1/admin/latency", rt.latencySummary)
	if rt.metricsHandler != nil {
		mux.Handle("/metrics", rt.metricsHandler)
	}

	var handler http.Handler = mux
	handler = trafficControlMiddleware(handler, rt.traffic)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.RetrievalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	result, err := rt.retriever.Retrieve(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		GeneratedText string                `json:"generated_text"`
		Evidence      []domain.EvidenceItem `json:"evidence"`
		TenantID      string                `json:"tenant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.GeneratedText) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "generated_text is required"})
		return
	}

	report, err := rt.verifier.VerifyCitations(r.Context(), req.GeneratedText, req.Evidence, req.TenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) invalidateCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		TenantID string `json:"tenant_id"`
		CaseID   string `json:"case_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	count, err := rt.admin.InvalidateCache(r.Context(), req.TenantID, req.CaseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated_entries": count})
}

func (rt *Router) latencySummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": rt.latency.Summary()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
