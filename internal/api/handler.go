package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/claimwatch/claimwatch/internal/domain"
	"github.com/claimwatch/claimwatch/internal/engine"
	"github.com/claimwatch/claimwatch/internal/history"
	"github.com/claimwatch/claimwatch/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	engine  *engine.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(eng *engine.Engine, version string) *Handler {
	return &Handler{
		engine:  eng,
		version: version,
	}
}

// AnalyzeRequest is the request body for POST /analyze.
type AnalyzeRequest struct {
	DocumentBytes []byte                `json:"documentBytes,omitempty"`
	ExtractedData *domain.ExtractedData `json:"extractedData"`
	Metadata      *domain.Metadata      `json:"metadata,omitempty"`
}

// Analyze handles POST /analyze requests.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ExtractedData == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "extractedData is required",
		})
		return
	}
	if !validDocumentType(req.ExtractedData.DocumentType) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "extractedData.documentType must be medical_bill, prescription, or lab_result",
		})
		return
	}

	result, err := h.engine.DetectFraud(ctx, &domain.ClaimDocument{
		Bytes:     req.DocumentBytes,
		Extracted: req.ExtractedData,
		Meta:      req.Metadata,
	})
	if err != nil {
		slog.Error("analysis failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// BatchRequest is the request body for POST /analyze/batch.
type BatchRequest struct {
	Documents []domain.BatchDocument `json:"documents"`
}

// BatchResponse is the response for POST /analyze/batch.
type BatchResponse struct {
	Results           []*domain.FraudDetectionResult `json:"results"`
	TotalDocuments    int                            `json:"totalDocuments"`
	HighRiskDocuments int                            `json:"highRiskDocuments"`
	AverageRiskScore  float64                        `json:"averageRiskScore"`
}

// AnalyzeBatch handles POST /analyze/batch requests. Batch mode is
// strict: one failing document fails the whole request.
func (h *Handler) AnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Documents) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "documents must not be empty",
		})
		return
	}
	for _, doc := range req.Documents {
		if doc.Extracted == nil || !validDocumentType(doc.Extracted.DocumentType) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "every document needs extractedData with a valid documentType",
			})
			return
		}
	}

	results, err := h.engine.DetectBatch(ctx, req.Documents)
	if err != nil {
		slog.Error("batch analysis failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "batch analysis failed",
		})
		return
	}

	var scoreSum float64
	highRisk := 0
	for _, res := range results {
		scoreSum += res.RiskScore
		if res.RiskLevel == domain.RiskHigh || res.RiskLevel == domain.RiskCritical {
			highRisk++
		}
	}

	resp := BatchResponse{
		Results:           results,
		TotalDocuments:    len(results),
		HighRiskDocuments: highRisk,
	}
	if len(results) > 0 {
		resp.AverageRiskScore = scoreSum / float64(len(results))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListAnalyses returns the full analysis history.
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	analyses, err := h.engine.AnalysisHistory(r.Context())
	if err != nil {
		slog.Error("failed to list analyses", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list analyses",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": analyses,
		"count":    len(analyses),
	})
}

// GetAnalysis retrieves a recorded analysis by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "id")
	if analysisID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analysis id is required",
		})
		return
	}

	rec, err := h.engine.GetAnalysis(r.Context(), analysisID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, history.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "analysis not found",
			})
			return
		}
		slog.Error("failed to get analysis", "id", analysisID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get analysis",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListRules returns the rule catalog.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.Rules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loadedRules,
		"count": len(loadedRules),
	})
}

// CreateRuleRequest is the request body for creating an expression rule.
type CreateRuleRequest struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Category    domain.RuleCategory `json:"category,omitempty"`
	Expression  string              `json:"expression"`
	Weight      float64             `json:"weight"`
	Threshold   float64             `json:"threshold"`
	Enabled     bool                `json:"enabled"`
}

// CreateRule compiles and registers a CEL expression rule. Registering
// an existing id hot-swaps the rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	cfg := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Expression:  req.Expression,
		Weight:      req.Weight,
		Threshold:   req.Threshold,
		Enabled:     req.Enabled,
	}

	if err := h.engine.AddExpressionRule(ctx, cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("rule created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, cfg)
}

// ReloadRules re-registers all persisted expression rules.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ReloadRules(r.Context()); err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "reloaded",
	})
}

// EnableRule turns a rule on. Unknown rule ids are a no-op.
func (h *Handler) EnableRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	h.engine.EnableRule(r.Context(), ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"ruleId": ruleID,
		"status": "enabled",
	})
}

// DisableRule turns a rule off. Unknown rule ids are a no-op.
func (h *Handler) DisableRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	h.engine.DisableRule(r.Context(), ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"ruleId": ruleID,
		"status": "disabled",
	})
}

// ListPatterns returns the fraud pattern catalog.
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	patterns := h.engine.Patterns()
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

// GetThresholds returns the current risk thresholds.
func (h *Handler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.RiskThresholds())
}

// UpdateThresholds applies a partial risk threshold update.
func (h *Handler) UpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var update domain.ThresholdUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	thresholds := h.engine.UpdateRiskThresholds(r.Context(), update)
	writeJSON(w, http.StatusOK, thresholds)
}

// ListBlacklist returns the blacklisted entities.
func (h *Handler) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	entities, err := h.engine.BlacklistedEntities(r.Context())
	if err != nil {
		slog.Error("failed to list blacklist", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list blacklist",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

// BlacklistRequest is the request body for POST /blacklist.
type BlacklistRequest struct {
	Entity string `json:"entity"`
}

// AddBlacklist adds an entity to the blacklist.
func (h *Handler) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req BlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Entity == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entity is required",
		})
		return
	}

	if err := h.engine.AddToBlacklist(r.Context(), req.Entity); err != nil {
		slog.Error("failed to blacklist entity", "entity", req.Entity, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to blacklist entity",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"entity": req.Entity,
		"status": "blacklisted",
	})
}

// RemoveBlacklist removes an entity from the blacklist. Unknown entities
// are a no-op.
func (h *Handler) RemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	entity, err := url.PathUnescape(chi.URLParam(r, "entity"))
	if err != nil || entity == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entity is required",
		})
		return
	}

	if err := h.engine.RemoveFromBlacklist(r.Context(), entity); err != nil {
		slog.Error("failed to remove blacklist entity", "entity", entity, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to remove blacklist entity",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"entity": entity,
		"status": "removed",
	})
}

// Statistics returns the analysis history summary.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Statistics(r.Context())
	if err != nil {
		slog.Error("failed to compute statistics", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute statistics",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.engine.Ping(r.Context()); err != nil {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func validDocumentType(t domain.DocumentType) bool {
	switch t {
	case domain.DocTypeMedicalBill, domain.DocTypePrescription, domain.DocTypeLabResult:
		return true
	}
	return false
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
