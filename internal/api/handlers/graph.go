package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/service"
)

type GraphHandler struct {
	graph *service.GraphService
}

func NewGraphHandler(graph *service.GraphService) *GraphHandler {
	return &GraphHandler{graph: graph}
}

type createRelationshipRequest struct {
	SourceBeliefID    string            `json:"source_belief_id"`
	TargetBeliefID    string            `json:"target_belief_id"`
	AgentID           string            `json:"agent_id"`
	Type              string            `json:"type"`
	Strength          float64           `json:"strength"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	EffectiveFrom     *time.Time        `json:"effective_from,omitempty"`
	EffectiveUntil    *time.Time        `json:"effective_until,omitempty"`
	DeprecationReason string            `json:"deprecation_reason,omitempty"`
	Priority          int               `json:"priority,omitempty"`
}

func (h *GraphHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid request body")
		return
	}

	rel, err := h.graph.Create(r.Context(), service.CreateRelationshipInput{
		SourceBeliefID:    req.SourceBeliefID,
		TargetBeliefID:    req.TargetBeliefID,
		AgentID:           req.AgentID,
		Type:              domain.RelationshipType(req.Type),
		Strength:          req.Strength,
		Metadata:          req.Metadata,
		EffectiveFrom:     req.EffectiveFrom,
		EffectiveUntil:    req.EffectiveUntil,
		DeprecationReason: req.DeprecationReason,
		Priority:          req.Priority,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (h *GraphHandler) Get(w http.ResponseWriter, r *http.Request) {
	rel, err := h.graph.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

type updateRelationshipRequest struct {
	Strength *float64          `json:"strength,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h *GraphHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid request body")
		return
	}
	rel, err := h.graph.Update(r.Context(), chi.URLParam(r, "id"), req.Strength, req.Metadata)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (h *GraphHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ok, err := h.graph.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deactivated": ok})
}

func (h *GraphHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	ok, err := h.graph.Reactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reactivated": ok})
}

func (h *GraphHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ok, err := h.graph.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": ok})
}

func (h *GraphHandler) Outgoing(w http.ResponseWriter, r *http.Request) {
	rels, err := h.graph.Outgoing(r.Context(), chi.URLParam(r, "beliefID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rels)
}

func (h *GraphHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	rels, err := h.graph.Incoming(r.Context(), chi.URLParam(r, "beliefID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rels)
}

func (h *GraphHandler) ShortestPath(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path, err := h.graph.ShortestPath(r.Context(), q.Get("source"), q.Get("target"), chi.URLParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

func (h *GraphHandler) Related(w http.ResponseWriter, r *http.Request) {
	related, err := h.graph.RelatedWithinDepth(r.Context(),
		chi.URLParam(r, "beliefID"), r.URL.Query().Get("agent_id"), queryInt(r, "depth", 1))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, related)
}

func (h *GraphHandler) DeprecationChain(w http.ResponseWriter, r *http.Request) {
	chain, err := h.graph.DeprecationChain(r.Context(),
		chi.URLParam(r, "beliefID"), r.URL.Query().Get("agent_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (h *GraphHandler) Clusters(w http.ResponseWriter, r *http.Request) {
	minStrength := 0.5
	if v := r.URL.Query().Get("min_strength"); v != "" {
		if parsed, err := parseFloat(v); err == nil {
			minStrength = parsed
		}
	}
	clusters, err := h.graph.ClustersByStrength(r.Context(), chi.URLParam(r, "agentID"), minStrength)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clusters)
}

func (h *GraphHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	kg, err := h.graph.Snapshot(r.Context(), chi.URLParam(r, "agentID"), includeInactive)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kg)
}

func (h *GraphHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	out, err := h.graph.Export(r.Context(), chi.URLParam(r, "agentID"), format)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if format == "dot" {
		w.Header().Set("Content-Type", "text/vnd.graphviz")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (h *GraphHandler) Validate(w http.ResponseWriter, r *http.Request) {
	issues, err := h.graph.Validate(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if issues == nil {
		issues = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
}
