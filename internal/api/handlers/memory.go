package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cibfe/cibfe/internal/domain"
)

type MemoryHandler struct {
	memories domain.MemoryStore
	embedder domain.EmbeddingProvider
}

func NewMemoryHandler(memories domain.MemoryStore, embedder domain.EmbeddingProvider) *MemoryHandler {
	return &MemoryHandler{memories: memories, embedder: embedder}
}

func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.memories.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	removed, err := h.memories.Remove(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

type deleteManyRequest struct {
	IDs []string `json:"ids"`
}

func (h *MemoryHandler) DeleteMany(w http.ResponseWriter, r *http.Request) {
	var req deleteManyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid request body")
		return
	}
	removed, err := h.memories.RemoveMany(r.Context(), req.IDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (h *MemoryHandler) ForAgent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	records, err := h.memories.ForAgent(r.Context(), chi.URLParam(r, "agentID"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *MemoryHandler) InCategory(w http.ResponseWriter, r *http.Request) {
	records, err := h.memories.InCategory(r.Context(),
		chi.URLParam(r, "category"), r.URL.Query().Get("agent_id"), queryInt(r, "limit", 0))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *MemoryHandler) OlderThan(w http.ResponseWriter, r *http.Request) {
	seconds := queryInt(r, "seconds", 0)
	records, err := h.memories.OlderThan(r.Context(),
		time.Duration(seconds)*time.Second, r.URL.Query().Get("agent_id"), queryInt(r, "limit", 0))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type searchRequest struct {
	Query     string  `json:"query"`
	AgentID   string  `json:"agent_id,omitempty"`
	Limit     int     `json:"limit"`
	Threshold float64 `json:"threshold,omitempty"`
}

func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid request body")
		return
	}

	q := domain.SimilarityQuery{
		Text:      req.Query,
		AgentID:   req.AgentID,
		Limit:     req.Limit,
		Threshold: req.Threshold,
	}
	// A failed query embedding downgrades to the lexical path.
	if h.embedder != nil {
		if vec, err := h.embedder.Embed(r.Context(), req.Query); err == nil {
			q.Vector = vec
		}
	}

	results, err := h.memories.SearchSimilar(r.Context(), q)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.memories.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

func parseFloat(v string) (float64, error) {
	return strconv.ParseFloat(v, 64)
}
