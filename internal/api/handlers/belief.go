package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cibfe/cibfe/internal/domain"
)

type BeliefHandler struct {
	beliefs domain.BeliefStore
}

func NewBeliefHandler(beliefs domain.BeliefStore) *BeliefHandler {
	return &BeliefHandler{beliefs: beliefs}
}

func (h *BeliefHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.beliefs.Get(r.Context(), chi.URLParam(r, "beliefID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BeliefHandler) ForAgent(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	beliefs, err := h.beliefs.ForAgent(r.Context(), chi.URLParam(r, "agentID"), includeInactive)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, beliefs)
}

func (h *BeliefHandler) Search(w http.ResponseWriter, r *http.Request) {
	beliefs, err := h.beliefs.Search(r.Context(),
		r.URL.Query().Get("q"), chi.URLParam(r, "agentID"), queryInt(r, "limit", 20))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, beliefs)
}

func (h *BeliefHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	includeResolved := r.URL.Query().Get("include_resolved") == "true"
	conflicts, err := h.beliefs.ConflictsForAgent(r.Context(), chi.URLParam(r, "agentID"), includeResolved)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

func (h *BeliefHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ok, err := h.beliefs.Deactivate(r.Context(), chi.URLParam(r, "beliefID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deactivated": ok})
}

func (h *BeliefHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	ok, err := h.beliefs.Reactivate(r.Context(), chi.URLParam(r, "beliefID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reactivated": ok})
}
