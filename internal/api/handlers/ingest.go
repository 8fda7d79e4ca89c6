package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/service"
)

type IngestHandler struct {
	svc *service.IngestionService
}

func NewIngestHandler(svc *service.IngestionService) *IngestHandler {
	return &IngestHandler{svc: svc}
}

func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var in domain.IngestionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid request body")
		return
	}

	result, err := h.svc.Ingest(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *IngestHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	var in domain.IngestionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid request body")
		return
	}

	result, err := h.svc.DryRun(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
