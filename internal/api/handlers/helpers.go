package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Kind      domain.ErrorKind `json:"kind"`
	Error     string           `json:"error"`
	Timestamp time.Time        `json:"timestamp"`
}

func writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, msg string) {
	writeJSON(w, status, errorResponse{Kind: kind, Error: msg, Timestamp: time.Now().UTC()})
}

// writeDomainError maps an error kind to a status code without leaking
// backend details.
func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, domain.KindNotFound, "not found")
		return
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		writeError(w, http.StatusInternalServerError, domain.KindStorageFailure, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch de.Kind {
	case domain.KindInvalidInput, domain.KindInvalidEdge, domain.KindUnsupportedFormat:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindConflictUnresolved:
		status = http.StatusConflict
	case domain.KindBackendUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, de.Kind, de.Msg)
}
