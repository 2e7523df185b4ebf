package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"anibridge/models"
)

type historyService interface {
	List(ctx context.Context, username string, limit int) ([]models.ScrobbleRecord, error)
}

// HistoryHandler exposes the scrobble audit trail.
type HistoryHandler struct {
	Service historyService
}

func NewHistoryHandler(s historyService) *HistoryHandler {
	return &HistoryHandler{Service: s}
}

// List handles GET /api/history?user=<name>&limit=<n>.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.Service.List(r.Context(), r.URL.Query().Get("user"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// Options handles CORS preflight requests.
func (h *HistoryHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
