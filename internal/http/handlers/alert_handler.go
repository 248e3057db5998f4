package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vpass-io/vpass-server/internal/http/middleware"
	"github.com/vpass-io/vpass-server/internal/http/response"
)

// ListAlerts returns recent alerts, newest first.
// GET /api/alert
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}

	as, err := h.alerts.List(r.Context(), limit)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, as)
}

// MarkAlertRead acknowledges one alert.
// POST /api/alert/{id}/read
func (h *Handler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	actor := ""
	if claims := middleware.Claims(r); claims != nil {
		actor = claims.Sub
	}

	if err := h.alerts.MarkRead(r.Context(), chi.URLParam(r, "id"), actor, time.Now()); err != nil {
		response.DomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"message": "alert acknowledged"})
}
