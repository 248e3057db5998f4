package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vpass-io/vpass-server/internal/http/middleware"
	"github.com/vpass-io/vpass-server/internal/http/response"
)

type scanRequest struct {
	QR string `json:"qr"`
}

// Scan checks a visitor in at the acting security post's gate. The QR code
// carries the visitor id.
// POST /api/security/scan
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QR == "" {
		response.BadRequest(w, "qr data is required")
		return
	}

	actor, gate := actorIdentity(r)
	v, err := h.engine.CheckIn(r.Context(), req.QR, actor, gate)
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "visitor checked in successfully",
		"visitor": v,
	})
}

// CheckOut releases a visitor who is inside.
// POST /api/security/{id}/checkout
func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	actor, gate := actorIdentity(r)
	v, err := h.engine.CheckOut(r.Context(), chi.URLParam(r, "id"), actor, gate)
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "visitor checked out successfully",
		"visitor": v,
	})
}

// actorIdentity pulls the acting user and, for security staff, their bound
// gate from the verified claims. Admin and reception carry no gate, which
// skips the gate guard.
func actorIdentity(r *http.Request) (actor, gate string) {
	claims := middleware.Claims(r)
	if claims == nil {
		return "", ""
	}
	return claims.Sub, claims.Gate
}
