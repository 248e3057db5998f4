package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vpass-io/vpass-server/internal/http/middleware"
	"github.com/vpass-io/vpass-server/internal/http/response"
	"github.com/vpass-io/vpass-server/internal/visitor"
)

type Handler struct {
	engine *visitor.Engine
	alerts visitor.AlertStore
}

func New(engine *visitor.Engine, alerts visitor.AlertStore) *Handler {
	return &Handler{engine: engine, alerts: alerts}
}

// CreateVisitor handles public self-registration and reception entry.
// POST /api/visitor
func (h *Handler) CreateVisitor(w http.ResponseWriter, r *http.Request) {
	var req visitor.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	v, err := h.engine.Create(r.Context(), &req)
	if err != nil {
		response.DomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, map[string]any{
		"message":    "visitor request sent for approval",
		"visitor_id": v.VisitorID,
		"status":     v.Status,
	})
}

// ApproveByToken consumes the approval link from the host's mail.
// GET /api/visitor/approve/{token}
func (h *Handler) ApproveByToken(w http.ResponseWriter, r *http.Request) {
	h.consumeToken(w, r, true)
}

// RejectByToken consumes the rejection link from the host's mail.
// GET /api/visitor/reject/{token}
func (h *Handler) RejectByToken(w http.ResponseWriter, r *http.Request) {
	h.consumeToken(w, r, false)
}

func (h *Handler) consumeToken(w http.ResponseWriter, r *http.Request, approve bool) {
	token := chi.URLParam(r, "token")

	v, err := h.engine.ConsumeToken(r.Context(), token, visitor.Decision{
		Approve: approve,
		Reason:  r.URL.Query().Get("reason"),
	})
	if err != nil {
		response.DomainError(w, err)
		return
	}

	msg := "visitor approved"
	if !approve {
		msg = "visitor rejected"
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"message": msg,
		"visitor": v,
	})
}

type decideRequest struct {
	Reason string `json:"reason"`
}

// Decide applies a dashboard decision by an authenticated host/admin.
// POST /api/visitor/{id}/approve and /api/visitor/{id}/reject
func (h *Handler) Decide(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decideRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		actor := ""
		if claims := middleware.Claims(r); claims != nil {
			actor = claims.Sub
		}

		v, err := h.engine.Decide(r.Context(), chi.URLParam(r, "id"), visitor.Decision{
			Approve: approve,
			Actor:   actor,
			Reason:  req.Reason,
		})
		if err != nil {
			response.DomainError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, v)
	}
}

// ListVisitors returns the most recent visitors.
// GET /api/visitor
func (h *Handler) ListVisitors(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}

	vs, err := h.engine.ListRecent(r.Context(), limit)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, vs)
}

// ListActive returns visitors still in the lifecycle.
// GET /api/visitor/active
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	vs, err := h.engine.ListActive(r.Context())
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, vs)
}

// ListByGate returns every visitor bound to one gate.
// GET /api/visitor/gate/{gate}
func (h *Handler) ListByGate(w http.ResponseWriter, r *http.Request) {
	vs, err := h.engine.ListByGate(r.Context(), chi.URLParam(r, "gate"))
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, vs)
}

// GetVisitor resolves one visitor by internal id or visitor number.
// GET /api/visitor/{id}
func (h *Handler) GetVisitor(w http.ResponseWriter, r *http.Request) {
	v, err := h.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, v)
}
