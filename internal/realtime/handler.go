package realtime

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vpass-io/vpass-server/internal/domain"
	"github.com/vpass-io/vpass-server/internal/http/response"
	"github.com/vpass-io/vpass-server/internal/platform/auth"
	"github.com/vpass-io/vpass-server/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler authenticates websocket handshakes and runs the read/write pumps
// for accepted connections.
type Handler struct {
	hub      *Hub
	verifier *auth.Verifier
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, verifier *auth.Verifier) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades GET /ws. Credentials travel as query parameters
// (token, role, gate) since browsers cannot set headers on websocket dials.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, group, err := h.authenticate(r)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRoleMismatch):
			response.Forbidden(w, "role mismatch")
		case errors.Is(err, domain.ErrGateRequired):
			response.WriteError(w, http.StatusBadRequest, "security connections must declare a gate", response.CodeGateRequired)
		default:
			response.Unauthorized(w, "invalid realtime credentials")
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := h.hub.Register(claims.Sub, claims.Role, claims.Gate, group)
	go h.writePump(conn, client)
	go h.readPump(conn, client)
}

func (h *Handler) authenticate(r *http.Request) (*auth.Claims, Group, error) {
	q := r.URL.Query()
	token := q.Get("token")
	role := q.Get("role")
	gate := q.Get("gate")

	if token == "" || role == "" {
		return nil, "", domain.ErrUnauthorized
	}

	claims, err := h.verifier.Parse(token)
	if err != nil {
		return nil, "", domain.ErrUnauthorized
	}

	// Role spoof protection: the declared role must match the credential.
	if claims.Role != role {
		return nil, "", domain.ErrRoleMismatch
	}

	switch role {
	case auth.RoleSecurity:
		if gate == "" {
			return nil, "", domain.ErrGateRequired
		}
		// A security credential minted for one gate cannot join another.
		if claims.Gate != "" && claims.Gate != gate {
			return nil, "", domain.ErrRoleMismatch
		}
		claims.Gate = gate
		return claims, GateGroup(gate), nil
	case auth.RoleAdmin:
		return claims, GroupAdmin, nil
	case auth.RoleReception:
		return claims, GroupReception, nil
	default:
		return nil, "", domain.ErrUnauthorized
	}
}

func (h *Handler) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env := <-c.Recv():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump exists to observe disconnects; clients do not send application
// frames.
func (h *Handler) readPump(conn *websocket.Conn, c *Client) {
	defer conn.Close()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.hub.Unregister(c, err.Error())
			return
		}
	}
}
