package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"player-portal/internal/models"
	"player-portal/internal/observability"
)

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	Verify(token string) (models.Identity, error)
}

// Presence resolves the caller and records activity.
type Presence interface {
	Authenticate(ctx context.Context, identity models.Identity) (models.User, error)
	TouchPresence(ctx context.Context, userID string)
}

// Handler upgrades authenticated requests into hub clients.
type Handler struct {
	hub      *Hub
	verifier TokenVerifier
	presence  Presence
	keepAlive time.Duration
	upgrader  websocket.Upgrader
}

// NewHandler constructs a Handler. allowOrigin decides cross-origin upgrades.
// keepAlive is the ping interval; each pong counts as presence activity, so it
// must stay below the online window.
func NewHandler(hub *Hub, verifier TokenVerifier, presence Presence, allowOrigin func(origin string) bool, keepAlive time.Duration) *Handler {
	return &Handler{
		hub:       hub,
		verifier:  verifier,
		presence:  presence,
		keepAlive: keepAlive,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin == nil || allowOrigin(origin)
			},
		},
	}
}

// Handle upgrades the connection and registers the client.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("player-portal/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := tokenFromRequest(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	user, err := h.presence.Authenticate(ctx, identity)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	meta := observability.ClientMetaFromRequest(c.Request)
	requestID := meta.RequestID
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      user.ID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info, h.keepAlive)
	h.hub.Register(client)

	headers := observability.BuildHeaders(requestID, traceID)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   info.payload("ws_connect", ""),
	}, headers)

	// the request context ends with the handler; the pumps outlive it
	bg := context.Background()
	go func() { _ = client.writePump() }()
	go func() {
		err := client.readPump(func() { h.presence.TouchPresence(bg, user.ID) })
		h.hub.Unregister(client)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")

		reason := ""
		if err != nil {
			reason = err.Error()
		}
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			h.hub.publishWSError(info, reason)
		}
		_ = observability.PublishEvent(bg, wsRoutingKey, observability.EventEnvelope{
			EventType: "ws_events",
			EventName: "ws_disconnect",
			Payload:   info.payload("ws_disconnect", reason),
		}, headers)
	}()
}
