package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"player-portal/internal/middleware"
	"player-portal/internal/models"
	"player-portal/internal/service"
	"player-portal/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// requestContext carries the request id down to the event publisher.
func requestContext(c *gin.Context) context.Context {
	return service.WithRequestID(c.Request.Context(), requestIDFromContext(c))
}

func emitAudit(c *gin.Context, emitter *telemetry.AuditEmitter, action, target, note string) {
	if emitter == nil {
		return
	}
	emitter.Record(c.Request.Context(), auditRecord(c, action, target, note))
}

func auditRecord(c *gin.Context, action, target, note string) telemetry.AuditRecord {
	rec := telemetry.AuditRecord{
		Action:    action,
		Target:    target,
		ActorID:   c.GetString(middleware.UserIDKey),
		RequestID: requestIDFromContext(c),
		Note:      note,
	}
	if val, ok := c.Get(middleware.UserKey); ok {
		if user, ok := val.(models.User); ok {
			rec.ActorRole = string(user.Role)
		}
	}
	return rec
}
