package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const auditSchemaVersion = 2

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditRecord is one account or moderation action taken through the API.
type AuditRecord struct {
	Action    string
	Target    string
	ActorID   string
	ActorRole string
	RequestID string
	Note      string
}

type AuditActor struct {
	ID   string `json:"id,omitempty"`
	Role string `json:"role,omitempty"`
}

type AuditEnvelope struct {
	SchemaVersion int        `json:"schema_version"`
	EventType     string     `json:"event_type"`
	OccurredAt    string     `json:"occurred_at"`
	Service       string     `json:"service"`
	Environment   string     `json:"environment"`
	RequestID     string     `json:"request_id"`
	TraceID       string     `json:"trace_id,omitempty"`
	Actor         AuditActor `json:"actor"`
	Action        string     `json:"action"`
	Target        string     `json:"target,omitempty"`
	Note          string     `json:"note,omitempty"`
}

// AuditEmitter ships audit records to the broker. A nil emitter drops them.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

func (e *AuditEmitter) Record(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := e.envelope(ctx, rec)
	slog.InfoContext(ctx, "audit",
		slog.String("action", rec.Action),
		slog.String("target", rec.Target),
		slog.String("actor_id", rec.ActorID),
		slog.String("request_id", rec.RequestID))

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		slog.ErrorContext(ctx, "audit publish failed",
			slog.String("action", rec.Action),
			slog.Any("error", err))
	}
}

func (e *AuditEmitter) envelope(ctx context.Context, rec AuditRecord) AuditEnvelope {
	env := AuditEnvelope{
		SchemaVersion: auditSchemaVersion,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		Actor:         AuditActor{ID: rec.ActorID, Role: rec.ActorRole},
		Action:        rec.Action,
		Target:        rec.Target,
		Note:          rec.Note,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env
}
