package service

import (
	"context"
	"log/slog"

	"player-portal/internal/models"
	"player-portal/internal/observability"
)

// Notifier delivers realtime events to connected clients.
type Notifier interface {
	NotifyUsers(userIDs []string, event models.Event)
	NotifyAll(event models.Event)
}

type noopNotifier struct{}

func (noopNotifier) NotifyUsers([]string, models.Event) {}
func (noopNotifier) NotifyAll(models.Event)             {}

// broadcaster routes domain events to their audience and mirrors them on the
// broker. Delivery failures never reach the caller.
type broadcaster struct {
	notifier Notifier
	log      *slog.Logger
}

func newBroadcaster(notifier Notifier, log *slog.Logger) *broadcaster {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &broadcaster{notifier: notifier, log: log}
}

// conversation sends ev to everyone who may read conv: all users for a
// public channel, otherwise accepted participants only.
func (b *broadcaster) conversation(ctx context.Context, conv models.Conversation, ev models.Event) {
	if conv.Type == models.ConversationPublic {
		b.notifier.NotifyAll(ev)
	} else {
		b.notifier.NotifyUsers(conv.Participants, ev)
	}
	b.mirror(ctx, ev)
}

// invited sends each new invitee the content-free view of conv.
func (b *broadcaster) invited(ctx context.Context, conv models.Conversation, userIDs []string) {
	if len(userIDs) == 0 {
		return
	}
	view := conv.InvitationView()
	ev := models.Event{Type: models.EventInvitationReceived, Conversation: &view, ConversationID: conv.ID}
	b.notifier.NotifyUsers(userIDs, ev)
	b.mirror(ctx, ev)
}

func (b *broadcaster) users(ctx context.Context, userIDs []string, ev models.Event) {
	b.notifier.NotifyUsers(userIDs, ev)
	b.mirror(ctx, ev)
}

func (b *broadcaster) directory(ctx context.Context, ev models.Event) {
	b.notifier.NotifyAll(ev)
	b.mirror(ctx, ev)
}

func (b *broadcaster) mirror(ctx context.Context, ev models.Event) {
	headers := observability.BuildHeaders(requestIDFromContext(ctx), observability.TraceIDFromContext(ctx))
	err := observability.PublishEvent(ctx, "portal."+ev.Type, observability.EventEnvelope{
		EventType: "portal_events",
		EventName: ev.Type,
		Payload:   ev,
	}, headers)
	if err != nil {
		b.log.WarnContext(ctx, "event publish failed",
			slog.String("op", "notify.mirror"),
			slog.String("event", ev.Type),
			slog.Any("error", err))
	}
}

type requestIDKey struct{}

// WithRequestID attaches the request id used in broker headers.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
