package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"player-portal/internal/models"
	"player-portal/internal/presence"
	"player-portal/internal/repositories"
)

const (
	FilterUnread = "unread"
	FilterGroups = "groups"
)

const unknownUserName = "Unknown user"

// ConversationService owns conversations, membership and read markers.
type ConversationService struct {
	users    repositories.UserRepository
	convs    repositories.ConversationRepository
	tracker  presence.Tracker
	notify   *broadcaster
	settings Settings
	log      *slog.Logger
}

func NewConversationService(
	users repositories.UserRepository,
	convs repositories.ConversationRepository,
	tracker presence.Tracker,
	notifier Notifier,
	settings Settings,
	log *slog.Logger,
) *ConversationService {
	return &ConversationService{
		users:    users,
		convs:    convs,
		tracker:  tracker,
		notify:   newBroadcaster(notifier, log),
		settings: settings.withDefaults(),
		log:      log,
	}
}

// CreateDirect returns the dm between actor and other, creating it once.
func (s *ConversationService) CreateDirect(ctx context.Context, actorID, otherID string) (models.ConversationView, error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" || otherID == actorID {
		return models.ConversationView{}, fmt.Errorf("%w: a direct conversation needs another user", ErrInvalidArgument)
	}
	if _, err := s.users.GetUser(ctx, otherID); err != nil {
		return models.ConversationView{}, err
	}

	type direct struct {
		conv    models.Conversation
		created bool
	}
	res, err := withRetry(ctx, s.log, "conversations.create_direct", func() (direct, error) {
		conv, created, err := s.convs.CreateOrGetDirect(ctx, actorID, otherID)
		return direct{conv, created}, err
	})
	if err != nil {
		return models.ConversationView{}, err
	}

	if res.created {
		s.notify.conversation(ctx, res.conv, conversationEvent(res.conv))
	}
	return s.view(ctx, res.conv, actorID)
}

// CreateGroup makes the creator the only participant and invites members.
func (s *ConversationService) CreateGroup(ctx context.Context, actorID, name string, memberIDs []string) (models.ConversationView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ConversationView{}, fmt.Errorf("%w: group name is required", ErrInvalidArgument)
	}
	invitees := without(dedupe(memberIDs), actorID)
	if err := s.requireUsers(ctx, invitees); err != nil {
		return models.ConversationView{}, err
	}

	conv, err := withRetry(ctx, s.log, "conversations.create_group", func() (models.Conversation, error) {
		return s.convs.CreateConversation(ctx, models.Conversation{
			Type:                models.ConversationGroup,
			Name:                name,
			CreatedBy:           actorID,
			Participants:        []string{actorID},
			PendingParticipants: invitees,
		})
	})
	if err != nil {
		return models.ConversationView{}, err
	}

	s.log.InfoContext(ctx, "group created",
		slog.String("op", "conversations.create_group"),
		slog.String("conversation_id", conv.ID),
		slog.Int("invited", len(invitees)))
	s.notify.conversation(ctx, conv, conversationEvent(conv))
	s.notify.invited(ctx, conv, conv.PendingParticipants)
	return s.view(ctx, conv, actorID)
}

// CreatePublicChannel is admin only.
func (s *ConversationService) CreatePublicChannel(ctx context.Context, actorID, name string) (models.ConversationView, error) {
	if _, err := requireAdmin(ctx, s.users, actorID); err != nil {
		return models.ConversationView{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ConversationView{}, fmt.Errorf("%w: channel name is required", ErrInvalidArgument)
	}

	conv, err := withRetry(ctx, s.log, "conversations.create_channel", func() (models.Conversation, error) {
		return s.convs.CreateConversation(ctx, models.Conversation{
			Type:         models.ConversationPublic,
			Name:         name,
			CreatedBy:    actorID,
			Participants: []string{actorID},
		})
	})
	if err != nil {
		return models.ConversationView{}, err
	}
	s.notify.conversation(ctx, conv, conversationEvent(conv))
	return s.view(ctx, conv, actorID)
}

// InviteMembers adds users to a group's pending list. Only group members may
// invite; users already present or invited are skipped.
func (s *ConversationService) InviteMembers(ctx context.Context, conversationID, actorID string, userIDs []string) (models.ConversationView, error) {
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return models.ConversationView{}, err
	}
	if conv.Type != models.ConversationGroup {
		return models.ConversationView{}, fmt.Errorf("%w: members can only be invited to a group", ErrInvalidState)
	}
	if !conv.CanRead(actorID) {
		return models.ConversationView{}, fmt.Errorf("%w: not a member of this conversation", ErrForbidden)
	}
	invitees := dedupe(userIDs)
	if len(invitees) == 0 {
		return models.ConversationView{}, fmt.Errorf("%w: no users to invite", ErrInvalidArgument)
	}
	if err := s.requireUsers(ctx, invitees); err != nil {
		return models.ConversationView{}, err
	}

	updated, err := withRetry(ctx, s.log, "conversations.invite", func() (models.Conversation, error) {
		return s.convs.AddPendingMembers(ctx, conversationID, invitees)
	})
	if err != nil {
		return models.ConversationView{}, err
	}

	var fresh []string
	for _, id := range updated.PendingParticipants {
		if !conv.IsPending(id) {
			fresh = append(fresh, id)
		}
	}
	if updated.Version != conv.Version {
		s.notify.conversation(ctx, updated, conversationEvent(updated))
		s.notify.invited(ctx, updated, fresh)
	}
	return s.view(ctx, updated, actorID)
}

// AcceptInvitation moves the user from pending to participants. Accepting
// an already accepted invitation returns the conversation unchanged.
func (s *ConversationService) AcceptInvitation(ctx context.Context, conversationID, userID string) (models.ConversationView, error) {
	before, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return models.ConversationView{}, err
	}
	conv, err := withRetry(ctx, s.log, "conversations.accept", func() (models.Conversation, error) {
		return s.convs.AcceptInvitation(ctx, conversationID, userID)
	})
	if errors.Is(err, repositories.ErrNotInvited) {
		return models.ConversationView{}, fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	if err != nil {
		return models.ConversationView{}, err
	}
	if conv.Version != before.Version {
		s.notify.conversation(ctx, conv, conversationEvent(conv))
	}
	return s.view(ctx, conv, userID)
}

// DeclineInvitation drops the user's pending invitation. The returned
// conversation carries no content.
func (s *ConversationService) DeclineInvitation(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	before, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !before.IsPending(userID) && !before.HasParticipant(userID) {
		return models.Conversation{}, fmt.Errorf("%w: %v", ErrForbidden, repositories.ErrNotInvited)
	}
	conv, err := withRetry(ctx, s.log, "conversations.decline", func() (models.Conversation, error) {
		return s.convs.DeclineInvitation(ctx, conversationID, userID)
	})
	if err != nil {
		return models.Conversation{}, err
	}
	if conv.Version != before.Version {
		s.notify.conversation(ctx, conv, conversationEvent(conv))
		s.notify.users(ctx, []string{userID}, models.Event{Type: models.EventConversationDeleted, ConversationID: conv.ID})
	}
	if conv.CanRead(userID) {
		return conv, nil
	}
	return conv.InvitationView(), nil
}

// ListForUser returns the user's joined dms and groups, most recent first.
// filter is "", "unread" or "groups".
func (s *ConversationService) ListForUser(ctx context.Context, userID, filter string) ([]models.ConversationView, error) {
	switch filter {
	case "", FilterUnread, FilterGroups:
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", ErrInvalidArgument, filter)
	}

	convs, err := s.convs.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views, err := s.views(ctx, convs, userID)
	if err != nil {
		return nil, err
	}

	out := views[:0]
	for _, v := range views {
		switch {
		case filter == FilterUnread && !v.Unread:
			continue
		case filter == FilterGroups && v.Type != models.ConversationGroup:
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// ListPublicChannels lists every public channel regardless of membership.
func (s *ConversationService) ListPublicChannels(ctx context.Context, userID string) ([]models.ConversationView, error) {
	convs, err := s.convs.ListPublicChannels(ctx)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, convs, userID)
}

// ListInvitations returns the user's pending invitations without content.
func (s *ConversationService) ListInvitations(ctx context.Context, userID string) ([]models.Conversation, error) {
	convs, err := s.convs.ListInvitations(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.InvitationView())
	}
	return out, nil
}

// MarkRead advances the caller's read marker to at, or now when at is zero.
// Markers in the future are clamped to now.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) (models.ConversationView, error) {
	now := s.settings.Now().UTC()
	if at.IsZero() || at.After(now) {
		at = now
	}

	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return models.ConversationView{}, err
	}
	if !conv.CanRead(userID) {
		return models.ConversationView{}, fmt.Errorf("%w: not a member of this conversation", ErrForbidden)
	}

	updated, err := withRetry(ctx, s.log, "conversations.mark_read", func() (models.Conversation, error) {
		return s.convs.MarkRead(ctx, conversationID, userID, at)
	})
	if err != nil {
		return models.ConversationView{}, err
	}
	if updated.Version != conv.Version {
		s.notify.users(ctx, []string{userID}, conversationEvent(updated))
	}
	return s.view(ctx, updated, userID)
}

// Rename is a moderation action reserved to admins. dms have no name.
func (s *ConversationService) Rename(ctx context.Context, conversationID, actorID, name string) (models.ConversationView, error) {
	if _, err := requireAdmin(ctx, s.users, actorID); err != nil {
		return models.ConversationView{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ConversationView{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return models.ConversationView{}, err
	}
	if conv.Type == models.ConversationDM {
		return models.ConversationView{}, fmt.Errorf("%w: a direct conversation cannot be renamed", ErrInvalidState)
	}

	updated, err := withRetry(ctx, s.log, "conversations.rename", func() (models.Conversation, error) {
		return s.convs.RenameConversation(ctx, conversationID, name)
	})
	if err != nil {
		return models.ConversationView{}, err
	}
	if updated.Version != conv.Version {
		s.notify.conversation(ctx, updated, conversationEvent(updated))
	}
	return s.view(ctx, updated, actorID)
}

// Delete removes the conversation and all of its messages. Admin only.
func (s *ConversationService) Delete(ctx context.Context, conversationID, actorID string) error {
	if _, err := requireAdmin(ctx, s.users, actorID); err != nil {
		return err
	}
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := s.convs.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "conversation deleted",
		slog.String("op", "conversations.delete"),
		slog.String("conversation_id", conversationID),
		slog.String("type", string(conv.Type)))
	ev := models.Event{Type: models.EventConversationDeleted, ConversationID: conversationID}
	s.notify.conversation(ctx, conv, ev)
	if len(conv.PendingParticipants) > 0 {
		s.notify.users(ctx, conv.PendingParticipants, ev)
	}
	return nil
}

// ListAll is the admin overview of every conversation.
func (s *ConversationService) ListAll(ctx context.Context, actorID string) ([]models.Conversation, error) {
	if _, err := requireAdmin(ctx, s.users, actorID); err != nil {
		return nil, err
	}
	return s.convs.ListAllConversations(ctx)
}

// Get returns the conversation if the caller may read it.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID string) (models.ConversationView, error) {
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return models.ConversationView{}, err
	}
	if !conv.CanRead(userID) {
		return models.ConversationView{}, fmt.Errorf("%w: not a member of this conversation", ErrForbidden)
	}
	return s.view(ctx, conv, userID)
}

func (s *ConversationService) requireUsers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	names, err := usernames(ctx, s.users, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := names[id]; !ok {
			return fmt.Errorf("%w: %s", repositories.ErrUserNotFound, id)
		}
	}
	return nil
}

func (s *ConversationService) view(ctx context.Context, conv models.Conversation, userID string) (models.ConversationView, error) {
	views, err := s.views(ctx, []models.Conversation{conv}, userID)
	if err != nil {
		return models.ConversationView{}, err
	}
	return views[0], nil
}

// views decorates conversations for userID: display name, unread flag and,
// for dms, the counterpart's presence.
func (s *ConversationService) views(ctx context.Context, convs []models.Conversation, userID string) ([]models.ConversationView, error) {
	var others []string
	for _, c := range convs {
		if c.Type == models.ConversationDM {
			if other := c.OtherParticipant(userID); other != "" {
				others = append(others, other)
			}
		}
	}
	names, err := usernames(ctx, s.users, others)
	if err != nil {
		return nil, err
	}
	seen := map[string]time.Time{}
	if len(others) > 0 {
		seen, err = s.tracker.LastSeen(ctx, dedupe(others))
		if err != nil {
			s.log.WarnContext(ctx, "presence lookup failed", slog.String("op", "conversations.views"), slog.Any("error", err))
			seen = map[string]time.Time{}
		}
	}

	now := s.settings.Now()
	out := make([]models.ConversationView, 0, len(convs))
	for _, c := range convs {
		v := models.ConversationView{Conversation: c, DisplayName: c.Name, Unread: c.IsUnreadFor(userID)}
		if c.Type == models.ConversationDM {
			other := c.OtherParticipant(userID)
			v.DisplayName = unknownUserName
			if name, ok := names[other]; ok && name != "" {
				v.DisplayName = name
			}
			v.IsOnline = presence.IsOnline(seen[other], now, s.settings.OnlineWindow)
		}
		out = append(out, v)
	}
	return out, nil
}

func conversationEvent(conv models.Conversation) models.Event {
	return models.Event{Type: models.EventConversationUpdated, Conversation: &conv, ConversationID: conv.ID}
}

func without(ids []string, drop string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
