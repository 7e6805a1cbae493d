package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"player-portal/internal/models"
	"player-portal/internal/observability"
	"player-portal/internal/repositories"
)

// SendInput is a message as submitted by a participant.
type SendInput struct {
	Text     string
	Type     models.MessageType
	Proposal *ProposalInput
}

type ProposalInput struct {
	Date     string
	Time     string
	Location string
}

// MessageService owns message ordering and the proposal state machine.
type MessageService struct {
	users    repositories.UserRepository
	convs    repositories.ConversationRepository
	msgs     repositories.MessageRepository
	notify   *broadcaster
	settings Settings
	log      *slog.Logger
}

func NewMessageService(
	users repositories.UserRepository,
	convs repositories.ConversationRepository,
	msgs repositories.MessageRepository,
	notifier Notifier,
	settings Settings,
	log *slog.Logger,
) *MessageService {
	return &MessageService{
		users:    users,
		convs:    convs,
		msgs:     msgs,
		notify:   newBroadcaster(notifier, log),
		settings: settings.withDefaults(),
		log:      log,
	}
}

// Send stores a message and then advances the conversation summary. The
// message exists before any reader can see a summary pointing at it.
func (s *MessageService) Send(ctx context.Context, conversationID, senderID string, in SendInput) (models.Message, error) {
	msg, err := s.buildMessage(in)
	if err != nil {
		return models.Message{}, err
	}

	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if !conv.CanRead(senderID) {
		return models.Message{}, fmt.Errorf("%w: not a member of this conversation", ErrForbidden)
	}
	sender, err := s.users.GetUser(ctx, senderID)
	if err != nil {
		return models.Message{}, err
	}

	msg.ConversationID = conversationID
	msg.SenderID = senderID
	msg.SenderName = sender.Username

	stored, err := withRetry(ctx, s.log, "messages.send", func() (models.Message, error) {
		return s.msgs.CreateMessage(ctx, msg)
	})
	if err != nil {
		return models.Message{}, err
	}
	observability.IncMessageSent(string(stored.Type))
	// members may have joined since the access check
	if fresh, err := s.convs.GetConversation(ctx, conversationID); err == nil {
		conv = fresh
	}
	s.notify.conversation(ctx, conv, models.Event{Type: models.EventMessageCreated, Message: &stored, ConversationID: conversationID})

	updated, err := withRetry(ctx, s.log, "messages.send.summary", func() (models.Conversation, error) {
		return s.convs.SetLastMessage(ctx, conversationID, stored.Summary())
	})
	if err != nil {
		s.log.WarnContext(ctx, "conversation summary update failed",
			slog.String("op", "messages.send"),
			slog.String("conversation_id", conversationID),
			slog.String("message_id", stored.ID),
			slog.Any("error", err))
		return stored, nil
	}
	s.notify.conversation(ctx, updated, conversationEvent(updated))
	return stored, nil
}

// ListForConversation returns the messages in timestamp order.
func (s *MessageService) ListForConversation(ctx context.Context, conversationID, callerID string) ([]models.Message, error) {
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.CanRead(callerID) {
		return nil, fmt.Errorf("%w: not a member of this conversation", ErrForbidden)
	}
	return s.msgs.ListMessages(ctx, conversationID)
}

// SetProposalStatus moves a pending proposal to accepted or rejected. The
// first decision wins; later ones return the message unchanged.
func (s *MessageService) SetProposalStatus(ctx context.Context, messageID, actorID string, status models.ProposalStatus) (models.Message, error) {
	if !status.Terminal() {
		return models.Message{}, fmt.Errorf("%w: status must be accepted or rejected", ErrInvalidArgument)
	}
	if _, err := s.proposalFor(ctx, messageID, actorID); err != nil {
		return models.Message{}, err
	}

	type transition struct {
		msg     models.Message
		changed bool
	}
	res, err := withRetry(ctx, s.log, "proposals.set_status", func() (transition, error) {
		msg, changed, err := s.msgs.SetProposalStatus(ctx, messageID, status)
		return transition{msg, changed}, err
	})
	if errors.Is(err, repositories.ErrNotProposal) {
		return models.Message{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err != nil {
		return models.Message{}, err
	}

	if res.changed {
		observability.IncProposalTransition(string(status))
		s.log.InfoContext(ctx, "proposal decided",
			slog.String("op", "proposals.set_status"),
			slog.String("message_id", messageID),
			slog.String("status", string(status)))
		s.notifyMessage(ctx, res.msg)
	}
	return res.msg, nil
}

// CastVote records a yes or no vote. Switching sides is a single atomic
// step; votes after a decision are kept but do not change the status.
func (s *MessageService) CastVote(ctx context.Context, messageID, userID string, choice models.VoteChoice) (models.Message, error) {
	if choice != models.VoteYes && choice != models.VoteNo {
		return models.Message{}, fmt.Errorf("%w: vote must be yes or no", ErrInvalidArgument)
	}
	before, err := s.proposalFor(ctx, messageID, userID)
	if err != nil {
		return models.Message{}, err
	}

	msg, err := withRetry(ctx, s.log, "proposals.vote", func() (models.Message, error) {
		return s.msgs.CastVote(ctx, messageID, userID, choice)
	})
	if errors.Is(err, repositories.ErrNotProposal) {
		return models.Message{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err != nil {
		return models.Message{}, err
	}

	if msg.Version != before.Version {
		observability.IncVote(string(choice))
		s.notifyMessage(ctx, msg)
	}
	return msg, nil
}

// ListProposalsForUser is the user's schedule: every proposal in the
// conversations they joined, earliest lesson first.
func (s *MessageService) ListProposalsForUser(ctx context.Context, userID string) ([]models.ScheduleEntry, error) {
	msgs, err := s.msgs.ListProposalsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.schedule(ctx, msgs, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.StartsAt.IsZero() != b.StartsAt.IsZero():
			return !a.StartsAt.IsZero()
		case !a.StartsAt.Equal(b.StartsAt):
			return a.StartsAt.Before(b.StartsAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return entries, nil
}

// ListAllProposals is the admin overview, newest proposal first.
func (s *MessageService) ListAllProposals(ctx context.Context, actorID string) ([]models.ScheduleEntry, error) {
	if _, err := requireAdmin(ctx, s.users, actorID); err != nil {
		return nil, err
	}
	msgs, err := s.msgs.ListAllProposals(ctx)
	if err != nil {
		return nil, err
	}
	return s.schedule(ctx, msgs, actorID)
}

func (s *MessageService) buildMessage(in SendInput) (models.Message, error) {
	text := strings.TrimSpace(in.Text)
	msgType := in.Type
	if msgType == "" {
		msgType = models.MessageText
	}

	switch msgType {
	case models.MessageText:
		if text == "" {
			return models.Message{}, fmt.Errorf("%w: message text is required", ErrInvalidArgument)
		}
		return models.Message{Type: models.MessageText, Text: text}, nil
	case models.MessageProposal:
		if in.Proposal == nil {
			return models.Message{}, fmt.Errorf("%w: proposal details are required", ErrInvalidArgument)
		}
		p := models.Proposal{
			Date:     strings.TrimSpace(in.Proposal.Date),
			Time:     strings.TrimSpace(in.Proposal.Time),
			Location: strings.TrimSpace(in.Proposal.Location),
			Status:   models.ProposalPending,
		}
		if _, err := p.StartsAt(s.settings.Location); err != nil {
			return models.Message{}, fmt.Errorf("%w: proposal needs a date (YYYY-MM-DD) and time (HH:MM)", ErrInvalidArgument)
		}
		return models.Message{Type: models.MessageProposal, Text: text, Proposal: &p}, nil
	default:
		return models.Message{}, fmt.Errorf("%w: unknown message type %q", ErrInvalidArgument, msgType)
	}
}

// proposalFor loads a proposal message the user may act on.
func (s *MessageService) proposalFor(ctx context.Context, messageID, userID string) (models.Message, error) {
	msg, err := s.msgs.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	conv, err := s.convs.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return models.Message{}, err
	}
	if !conv.CanRead(userID) {
		return models.Message{}, fmt.Errorf("%w: not a member of this conversation", ErrForbidden)
	}
	if !msg.IsProposal() {
		return models.Message{}, fmt.Errorf("%w: message is not a proposal", ErrInvalidState)
	}
	return msg, nil
}

func (s *MessageService) notifyMessage(ctx context.Context, msg models.Message) {
	conv, err := s.convs.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		s.log.WarnContext(ctx, "message notify skipped",
			slog.String("op", "messages.notify"),
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
		return
	}
	s.notify.conversation(ctx, conv, models.Event{Type: models.EventMessageUpdated, Message: &msg, ConversationID: msg.ConversationID})
}

// schedule turns proposal messages into entries with resolved names. dms are
// named after the counterpart of viewerID.
func (s *MessageService) schedule(ctx context.Context, msgs []models.Message, viewerID string) ([]models.ScheduleEntry, error) {
	convs := make(map[string]models.Conversation)
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
		if _, ok := convs[m.ConversationID]; ok {
			continue
		}
		conv, err := s.convs.GetConversation(ctx, m.ConversationID)
		if errors.Is(err, repositories.ErrConversationNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		convs[conv.ID] = conv
		ids = append(ids, conv.Participants...)
	}
	names, err := usernames(ctx, s.users, ids)
	if err != nil {
		return nil, err
	}

	now := s.settings.Now()
	entries := make([]models.ScheduleEntry, 0, len(msgs))
	for _, m := range msgs {
		conv, ok := convs[m.ConversationID]
		if !ok || !m.IsProposal() {
			continue
		}
		entry := models.ScheduleEntry{
			MessageID:        m.ID,
			ConversationID:   conv.ID,
			ConversationName: conversationName(conv, viewerID, m.SenderID, names),
			ProposerID:       m.SenderID,
			ProposerName:     m.SenderName,
			Date:             m.Proposal.Date,
			Time:             m.Proposal.Time,
			Location:         m.Proposal.Location,
			Status:           m.Proposal.Status,
			Participants:     append([]string{}, conv.Participants...),
			CreatedAt:        m.Timestamp,
		}
		if m.Votes != nil {
			entry.Votes = *m.Votes
		}
		if name, ok := names[m.SenderID]; ok && name != "" {
			entry.ProposerName = name
		}
		if starts, err := m.Proposal.StartsAt(s.settings.Location); err == nil {
			entry.StartsAt = starts
			entry.Expired = starts.Before(now)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func conversationName(conv models.Conversation, viewerID, proposerID string, names map[string]string) string {
	if conv.Type != models.ConversationDM {
		return conv.Name
	}
	other := conv.OtherParticipant(viewerID)
	if !conv.HasParticipant(viewerID) {
		other = conv.OtherParticipant(proposerID)
	}
	if name, ok := names[other]; ok && name != "" {
		return name
	}
	return unknownUserName
}
