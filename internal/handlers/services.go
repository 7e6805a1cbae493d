package handlers

import (
	"context"
	"time"

	"player-portal/internal/models"
	"player-portal/internal/service"
)

// Directory is the user directory as used by the HTTP layer.
type Directory interface {
	UpsertUser(ctx context.Context, identity models.Identity) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	ListUsers(ctx context.Context, callerID string) ([]models.User, error)
	ListAllUsers(ctx context.Context, actorID string) ([]models.User, error)
	UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) (models.User, error)
	DeleteUser(ctx context.Context, userID string) error
	TouchPresence(ctx context.Context, userID string)
}

type Conversations interface {
	CreateDirect(ctx context.Context, actorID, otherID string) (models.ConversationView, error)
	CreateGroup(ctx context.Context, actorID, name string, memberIDs []string) (models.ConversationView, error)
	CreatePublicChannel(ctx context.Context, actorID, name string) (models.ConversationView, error)
	InviteMembers(ctx context.Context, conversationID, actorID string, userIDs []string) (models.ConversationView, error)
	AcceptInvitation(ctx context.Context, conversationID, userID string) (models.ConversationView, error)
	DeclineInvitation(ctx context.Context, conversationID, userID string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID, filter string) ([]models.ConversationView, error)
	ListPublicChannels(ctx context.Context, userID string) ([]models.ConversationView, error)
	ListInvitations(ctx context.Context, userID string) ([]models.Conversation, error)
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) (models.ConversationView, error)
	Rename(ctx context.Context, conversationID, actorID, name string) (models.ConversationView, error)
	Delete(ctx context.Context, conversationID, actorID string) error
	ListAll(ctx context.Context, actorID string) ([]models.Conversation, error)
	Get(ctx context.Context, conversationID, userID string) (models.ConversationView, error)
}

type Messages interface {
	Send(ctx context.Context, conversationID, senderID string, in service.SendInput) (models.Message, error)
	ListForConversation(ctx context.Context, conversationID, callerID string) ([]models.Message, error)
	SetProposalStatus(ctx context.Context, messageID, actorID string, status models.ProposalStatus) (models.Message, error)
	CastVote(ctx context.Context, messageID, userID string, choice models.VoteChoice) (models.Message, error)
	ListProposalsForUser(ctx context.Context, userID string) ([]models.ScheduleEntry, error)
	ListAllProposals(ctx context.Context, actorID string) ([]models.ScheduleEntry, error)
}

var (
	_ Directory     = (*service.DirectoryService)(nil)
	_ Conversations = (*service.ConversationService)(nil)
	_ Messages      = (*service.MessageService)(nil)
)
