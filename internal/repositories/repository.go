package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"player-portal/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a lost optimistic-concurrency race; callers may retry.
	ErrConflict    = errors.New("concurrent modification")
	ErrNotInvited  = errors.New("user is not invited")
	ErrNotProposal = errors.New("message is not a proposal")

	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("message %w", ErrNotFound)
)

// UserRepository abstracts the user directory.
type UserRepository interface {
	// UpsertUser creates the user or merges non-empty profile fields into the
	// existing record. Role is only ever raised to admin, never lowered.
	UpsertUser(ctx context.Context, user models.User) (models.User, bool, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	BulkUsers(ctx context.Context, ids []string) ([]models.User, error)
	UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) (models.User, error)
	TouchUser(ctx context.Context, id string, at time.Time) error
	DeleteUser(ctx context.Context, id string) error
}

// ConversationRepository abstracts conversations, membership and read markers.
// Every method that returns a conversation returns its state after the write.
type ConversationRepository interface {
	CreateOrGetDirect(ctx context.Context, userA, userB string) (models.Conversation, bool, error)
	CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error)
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	ListInvitations(ctx context.Context, userID string) ([]models.Conversation, error)
	ListPublicChannels(ctx context.Context) ([]models.Conversation, error)
	ListAllConversations(ctx context.Context) ([]models.Conversation, error)
	AddPendingMembers(ctx context.Context, id string, userIDs []string) (models.Conversation, error)
	AcceptInvitation(ctx context.Context, id string, userID string) (models.Conversation, error)
	DeclineInvitation(ctx context.Context, id string, userID string) (models.Conversation, error)
	MarkRead(ctx context.Context, id string, userID string, at time.Time) (models.Conversation, error)
	SetLastMessage(ctx context.Context, id string, summary models.MessageSummary) (models.Conversation, error)
	RenameConversation(ctx context.Context, id string, name string) (models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	RemoveUserFromConversations(ctx context.Context, userID string) ([]string, error)
}

// MessageRepository abstracts ordered messages and proposal state.
type MessageRepository interface {
	// CreateMessage assigns the timestamp, strictly after the previous message
	// of the same conversation.
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (models.Message, error)
	// SetProposalStatus moves a pending proposal to status. changed is false
	// when the proposal had already left pending.
	SetProposalStatus(ctx context.Context, id string, status models.ProposalStatus) (msg models.Message, changed bool, err error)
	CastVote(ctx context.Context, id string, userID string, choice models.VoteChoice) (models.Message, error)
	ListProposalsForUser(ctx context.Context, userID string) ([]models.Message, error)
	ListAllProposals(ctx context.Context) ([]models.Message, error)
}

// nextTimestamp returns a timestamp strictly after last, as close to now as
// possible, at the microsecond precision Postgres stores.
func nextTimestamp(now, last time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if !last.IsZero() && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	return ts
}
