package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"player-portal/internal/models"
	"player-portal/internal/service"
)

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) UpsertUser(ctx context.Context, identity models.Identity) (models.User, error) {
	args := m.Called(ctx, identity)
	return userArg(args, 0), args.Error(1)
}

func (m *DirectoryMock) Authenticate(ctx context.Context, identity models.Identity) (models.User, error) {
	args := m.Called(ctx, identity)
	return userArg(args, 0), args.Error(1)
}

func (m *DirectoryMock) GetUser(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	return userArg(args, 0), args.Error(1)
}

func (m *DirectoryMock) ListUsers(ctx context.Context, callerID string) ([]models.User, error) {
	args := m.Called(ctx, callerID)
	var list []models.User
	if val := args.Get(0); val != nil {
		list = val.([]models.User)
	}
	return list, args.Error(1)
}

func (m *DirectoryMock) ListAllUsers(ctx context.Context, actorID string) ([]models.User, error) {
	args := m.Called(ctx, actorID)
	var list []models.User
	if val := args.Get(0); val != nil {
		list = val.([]models.User)
	}
	return list, args.Error(1)
}

func (m *DirectoryMock) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) (models.User, error) {
	args := m.Called(ctx, userID, patch)
	return userArg(args, 0), args.Error(1)
}

func (m *DirectoryMock) DeleteUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *DirectoryMock) TouchPresence(ctx context.Context, userID string) {
	m.Called(ctx, userID)
}

type ConversationsMock struct {
	mock.Mock
}

func (m *ConversationsMock) CreateDirect(ctx context.Context, actorID, otherID string) (models.ConversationView, error) {
	args := m.Called(ctx, actorID, otherID)
	return viewArg(args, 0), args.Error(1)
}

func (m *ConversationsMock) CreateGroup(ctx context.Context, actorID, name string, memberIDs []string) (models.ConversationView, error) {
	args := m.Called(ctx, actorID, name, memberIDs)
	return viewArg(args, 0), args.Error(1)
}

func (m *ConversationsMock) CreatePublicChannel(ctx context.Context, actorID, name string) (models.ConversationView, error) {
	args := m.Called(ctx, actorID, name)
	return viewArg(args, 0), args.Error(1)
}

func (m *ConversationsMock) InviteMembers(ctx context.Context, conversationID, actorID string, userIDs []string) (models.ConversationView, error) {
	args := m.Called(ctx, conversationID, actorID, userIDs)
	return viewArg(args, 0), args.Error(1)
}

func (m *ConversationsMock) AcceptInvitation(ctx context.Context, conversationID, userID string) (models.ConversationView, error) {
	args := m.Called(ctx, conversationID, userID)
	return viewArg(args, 0), args.Error(1)
}

func (m *ConversationsMock) DeclineInvitation(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID, userID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationsMock) ListForUser(ctx context.Context, userID, filter string) ([]models.ConversationView, error) {
	args := m.Called(ctx, userID, filter)
	return viewsArg(args, 0), args.Error(1)
}

func (m *ConversationsMock) ListPublicChannels(ctx context.Context, userID string) ([]models.ConversationView, error) {
	args := m.Called(ctx, userID)
	return viewsArg(args, 0), args.Error(1)
}

func (m *ConversationsMock) ListInvitations(ctx context.Context, userID string) ([]models.Conversation, error) {
	args := m.Called(ctx, userID)
	return conversationsArg(args, 0), args.Error(1)
}

func (m *ConversationsMock) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) (models.ConversationView, error) {
	args := m.Called(ctx, conversationID, userID, at)
	return viewArg(args, 0), args.Error(1)
}

func (m *ConversationsMock) Rename(ctx context.Context, conversationID, actorID, name string) (models.ConversationView, error) {
	args := m.Called(ctx, conversationID, actorID, name)
	return viewArg(args, 0), args.Error(1)
}

func (m *ConversationsMock) Delete(ctx context.Context, conversationID, actorID string) error {
	args := m.Called(ctx, conversationID, actorID)
	return args.Error(0)
}

func (m *ConversationsMock) ListAll(ctx context.Context, actorID string) ([]models.Conversation, error) {
	args := m.Called(ctx, actorID)
	return conversationsArg(args, 0), args.Error(1)
}

func (m *ConversationsMock) Get(ctx context.Context, conversationID, userID string) (models.ConversationView, error) {
	args := m.Called(ctx, conversationID, userID)
	return viewArg(args, 0), args.Error(1)
}

type MessagesMock struct {
	mock.Mock
}

func (m *MessagesMock) Send(ctx context.Context, conversationID, senderID string, in service.SendInput) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, in)
	return messageArg(args, 0), args.Error(1)
}

func (m *MessagesMock) ListForConversation(ctx context.Context, conversationID, callerID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, callerID)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessagesMock) SetProposalStatus(ctx context.Context, messageID, actorID string, status models.ProposalStatus) (models.Message, error) {
	args := m.Called(ctx, messageID, actorID, status)
	return messageArg(args, 0), args.Error(1)
}

func (m *MessagesMock) CastVote(ctx context.Context, messageID, userID string, choice models.VoteChoice) (models.Message, error) {
	args := m.Called(ctx, messageID, userID, choice)
	return messageArg(args, 0), args.Error(1)
}

func (m *MessagesMock) ListProposalsForUser(ctx context.Context, userID string) ([]models.ScheduleEntry, error) {
	args := m.Called(ctx, userID)
	return entriesArg(args, 0), args.Error(1)
}

func (m *MessagesMock) ListAllProposals(ctx context.Context, actorID string) ([]models.ScheduleEntry, error) {
	args := m.Called(ctx, actorID)
	return entriesArg(args, 0), args.Error(1)
}

type VerifierMock struct {
	mock.Mock
}

func (m *VerifierMock) Verify(token string) (models.Identity, error) {
	args := m.Called(token)
	var identity models.Identity
	if val := args.Get(0); val != nil {
		identity = val.(models.Identity)
	}
	return identity, args.Error(1)
}

func (m *VerifierMock) Sign(identity models.Identity, ttl time.Duration) (string, error) {
	args := m.Called(identity, ttl)
	return args.String(0), args.Error(1)
}

func userArg(args mock.Arguments, i int) models.User {
	var u models.User
	if val := args.Get(i); val != nil {
		u = val.(models.User)
	}
	return u
}

func viewArg(args mock.Arguments, i int) models.ConversationView {
	var v models.ConversationView
	if val := args.Get(i); val != nil {
		v = val.(models.ConversationView)
	}
	return v
}

func viewsArg(args mock.Arguments, i int) []models.ConversationView {
	var list []models.ConversationView
	if val := args.Get(i); val != nil {
		list = val.([]models.ConversationView)
	}
	return list
}

func conversationsArg(args mock.Arguments, i int) []models.Conversation {
	var list []models.Conversation
	if val := args.Get(i); val != nil {
		list = val.([]models.Conversation)
	}
	return list
}

func messageArg(args mock.Arguments, i int) models.Message {
	var msg models.Message
	if val := args.Get(i); val != nil {
		msg = val.(models.Message)
	}
	return msg
}

func entriesArg(args mock.Arguments, i int) []models.ScheduleEntry {
	var list []models.ScheduleEntry
	if val := args.Get(i); val != nil {
		list = val.([]models.ScheduleEntry)
	}
	return list
}
