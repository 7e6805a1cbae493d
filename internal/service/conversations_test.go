package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"player-portal/internal/models"
	"player-portal/internal/repositories"
)

func TestCreateDirectIsSymmetric(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")

	first, err := env.convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	second, err := env.convs.CreateDirect(ctx, "bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Bob", first.DisplayName)
	assert.Equal(t, "Alice", second.DisplayName)
	assert.True(t, first.IsOnline)
	assert.Len(t, env.notes.eventsFor("bob", models.EventConversationUpdated), 1)
}

func TestCreateDirectConcurrentCallersShareOneConversation(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")

	ids := make(chan string, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 0 {
				a, b = b, a
			}
			v, err := env.convs.CreateDirect(context.Background(), a, b)
			assert.NoError(t, err)
			ids <- v.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1)
}

func TestCreateDirectValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")

	_, err := env.convs.CreateDirect(ctx, "alice", "alice")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = env.convs.CreateDirect(ctx, "alice", "ghost")
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)
}

func TestGroupInvitationFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")

	group, err := env.convs.CreateGroup(ctx, "alice", "Doubles", []string{"bob", "alice", "bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, group.Participants)
	assert.Equal(t, []string{"bob"}, group.PendingParticipants)

	_, err = env.msgs.Send(ctx, group.ID, "alice", SendInput{Text: "welcome"})
	require.NoError(t, err)

	invites := env.notes.eventsFor("bob", models.EventInvitationReceived)
	require.Len(t, invites, 1)
	assert.Nil(t, invites[0].Conversation.LastMessage)
	assert.Empty(t, env.notes.eventsFor("bob", models.EventMessageCreated))
	assert.Empty(t, env.notes.eventsFor("bob", models.EventConversationUpdated))

	_, err = env.msgs.ListForConversation(ctx, group.ID, "bob")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.msgs.Send(ctx, group.ID, "bob", SendInput{Text: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)

	list, err := env.convs.ListForUser(ctx, "bob", "")
	require.NoError(t, err)
	assert.Empty(t, list)

	pending, err := env.convs.ListInvitations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].LastMessage)

	accepted, err := env.convs.AcceptInvitation(ctx, group.ID, "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, accepted.Participants)

	msgs, err := env.msgs.ListForConversation(ctx, group.ID, "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "welcome", msgs[0].Text)

	list, err = env.convs.ListForUser(ctx, "bob", FilterGroups)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Unread)
}

func TestDeclineInvitation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")
	env.signIn(t, "carol", "Carol")

	group, err := env.convs.CreateGroup(ctx, "alice", "Doubles", []string{"bob"})
	require.NoError(t, err)

	_, err = env.convs.DeclineInvitation(ctx, group.ID, "carol")
	assert.ErrorIs(t, err, ErrForbidden)

	view, err := env.convs.DeclineInvitation(ctx, group.ID, "bob")
	require.NoError(t, err)
	assert.Empty(t, view.PendingParticipants)
	assert.Len(t, env.notes.eventsFor("bob", models.EventConversationDeleted), 1)

	_, err = env.convs.AcceptInvitation(ctx, group.ID, "bob")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestInviteMembersRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")
	env.signIn(t, "carol", "Carol")

	dm, err := env.convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = env.convs.InviteMembers(ctx, dm.ID, "alice", []string{"carol"})
	assert.ErrorIs(t, err, ErrInvalidState)

	group, err := env.convs.CreateGroup(ctx, "alice", "Doubles", nil)
	require.NoError(t, err)
	_, err = env.convs.InviteMembers(ctx, group.ID, "carol", []string{"bob"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.convs.InviteMembers(ctx, group.ID, "alice", []string{"ghost"})
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)

	env.notes.reset()
	updated, err := env.convs.InviteMembers(ctx, group.ID, "alice", []string{"bob", "carol"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, updated.PendingParticipants)
	assert.Len(t, env.notes.eventsFor("carol", models.EventInvitationReceived), 1)

	env.notes.reset()
	again, err := env.convs.InviteMembers(ctx, group.ID, "alice", []string{"bob"})
	require.NoError(t, err)
	assert.Equal(t, updated.Version, again.Version)
	assert.Empty(t, env.notes.eventsFor("bob", models.EventInvitationReceived))
}

func TestUnreadAndMarkRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")

	dm, err := env.convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = env.msgs.Send(ctx, dm.ID, "alice", SendInput{Text: "court at 6?"})
	require.NoError(t, err)

	bobs, err := env.convs.ListForUser(ctx, "bob", FilterUnread)
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	require.NotNil(t, bobs[0].LastMessage)
	assert.Equal(t, "court at 6?", bobs[0].LastMessage.Text)

	alices, err := env.convs.ListForUser(ctx, "alice", FilterUnread)
	require.NoError(t, err)
	assert.Empty(t, alices)

	env.notes.reset()
	read, err := env.convs.MarkRead(ctx, dm.ID, "bob", time.Time{})
	require.NoError(t, err)
	assert.False(t, read.Unread)
	assert.Len(t, env.notes.eventsFor("bob", models.EventConversationUpdated), 1)
	assert.Empty(t, env.notes.eventsFor("alice", models.EventConversationUpdated))

	earlier, err := env.convs.MarkRead(ctx, dm.ID, "bob", env.clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, read.Version, earlier.Version)
	assert.False(t, earlier.Unread)

	_, err = env.convs.ListForUser(ctx, "bob", "bogus")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMarkReadClampsFutureMarker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")

	dm, err := env.convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = env.convs.MarkRead(ctx, dm.ID, "bob", env.clock.Now().Add(24*time.Hour))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	_, err = env.msgs.Send(ctx, dm.ID, "alice", SendInput{Text: "later"})
	require.NoError(t, err)

	view, err := env.convs.Get(ctx, dm.ID, "bob")
	require.NoError(t, err)
	assert.True(t, view.Unread)
}

func TestPublicChannelIsAdminOnlyAndVisibleToAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signInAdmin(t, "root")

	_, err := env.convs.CreatePublicChannel(ctx, "alice", "News")
	assert.ErrorIs(t, err, ErrForbidden)

	env.notes.reset()
	channel, err := env.convs.CreatePublicChannel(ctx, "root", "News")
	require.NoError(t, err)
	assert.Len(t, env.notes.eventsFor("alice", models.EventConversationUpdated), 1)

	msg, err := env.msgs.Send(ctx, channel.ID, "alice", SendInput{Text: "hello all"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", msg.SenderName)

	channels, err := env.convs.ListPublicChannels(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, channels, 1)

	list, err := env.convs.ListForUser(ctx, "alice", "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestModerationActions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")
	env.signInAdmin(t, "root")

	dm, err := env.convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	group, err := env.convs.CreateGroup(ctx, "alice", "Doubles", []string{"bob"})
	require.NoError(t, err)

	_, err = env.convs.Rename(ctx, group.ID, "alice", "Mine")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.convs.Rename(ctx, dm.ID, "root", "Nope")
	assert.ErrorIs(t, err, ErrInvalidState)

	renamed, err := env.convs.Rename(ctx, group.ID, "root", "Saturday doubles")
	require.NoError(t, err)
	assert.Equal(t, "Saturday doubles", renamed.DisplayName)

	all, err := env.convs.ListAll(ctx, "root")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	_, err = env.convs.ListAll(ctx, "alice")
	assert.ErrorIs(t, err, ErrForbidden)

	env.notes.reset()
	require.NoError(t, env.convs.Delete(ctx, group.ID, "root"))
	assert.Len(t, env.notes.eventsFor("alice", models.EventConversationDeleted), 1)
	assert.Len(t, env.notes.eventsFor("bob", models.EventConversationDeleted), 1)

	_, err = env.convs.Get(ctx, group.ID, "alice")
	assert.ErrorIs(t, err, repositories.ErrConversationNotFound)
	assert.ErrorIs(t, env.convs.Delete(ctx, dm.ID, "alice"), ErrForbidden)
}
