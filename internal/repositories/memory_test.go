package repositories

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"player-portal/internal/models"
)

func seedGroup(t *testing.T, s *MemoryStore, members ...string) models.Conversation {
	t.Helper()
	conv, err := s.CreateConversation(context.Background(), models.Conversation{
		Type:         models.ConversationGroup,
		Name:         "Doubles",
		CreatedBy:    members[0],
		Participants: members,
	})
	require.NoError(t, err)
	return conv
}

func seedProposal(t *testing.T, s *MemoryStore, convID, sender string) models.Message {
	t.Helper()
	msg, err := s.CreateMessage(context.Background(), models.Message{
		ConversationID: convID,
		SenderID:       sender,
		Type:           models.MessageProposal,
		Proposal:       &models.Proposal{Date: "2026-06-01", Time: "18:00", Location: "Court 1", Status: models.ProposalPending},
	})
	require.NoError(t, err)
	return msg
}

func TestCreateOrGetDirectConcurrentIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const workers = 32
	ids := make([]string, workers)
	created := make([]bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, isNew, err := s.CreateOrGetDirect(ctx, a, b)
			assert.NoError(t, err)
			ids[i] = conv.ID
			created[i] = isNew
		}(i)
	}
	wg.Wait()

	newCount := 0
	for i := range ids {
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			newCount++
		}
	}
	assert.Equal(t, 1, newCount)

	all, err := s.ListAllConversations(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateOrGetDirectReAddsRemovedParticipant(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, _, err := s.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = s.RemoveUserFromConversations(ctx, "bob")
	require.NoError(t, err)

	again, isNew, err := s.CreateOrGetDirect(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, conv.ID, again.ID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, again.Participants)
	assert.Greater(t, again.Version, conv.Version)
}

func TestCreateMessageStrictOrderUnderConcurrency(t *testing.T) {
	s := NewMemoryStore()
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	conv := seedGroup(t, s, "alice", "bob")

	const senders = 40
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateMessage(context.Background(), models.Message{
				ConversationID: conv.ID,
				SenderID:       "alice",
				Type:           models.MessageText,
				Text:           fmt.Sprintf("msg %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := s.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, senders)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].Timestamp.After(msgs[i-1].Timestamp), "timestamps must strictly increase")
	}
}

func TestCreateMessageUnknownConversation(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateMessage(context.Background(), models.Message{ConversationID: "nope", Type: models.MessageText, Text: "x"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCastVoteConcurrentFlipsLeaveOneSide(t *testing.T) {
	s := NewMemoryStore()
	conv := seedGroup(t, s, "alice", "bob")
	msg := seedProposal(t, s, conv.ID, "alice")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			choice := models.VoteYes
			if i%2 == 0 {
				choice = models.VoteNo
			}
			_, err := s.CastVote(context.Background(), msg.ID, "bob", choice)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Votes)
	assert.Equal(t, 1, len(got.Votes.Yes)+len(got.Votes.No))
}

func TestCastVoteSameChoiceKeepsVersion(t *testing.T) {
	s := NewMemoryStore()
	conv := seedGroup(t, s, "alice", "bob")
	msg := seedProposal(t, s, conv.ID, "alice")
	ctx := context.Background()

	first, err := s.CastVote(ctx, msg.ID, "bob", models.VoteYes)
	require.NoError(t, err)
	second, err := s.CastVote(ctx, msg.ID, "bob", models.VoteYes)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)

	switched, err := s.CastVote(ctx, msg.ID, "bob", models.VoteNo)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, switched.Votes.No)
	assert.Empty(t, switched.Votes.Yes)
	assert.Greater(t, switched.Version, second.Version)
}

func TestCastVoteOnTextMessage(t *testing.T) {
	s := NewMemoryStore()
	conv := seedGroup(t, s, "alice", "bob")
	msg, err := s.CreateMessage(context.Background(), models.Message{ConversationID: conv.ID, SenderID: "alice", Type: models.MessageText, Text: "hi"})
	require.NoError(t, err)

	_, err = s.CastVote(context.Background(), msg.ID, "bob", models.VoteYes)
	assert.ErrorIs(t, err, ErrNotProposal)
}

func TestSetProposalStatusFirstDecisionWins(t *testing.T) {
	s := NewMemoryStore()
	conv := seedGroup(t, s, "alice", "bob")
	msg := seedProposal(t, s, conv.ID, "alice")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := models.ProposalAccepted
			if i%2 == 0 {
				status = models.ProposalRejected
			}
			_, changed, err := s.SetProposalStatus(context.Background(), msg.ID, status)
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, changes)
	got, err := s.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.True(t, got.Proposal.Status.Terminal())
	assert.Equal(t, int64(2), got.Version)
}

func TestMarkReadIsMonotonic(t *testing.T) {
	s := NewMemoryStore()
	conv := seedGroup(t, s, "alice", "bob")
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.MarkRead(context.Background(), conv.ID, "bob", base.Add(time.Duration(i)*time.Second))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.True(t, got.LastRead["bob"].Equal(base.Add(29*time.Second)))

	older, err := s.MarkRead(context.Background(), conv.ID, "bob", base)
	require.NoError(t, err)
	assert.True(t, older.LastRead["bob"].Equal(base.Add(29*time.Second)))
	assert.Equal(t, got.Version, older.Version)
}

func TestSetLastMessageNeverRegresses(t *testing.T) {
	s := NewMemoryStore()
	conv := seedGroup(t, s, "alice", "bob")
	ctx := context.Background()
	t1 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.SetLastMessage(ctx, conv.ID, models.MessageSummary{MessageID: "m2", Text: "newer", Timestamp: t1.Add(time.Second)})
	require.NoError(t, err)
	got, err := s.SetLastMessage(ctx, conv.ID, models.MessageSummary{MessageID: "m1", Text: "older", Timestamp: t1})
	require.NoError(t, err)

	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "m2", got.LastMessage.MessageID)
}

func TestInvitationLifecycle(t *testing.T) {
	s := NewMemoryStore()
	conv := seedGroup(t, s, "alice")
	ctx := context.Background()

	invited, err := s.AddPendingMembers(ctx, conv.ID, []string{"bob", "alice", "bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, invited.PendingParticipants)

	_, err = s.AcceptInvitation(ctx, conv.ID, "carol")
	assert.ErrorIs(t, err, ErrNotInvited)

	accepted, err := s.AcceptInvitation(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, accepted.Participants)
	assert.Empty(t, accepted.PendingParticipants)

	again, err := s.AcceptInvitation(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, accepted.Version, again.Version)

	list, err := s.ListInvitations(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListsExcludePendingAndPublic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	group := seedGroup(t, s, "alice")
	_, err := s.AddPendingMembers(ctx, group.ID, []string{"bob"})
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, models.Conversation{Type: models.ConversationPublic, Name: "News", CreatedBy: "admin"})
	require.NoError(t, err)

	bobs, err := s.ListConversationsForUser(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bobs)

	invites, err := s.ListInvitations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, group.ID, invites[0].ID)

	channels, err := s.ListPublicChannels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "News", channels[0].Name)
}

func TestDeleteConversationCascades(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	dm, _, err := s.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	msg := seedProposal(t, s, dm.ID, "alice")

	require.NoError(t, s.DeleteConversation(ctx, dm.ID))

	_, err = s.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.ErrorIs(t, s.DeleteConversation(ctx, dm.ID), ErrConversationNotFound)

	fresh, isNew, err := s.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEqual(t, dm.ID, fresh.ID)
}

func TestUpsertUserNeverLowersRole(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, created, err := s.UpsertUser(ctx, models.User{ID: "u1", Username: "ann", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.True(t, created)

	u, created, err := s.UpsertUser(ctx, models.User{ID: "u1", Email: "ann@example.com", Role: models.RoleUser})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.RoleAdmin, u.Role)
	assert.Equal(t, "ann", u.Username)
	assert.Equal(t, "ann@example.com", u.Email)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := NewMemoryStore()
	conv := seedGroup(t, s, "alice", "bob")

	conv.Participants[0] = "mallory"
	got, err := s.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Participants[0])
}

func TestNextTimestamp(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 123456789, time.UTC)

	assert.True(t, nextTimestamp(now, time.Time{}).Equal(now.Truncate(time.Microsecond)))

	last := now.Add(time.Second)
	assert.True(t, nextTimestamp(now, last).Equal(last.Add(time.Microsecond)))

	same := now.Truncate(time.Microsecond)
	assert.True(t, nextTimestamp(now, same).After(same))
}
