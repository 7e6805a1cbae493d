package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"player-portal/internal/models"
	"player-portal/internal/repositories"
)

func proposal(date, tm string) SendInput {
	return SendInput{
		Type:     models.MessageProposal,
		Proposal: &ProposalInput{Date: date, Time: tm, Location: "Court 3"},
	}
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")
	dm, err := env.convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	cases := map[string]SendInput{
		"empty text":       {Text: "   "},
		"unknown type":     {Type: "sticker", Text: "x"},
		"missing proposal": {Type: models.MessageProposal},
		"bad date":         proposal("2026-13-01", "18:00"),
		"bad time":         proposal("2026-06-01", "6pm"),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.msgs.Send(ctx, dm.ID, "alice", in)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	_, err = env.msgs.Send(ctx, "missing", "alice", SendInput{Text: "hi"})
	assert.ErrorIs(t, err, repositories.ErrConversationNotFound)
}

func TestSendUpdatesSummaryAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")
	dm, err := env.convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	env.notes.reset()
	msg, err := env.msgs.Send(ctx, dm.ID, "alice", proposal("2026-06-01", "18:30"))
	require.NoError(t, err)
	assert.Equal(t, models.ProposalPending, msg.Proposal.Status)
	require.NotNil(t, msg.Votes)
	assert.Empty(t, msg.Votes.Yes)

	created := env.notes.eventsFor("bob", models.EventMessageCreated)
	require.Len(t, created, 1)
	assert.Equal(t, msg.ID, created[0].Message.ID)

	updates := env.notes.eventsFor("bob", models.EventConversationUpdated)
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Conversation.LastMessage)
	assert.Equal(t, models.ProposalSummaryText, updates[0].Conversation.LastMessage.Text)
	assert.Equal(t, msg.ID, updates[0].Conversation.LastMessage.MessageID)
}

func TestConcurrentSendsKeepOrderAndLatestSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")
	group, err := env.convs.CreateGroup(ctx, "alice", "Doubles", []string{"bob"})
	require.NoError(t, err)
	_, err = env.convs.AcceptInvitation(ctx, group.ID, "bob")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "alice"
			if i%2 == 0 {
				sender = "bob"
			}
			_, err := env.msgs.Send(ctx, group.ID, sender, SendInput{Text: fmt.Sprintf("m%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := env.msgs.ListForConversation(ctx, group.ID, "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 30)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].Timestamp.After(msgs[i-1].Timestamp))
	}

	view, err := env.convs.Get(ctx, group.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, view.LastMessage)
	assert.Equal(t, msgs[len(msgs)-1].ID, view.LastMessage.MessageID)
}

func TestProposalStatusFirstDecisionWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")
	env.signIn(t, "carol", "Carol")
	dm, err := env.convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := env.msgs.Send(ctx, dm.ID, "alice", proposal("2026-06-01", "18:30"))
	require.NoError(t, err)

	_, err = env.msgs.SetProposalStatus(ctx, msg.ID, "bob", models.ProposalPending)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = env.msgs.SetProposalStatus(ctx, msg.ID, "carol", models.ProposalAccepted)
	assert.ErrorIs(t, err, ErrForbidden)

	env.notes.reset()
	accepted, err := env.msgs.SetProposalStatus(ctx, msg.ID, "bob", models.ProposalAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalAccepted, accepted.Proposal.Status)
	assert.Len(t, env.notes.eventsFor("alice", models.EventMessageUpdated), 1)

	env.notes.reset()
	again, err := env.msgs.SetProposalStatus(ctx, msg.ID, "alice", models.ProposalRejected)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalAccepted, again.Proposal.Status)
	assert.Equal(t, accepted.Version, again.Version)
	assert.Empty(t, env.notes.eventsFor("alice", models.EventMessageUpdated))

	text, err := env.msgs.Send(ctx, dm.ID, "alice", SendInput{Text: "ok"})
	require.NoError(t, err)
	_, err = env.msgs.SetProposalStatus(ctx, text.ID, "bob", models.ProposalAccepted)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestVotesAreExclusivePerUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")
	dm, err := env.convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := env.msgs.Send(ctx, dm.ID, "alice", proposal("2026-06-01", "18:30"))
	require.NoError(t, err)

	_, err = env.msgs.CastVote(ctx, msg.ID, "bob", "maybe")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	yes, err := env.msgs.CastVote(ctx, msg.ID, "bob", models.VoteYes)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, yes.Votes.Yes)

	no, err := env.msgs.CastVote(ctx, msg.ID, "bob", models.VoteNo)
	require.NoError(t, err)
	assert.Empty(t, no.Votes.Yes)
	assert.Equal(t, []string{"bob"}, no.Votes.No)
	assert.Greater(t, no.Version, yes.Version)

	env.notes.reset()
	same, err := env.msgs.CastVote(ctx, msg.ID, "bob", models.VoteNo)
	require.NoError(t, err)
	assert.Equal(t, no.Version, same.Version)
	assert.Empty(t, env.notes.eventsFor("alice", models.EventMessageUpdated))

	_, err = env.msgs.SetProposalStatus(ctx, msg.ID, "alice", models.ProposalRejected)
	require.NoError(t, err)
	late, err := env.msgs.CastVote(ctx, msg.ID, "alice", models.VoteYes)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalRejected, late.Proposal.Status)
	assert.Equal(t, []string{"alice"}, late.Votes.Yes)
}

type flakyVotes struct {
	repositories.MessageRepository
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyVotes) CastVote(ctx context.Context, id string, userID string, choice models.VoteChoice) (models.Message, error) {
	f.mu.Lock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return models.Message{}, repositories.ErrConflict
	}
	f.mu.Unlock()
	return f.MessageRepository.CastVote(ctx, id, userID, choice)
}

// joinDuringInsert accepts a pending invitation while the message is being
// stored, after the sender's membership check.
type joinDuringInsert struct {
	repositories.MessageRepository
	join func(ctx context.Context)
}

func (j *joinDuringInsert) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	j.join(ctx)
	return j.MessageRepository.CreateMessage(ctx, msg)
}

func TestSendReachesMembersWhoJoinMidSend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")
	group, err := env.convs.CreateGroup(ctx, "alice", "Doubles", []string{"bob"})
	require.NoError(t, err)

	repo := &joinDuringInsert{MessageRepository: env.store, join: func(ctx context.Context) {
		_, err := env.convs.AcceptInvitation(ctx, group.ID, "bob")
		require.NoError(t, err)
	}}
	svc := NewMessageService(env.store, env.store, repo, env.notes, env.settings, discardLogger())
	env.notes.reset()

	msg, err := svc.Send(ctx, group.ID, "alice", SendInput{Text: "welcome"})
	require.NoError(t, err)

	created := env.notes.eventsFor("bob", models.EventMessageCreated)
	require.Len(t, created, 1)
	assert.Equal(t, msg.ID, created[0].Message.ID)
}

func TestCastVoteRetriesConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")
	dm, err := env.convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := env.msgs.Send(ctx, dm.ID, "alice", proposal("2026-06-01", "18:30"))
	require.NoError(t, err)

	flaky := &flakyVotes{MessageRepository: env.store, failures: 2}
	svc := NewMessageService(env.store, env.store, flaky, env.notes, env.settings, discardLogger())
	voted, err := svc.CastVote(ctx, msg.ID, "bob", models.VoteYes)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, voted.Votes.Yes)
	assert.Equal(t, 3, flaky.calls)

	stuck := &flakyVotes{MessageRepository: env.store, failures: 10}
	svc = NewMessageService(env.store, env.store, stuck, env.notes, env.settings, discardLogger())
	_, err = svc.CastVote(ctx, msg.ID, "bob", models.VoteNo)
	assert.ErrorIs(t, err, repositories.ErrConflict)
	assert.Equal(t, conflictAttempts, stuck.calls)
}

func TestScheduleAcrossConversations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")
	env.signIn(t, "carol", "Carol")
	env.signInAdmin(t, "root")

	dm, err := env.convs.CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	group, err := env.convs.CreateGroup(ctx, "carol", "Juniors", []string{"alice"})
	require.NoError(t, err)
	_, err = env.convs.AcceptInvitation(ctx, group.ID, "alice")
	require.NoError(t, err)
	channel, err := env.convs.CreatePublicChannel(ctx, "root", "News")
	require.NoError(t, err)

	later, err := env.msgs.Send(ctx, dm.ID, "bob", proposal("2099-06-01", "18:30"))
	require.NoError(t, err)
	past, err := env.msgs.Send(ctx, group.ID, "carol", proposal("2020-01-15", "09:00"))
	require.NoError(t, err)
	_, err = env.msgs.Send(ctx, channel.ID, "root", proposal("2099-01-01", "10:00"))
	require.NoError(t, err)
	_, err = env.msgs.CastVote(ctx, later.ID, "alice", models.VoteYes)
	require.NoError(t, err)

	entries, err := env.msgs.ListProposalsForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, past.ID, entries[0].MessageID)
	assert.True(t, entries[0].Expired)
	assert.Equal(t, "Juniors", entries[0].ConversationName)
	assert.Equal(t, "Carol", entries[0].ProposerName)

	assert.Equal(t, later.ID, entries[1].MessageID)
	assert.False(t, entries[1].Expired)
	assert.Equal(t, "Bob", entries[1].ConversationName)
	assert.Equal(t, []string{"alice"}, entries[1].Votes.Yes)
	assert.ElementsMatch(t, []string{"alice", "bob"}, entries[1].Participants)

	bobs, err := env.msgs.ListProposalsForUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, "Alice", bobs[0].ConversationName)

	_, err = env.msgs.ListAllProposals(ctx, "alice")
	assert.ErrorIs(t, err, ErrForbidden)
	all, err := env.msgs.ListAllProposals(ctx, "root")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPendingMemberIsExcludedFromSchedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signIn(t, "alice", "Alice")
	env.signIn(t, "bob", "Bob")

	group, err := env.convs.CreateGroup(ctx, "alice", "Doubles", []string{"bob"})
	require.NoError(t, err)
	_, err = env.msgs.Send(ctx, group.ID, "alice", proposal("2099-06-01", "18:30"))
	require.NoError(t, err)

	entries, err := env.msgs.ListProposalsForUser(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
