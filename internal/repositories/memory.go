package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"player-portal/internal/models"
)

// MemoryStore is a process-local implementation of all three repositories.
// A single lock serializes writes, so every per-document read-modify-write
// is atomic. Returned values are deep copies.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	conversations map[string]*models.Conversation
	dmIndex       map[string]string
	messages      map[string][]*models.Message
	messageIndex  map[string]*models.Message
	votes         map[string]map[string]models.VoteChoice
	now           func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*models.User),
		conversations: make(map[string]*models.Conversation),
		dmIndex:       make(map[string]string),
		messages:      make(map[string][]*models.Message),
		messageIndex:  make(map[string]*models.Message),
		votes:         make(map[string]map[string]models.VoteChoice),
		now:           time.Now,
	}
}

// --- users ---

func (s *MemoryStore) UpsertUser(ctx context.Context, user models.User) (models.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	existing, ok := s.users[user.ID]
	if !ok {
		u := user
		if u.Role != models.RoleAdmin {
			u.Role = models.RoleUser
		}
		u.CreatedAt = now
		u.UpdatedAt = now
		if u.LastSeen.IsZero() {
			u.LastSeen = now
		}
		s.users[u.ID] = &u
		return u, true, nil
	}

	mergeString(&existing.Username, user.Username)
	mergeString(&existing.Email, user.Email)
	mergeString(&existing.AvatarRef, user.AvatarRef)
	mergeString(&existing.Phone, user.Phone)
	mergeString(&existing.Level, user.Level)
	if user.Role == models.RoleAdmin {
		existing.Role = models.RoleAdmin
	}
	if user.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = user.LastSeen
	}
	existing.UpdatedAt = now
	return *existing, false, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return *u, nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *MemoryStore) BulkUsers(ctx context.Context, ids []string) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	applyPatch(u, patch)
	u.UpdatedAt = s.now().UTC()
	return *u, nil
}

func (s *MemoryStore) TouchUser(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.LastSeen = at
	return nil
}

func (s *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, id)
	return nil
}

// --- conversations ---

func (s *MemoryStore) CreateOrGetDirect(ctx context.Context, userA, userB string) (models.Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.DMKey(userA, userB)
	if id, ok := s.dmIndex[key]; ok {
		conv := s.conversations[id]
		changed := false
		for _, uid := range []string{userA, userB} {
			if !conv.HasParticipant(uid) {
				conv.Participants = append(conv.Participants, uid)
				changed = true
			}
		}
		if changed {
			s.bump(conv)
		}
		return conv.Clone(), false, nil
	}

	now := s.now().UTC()
	conv := &models.Conversation{
		ID:           uuid.NewString(),
		Type:         models.ConversationDM,
		CreatedBy:    userA,
		Participants: []string{userA, userB},
		LastRead:     map[string]time.Time{},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[conv.ID] = conv
	s.dmIndex[key] = conv.ID
	return conv.Clone(), true, nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	c := conv.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.LastMessage = nil
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	s.conversations[c.ID] = &c
	return c.Clone(), nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (s *MemoryStore) ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	return s.filterConversations(ctx, func(c *models.Conversation) bool {
		return c.Type != models.ConversationPublic && c.HasParticipant(userID) && !c.IsPending(userID)
	})
}

func (s *MemoryStore) ListInvitations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return s.filterConversations(ctx, func(c *models.Conversation) bool {
		return c.IsPending(userID)
	})
}

func (s *MemoryStore) ListPublicChannels(ctx context.Context) ([]models.Conversation, error) {
	return s.filterConversations(ctx, func(c *models.Conversation) bool {
		return c.Type == models.ConversationPublic
	})
}

func (s *MemoryStore) ListAllConversations(ctx context.Context) ([]models.Conversation, error) {
	return s.filterConversations(ctx, func(*models.Conversation) bool { return true })
}

func (s *MemoryStore) filterConversations(ctx context.Context, keep func(*models.Conversation) bool) ([]models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Conversation, 0)
	for _, c := range s.conversations {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	models.SortByActivity(out)
	return out, nil
}

func (s *MemoryStore) AddPendingMembers(ctx context.Context, id string, userIDs []string) (models.Conversation, error) {
	return s.mutateConversation(ctx, id, func(c *models.Conversation) (bool, error) {
		changed := false
		for _, uid := range userIDs {
			if c.HasParticipant(uid) || c.IsPending(uid) {
				continue
			}
			c.PendingParticipants = append(c.PendingParticipants, uid)
			changed = true
		}
		return changed, nil
	})
}

func (s *MemoryStore) AcceptInvitation(ctx context.Context, id string, userID string) (models.Conversation, error) {
	return s.mutateConversation(ctx, id, func(c *models.Conversation) (bool, error) {
		if c.IsPending(userID) {
			c.PendingParticipants = remove(c.PendingParticipants, userID)
			if !c.HasParticipant(userID) {
				c.Participants = append(c.Participants, userID)
			}
			return true, nil
		}
		if c.HasParticipant(userID) {
			return false, nil
		}
		return false, ErrNotInvited
	})
}

func (s *MemoryStore) DeclineInvitation(ctx context.Context, id string, userID string) (models.Conversation, error) {
	return s.mutateConversation(ctx, id, func(c *models.Conversation) (bool, error) {
		if !c.IsPending(userID) {
			return false, nil
		}
		c.PendingParticipants = remove(c.PendingParticipants, userID)
		return true, nil
	})
}

func (s *MemoryStore) MarkRead(ctx context.Context, id string, userID string, at time.Time) (models.Conversation, error) {
	return s.mutateConversation(ctx, id, func(c *models.Conversation) (bool, error) {
		if prev, ok := c.LastRead[userID]; ok && !at.After(prev) {
			return false, nil
		}
		if c.LastRead == nil {
			c.LastRead = map[string]time.Time{}
		}
		c.LastRead[userID] = at.UTC()
		return true, nil
	})
}

func (s *MemoryStore) SetLastMessage(ctx context.Context, id string, summary models.MessageSummary) (models.Conversation, error) {
	return s.mutateConversation(ctx, id, func(c *models.Conversation) (bool, error) {
		if c.LastMessage != nil && !summary.Timestamp.After(c.LastMessage.Timestamp) {
			return false, nil
		}
		sum := summary
		c.LastMessage = &sum
		return true, nil
	})
}

func (s *MemoryStore) RenameConversation(ctx context.Context, id string, name string) (models.Conversation, error) {
	return s.mutateConversation(ctx, id, func(c *models.Conversation) (bool, error) {
		if c.Name == name {
			return false, nil
		}
		c.Name = name
		return true, nil
	})
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	if conv.Type == models.ConversationDM {
		for key, cid := range s.dmIndex {
			if cid == id {
				delete(s.dmIndex, key)
			}
		}
	}
	for _, m := range s.messages[id] {
		delete(s.messageIndex, m.ID)
		delete(s.votes, m.ID)
	}
	delete(s.messages, id)
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStore) RemoveUserFromConversations(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var affected []string
	for id, c := range s.conversations {
		if !c.HasParticipant(userID) && !c.IsPending(userID) {
			continue
		}
		c.Participants = remove(c.Participants, userID)
		c.PendingParticipants = remove(c.PendingParticipants, userID)
		s.bump(c)
		affected = append(affected, id)
	}
	sort.Strings(affected)
	return affected, nil
}

func (s *MemoryStore) mutateConversation(ctx context.Context, id string, fn func(*models.Conversation) (bool, error)) (models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	changed, err := fn(conv)
	if err != nil {
		return models.Conversation{}, err
	}
	if changed {
		s.bump(conv)
	}
	return conv.Clone(), nil
}

func (s *MemoryStore) bump(c *models.Conversation) {
	c.Version++
	c.UpdatedAt = s.now().UTC()
}

// --- messages ---

func (s *MemoryStore) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return models.Message{}, ErrConversationNotFound
	}

	var last time.Time
	if list := s.messages[msg.ConversationID]; len(list) > 0 {
		last = list[len(list)-1].Timestamp
	}

	m := msg.Clone()
	m.ID = uuid.NewString()
	m.Timestamp = nextTimestamp(s.now(), last)
	m.Version = 1
	if m.Type == models.MessageProposal {
		m.Votes = &models.Votes{Yes: []string{}, No: []string{}}
	} else {
		m.Votes = nil
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], &m)
	s.messageIndex[m.ID] = &m
	return m.Clone(), nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.messages[conversationID]
	out := make([]models.Message, 0, len(list))
	for _, m := range list {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messageIndex[id]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) SetProposalStatus(ctx context.Context, id string, status models.ProposalStatus) (models.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messageIndex[id]
	if !ok {
		return models.Message{}, false, ErrMessageNotFound
	}
	if !m.IsProposal() {
		return models.Message{}, false, ErrNotProposal
	}
	if m.Proposal.Status != models.ProposalPending {
		return m.Clone(), false, nil
	}
	m.Proposal.Status = status
	m.Version++
	return m.Clone(), true, nil
}

func (s *MemoryStore) CastVote(ctx context.Context, id string, userID string, choice models.VoteChoice) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messageIndex[id]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	if !m.IsProposal() {
		return models.Message{}, ErrNotProposal
	}
	if s.votes[id] == nil {
		s.votes[id] = make(map[string]models.VoteChoice)
	}
	if prev, ok := s.votes[id][userID]; ok && prev == choice {
		return m.Clone(), nil
	}
	s.votes[id][userID] = choice
	m.Votes = tally(s.votes[id])
	m.Version++
	return m.Clone(), nil
}

func (s *MemoryStore) ListProposalsForUser(ctx context.Context, userID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for convID, c := range s.conversations {
		if c.Type == models.ConversationPublic || !c.HasParticipant(userID) || c.IsPending(userID) {
			continue
		}
		for _, m := range s.messages[convID] {
			if m.IsProposal() {
				out = append(out, m.Clone())
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAllProposals(ctx context.Context) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, m := range s.messageIndex {
		if m.IsProposal() {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func tally(votes map[string]models.VoteChoice) *models.Votes {
	out := &models.Votes{Yes: []string{}, No: []string{}}
	for uid, choice := range votes {
		if choice == models.VoteYes {
			out.Yes = append(out.Yes, uid)
		} else {
			out.No = append(out.No, uid)
		}
	}
	sort.Strings(out.Yes)
	sort.Strings(out.No)
	return out
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyPatch(u *models.User, p models.ProfilePatch) {
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.AvatarRef != nil {
		u.AvatarRef = *p.AvatarRef
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.Level != nil {
		u.Level = *p.Level
	}
}

func remove(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

var (
	_ UserRepository         = (*MemoryStore)(nil)
	_ ConversationRepository = (*MemoryStore)(nil)
	_ MessageRepository      = (*MemoryStore)(nil)
)
