package models

import (
	"sort"
	"time"
)

type ConversationType string

const (
	ConversationDM     ConversationType = "dm"
	ConversationGroup  ConversationType = "group"
	ConversationPublic ConversationType = "public"
)

// MessageSummary is the denormalized last message of a conversation. It is a
// cache for list rendering and may lag the message it points to.
type MessageSummary struct {
	MessageID  string    `json:"message_id"`
	Text       string    `json:"text"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Timestamp  time.Time `json:"timestamp"`
}

// Conversation is a dm, group or public channel together with its
// membership and per-user read markers.
type Conversation struct {
	ID                  string               `json:"id"`
	Type                ConversationType     `json:"type"`
	Name                string               `json:"name,omitempty"`
	CreatedBy           string               `json:"created_by,omitempty"`
	Participants        []string             `json:"participants"`
	PendingParticipants []string             `json:"pending_participants"`
	LastMessage         *MessageSummary      `json:"last_message,omitempty"`
	LastRead            map[string]time.Time `json:"last_read,omitempty"`
	Version             int64                `json:"version"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

func (c Conversation) HasParticipant(userID string) bool {
	return contains(c.Participants, userID)
}

func (c Conversation) IsPending(userID string) bool {
	return contains(c.PendingParticipants, userID)
}

// CanRead reports read/write access to the conversation content. Public
// channels are open to every registered user; pending members have none.
func (c Conversation) CanRead(userID string) bool {
	if c.Type == ConversationPublic {
		return true
	}
	return c.HasParticipant(userID) && !c.IsPending(userID)
}

// OtherParticipant returns the counterpart of userID in a dm.
func (c Conversation) OtherParticipant(userID string) string {
	for _, id := range c.Participants {
		if id != userID {
			return id
		}
	}
	return ""
}

// IsUnreadFor: the latest message exists, was sent by someone else and is
// newer than the user's read marker. A missing marker counts as unread.
func (c Conversation) IsUnreadFor(userID string) bool {
	if c.LastMessage == nil || c.LastMessage.SenderID == userID {
		return false
	}
	read, ok := c.LastRead[userID]
	if !ok {
		return true
	}
	return c.LastMessage.Timestamp.After(read)
}

// InvitationView strips everything an invited-but-not-accepted user must not
// see.
func (c Conversation) InvitationView() Conversation {
	return Conversation{
		ID:                  c.ID,
		Type:                c.Type,
		Name:                c.Name,
		CreatedBy:           c.CreatedBy,
		Participants:        append([]string(nil), c.Participants...),
		PendingParticipants: append([]string(nil), c.PendingParticipants...),
		Version:             c.Version,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

// Clone deep-copies the slices and maps so callers can't alias stored state.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]string{}, c.Participants...)
	out.PendingParticipants = append([]string{}, c.PendingParticipants...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	out.LastRead = make(map[string]time.Time, len(c.LastRead))
	for k, v := range c.LastRead {
		out.LastRead[k] = v
	}
	return out
}

// ConversationView is a conversation as rendered in one user's list.
type ConversationView struct {
	Conversation
	DisplayName string `json:"display_name"`
	Unread      bool   `json:"unread"`
	IsOnline    bool   `json:"is_online,omitempty"`
}

// SortByActivity orders conversations newest last message first; those
// without messages go last, newest created first.
func SortByActivity(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i].LastMessage, convs[j].LastMessage
		switch {
		case a != nil && b != nil:
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.After(b.Timestamp)
			}
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
}

// DMKey is the order-independent key of the dm between two users.
func DMKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
