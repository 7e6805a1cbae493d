package models

const (
	EventConversationUpdated = "conversation.updated"
	EventConversationDeleted = "conversation.deleted"
	EventInvitationReceived  = "invitation.received"
	EventMessageCreated      = "message.created"
	EventMessageUpdated      = "message.updated"
	EventUserUpdated         = "user.updated"
	EventUserPresence        = "user.presence"
	EventUserDeleted         = "user.deleted"
)

// Event is pushed to websocket clients. Document payloads carry their
// version so clients can drop stale deliveries.
type Event struct {
	Type           string        `json:"type"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Message        *Message      `json:"message,omitempty"`
	User           *User         `json:"user,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
}
