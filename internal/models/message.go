package models

import (
	"fmt"
	"time"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageProposal MessageType = "proposal"
)

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

func (s ProposalStatus) Terminal() bool {
	return s == ProposalAccepted || s == ProposalRejected
}

type VoteChoice string

const (
	VoteYes VoteChoice = "yes"
	VoteNo  VoteChoice = "no"
)

// ProposalSummaryText replaces the text of a proposal in the conversation list.
const ProposalSummaryText = "📅 Lesson Proposal"

const (
	ProposalDateLayout = "2006-01-02"
	ProposalTimeLayout = "15:04"
)

// Proposal is a lesson date/time/location offer embedded in a message.
type Proposal struct {
	Date     string         `json:"date"`
	Time     string         `json:"time"`
	Location string         `json:"location"`
	Status   ProposalStatus `json:"status"`
}

// StartsAt parses the proposal date and time in loc.
func (p Proposal) StartsAt(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(ProposalDateLayout+" "+ProposalTimeLayout, p.Date+" "+p.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse proposal start: %w", err)
	}
	return t, nil
}

type Votes struct {
	Yes []string `json:"yes"`
	No  []string `json:"no"`
}

// Message is immutable except for the proposal status and votes.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	SenderName     string      `json:"sender_name"`
	Text           string      `json:"text"`
	Type           MessageType `json:"type"`
	Proposal       *Proposal   `json:"proposal,omitempty"`
	Votes          *Votes      `json:"votes,omitempty"`
	Version        int64       `json:"version"`
	Timestamp      time.Time   `json:"timestamp"`
}

func (m Message) IsProposal() bool {
	return m.Type == MessageProposal && m.Proposal != nil
}

// Summary is the denormalized list entry for m.
func (m Message) Summary() MessageSummary {
	text := m.Text
	if m.Type == MessageProposal {
		text = ProposalSummaryText
	}
	return MessageSummary{
		MessageID:  m.ID,
		Text:       text,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Timestamp:  m.Timestamp,
	}
}

func (m Message) Clone() Message {
	out := m
	if m.Proposal != nil {
		p := *m.Proposal
		out.Proposal = &p
	}
	if m.Votes != nil {
		out.Votes = &Votes{
			Yes: append([]string{}, m.Votes.Yes...),
			No:  append([]string{}, m.Votes.No...),
		}
	}
	return out
}

// ScheduleEntry is one proposal in a user's cross-conversation schedule.
type ScheduleEntry struct {
	MessageID        string         `json:"message_id"`
	ConversationID   string         `json:"conversation_id"`
	ConversationName string         `json:"conversation_name"`
	ProposerID       string         `json:"proposer_id"`
	ProposerName     string         `json:"proposer_name"`
	Date             string         `json:"date"`
	Time             string         `json:"time"`
	Location         string         `json:"location"`
	Status           ProposalStatus `json:"status"`
	Expired          bool           `json:"expired"`
	Votes            Votes          `json:"votes"`
	Participants     []string       `json:"participants"`
	CreatedAt        time.Time      `json:"created_at"`
	StartsAt         time.Time      `json:"starts_at"`
}
