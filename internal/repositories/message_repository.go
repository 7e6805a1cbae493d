package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"player-portal/internal/models"
)

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.sender_name, m.text, m.type,
        m.proposal_date, m.proposal_time, m.proposal_location, m.proposal_status, m.version, m.created_at`

type messageRow struct {
	ID               string         `db:"id"`
	ConversationID   string         `db:"conversation_id"`
	SenderID         string         `db:"sender_id"`
	SenderName       string         `db:"sender_name"`
	Text             string         `db:"text"`
	Type             string         `db:"type"`
	ProposalDate     sql.NullString `db:"proposal_date"`
	ProposalTime     sql.NullString `db:"proposal_time"`
	ProposalLocation sql.NullString `db:"proposal_location"`
	ProposalStatus   sql.NullString `db:"proposal_status"`
	Version          int64          `db:"version"`
	CreatedAt        time.Time      `db:"created_at"`
}

type voteRow struct {
	MessageID string `db:"message_id"`
	UserID    string `db:"user_id"`
	Choice    string `db:"choice"`
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db, now: time.Now}
}

// CreateMessage stores a message. The conversation row lock serializes
// concurrent sends so each gets a timestamp after the current maximum.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var out models.Message
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockConversation(ctx, tx, msg.ConversationID); err != nil {
			return err
		}
		var last sql.NullTime
		if err := tx.GetContext(ctx, &last, `SELECT MAX(created_at) FROM messages WHERE conversation_id=$1`, msg.ConversationID); err != nil {
			return err
		}

		out = msg.Clone()
		out.ID = uuid.NewString()
		out.Timestamp = nextTimestamp(r.now(), last.Time)
		out.Version = 1

		var date, tm, location, status sql.NullString
		if out.Type == models.MessageProposal && out.Proposal != nil {
			date = sql.NullString{String: out.Proposal.Date, Valid: true}
			tm = sql.NullString{String: out.Proposal.Time, Valid: true}
			location = sql.NullString{String: out.Proposal.Location, Valid: true}
			status = sql.NullString{String: string(out.Proposal.Status), Valid: true}
			out.Votes = &models.Votes{Yes: []string{}, No: []string{}}
		}

		_, err := tx.ExecContext(ctx, `INSERT INTO messages
            (id, conversation_id, sender_id, sender_name, text, type,
             proposal_date, proposal_time, proposal_location, proposal_status, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			out.ID, out.ConversationID, out.SenderID, out.SenderName, out.Text, out.Type,
			date, tm, location, status, out.Timestamp)
		return err
	})
	if err != nil {
		return models.Message{}, err
	}
	return out, nil
}

// ListMessages returns the conversation's messages in timestamp order.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return listMessages(ctx, r.db, `SELECT `+messageColumns+` FROM messages m
        WHERE m.conversation_id=$1 ORDER BY m.created_at ASC`, conversationID)
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, id string) (models.Message, error) {
	return getMessage(ctx, r.db, id)
}

// SetProposalStatus is a conditional update: only a pending proposal moves.
func (r *MessageRepo) SetProposalStatus(ctx context.Context, id string, status models.ProposalStatus) (models.Message, bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET proposal_status=$2, version=version+1
        WHERE id=$1 AND type='proposal' AND proposal_status='pending'`, id, status)
	if err != nil {
		return models.Message{}, false, mapPQError(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.Message{}, false, err
	}

	msg, err := getMessage(ctx, r.db, id)
	if err != nil {
		return models.Message{}, false, err
	}
	if !msg.IsProposal() {
		return models.Message{}, false, ErrNotProposal
	}
	return msg, count > 0, nil
}

// CastVote records the user's choice. The (message_id, user_id) primary key
// makes the switch between yes and no a single atomic upsert.
func (r *MessageRepo) CastVote(ctx context.Context, id string, userID string, choice models.VoteChoice) (models.Message, error) {
	var msg models.Message
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var msgType string
		err := tx.GetContext(ctx, &msgType, `SELECT type FROM messages WHERE id=$1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		if models.MessageType(msgType) != models.MessageProposal {
			return ErrNotProposal
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO proposal_votes (message_id, user_id, choice)
            VALUES ($1, $2, $3)
            ON CONFLICT (message_id, user_id) DO UPDATE SET choice=EXCLUDED.choice, voted_at=NOW()
                WHERE proposal_votes.choice <> EXCLUDED.choice`, id, userID, choice)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			if _, err := tx.ExecContext(ctx, `UPDATE messages SET version=version+1 WHERE id=$1`, id); err != nil {
				return err
			}
		}

		msg, err = getMessage(ctx, tx, id)
		return err
	})
	return msg, err
}

// ListProposalsForUser uses the partial proposal index joined with the
// member index instead of scanning all messages.
func (r *MessageRepo) ListProposalsForUser(ctx context.Context, userID string) ([]models.Message, error) {
	return listMessages(ctx, r.db, `SELECT `+messageColumns+` FROM messages m
        JOIN conversation_members cm ON cm.conversation_id = m.conversation_id
        JOIN conversations c ON c.id = m.conversation_id
        WHERE cm.user_id=$1 AND cm.state='active' AND c.type <> 'public' AND m.type='proposal'
        ORDER BY m.created_at ASC`, userID)
}

// ListAllProposals returns every proposal, newest first.
func (r *MessageRepo) ListAllProposals(ctx context.Context) ([]models.Message, error) {
	return listMessages(ctx, r.db, `SELECT `+messageColumns+` FROM messages m
        WHERE m.type='proposal' ORDER BY m.created_at DESC`)
}

func getMessage(ctx context.Context, q sqlx.ExtContext, id string) (models.Message, error) {
	msgs, err := listMessages(ctx, q, `SELECT `+messageColumns+` FROM messages m WHERE m.id=$1`, id)
	if err != nil {
		return models.Message{}, err
	}
	if len(msgs) == 0 {
		return models.Message{}, ErrMessageNotFound
	}
	return msgs[0], nil
}

func listMessages(ctx context.Context, q sqlx.ExtContext, query string, args ...interface{}) ([]models.Message, error) {
	var rows []messageRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(rows))
	var proposalIDs []string
	for _, row := range rows {
		msg := row.toModel()
		if msg.IsProposal() {
			proposalIDs = append(proposalIDs, msg.ID)
		}
		msgs = append(msgs, msg)
	}
	if len(proposalIDs) == 0 {
		return msgs, nil
	}

	var votes []voteRow
	if err := selectIn(ctx, q, &votes, `SELECT message_id, user_id, choice FROM proposal_votes
        WHERE message_id IN (?) ORDER BY user_id ASC`, proposalIDs); err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Votes, len(proposalIDs))
	for i := range msgs {
		if msgs[i].Votes != nil {
			byID[msgs[i].ID] = msgs[i].Votes
		}
	}
	for _, v := range votes {
		tally, ok := byID[v.MessageID]
		if !ok {
			continue
		}
		if models.VoteChoice(v.Choice) == models.VoteYes {
			tally.Yes = append(tally.Yes, v.UserID)
		} else {
			tally.No = append(tally.No, v.UserID)
		}
	}
	return msgs, nil
}

func (row messageRow) toModel() models.Message {
	msg := models.Message{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		SenderID:       row.SenderID,
		SenderName:     row.SenderName,
		Text:           row.Text,
		Type:           models.MessageType(row.Type),
		Version:        row.Version,
		Timestamp:      row.CreatedAt,
	}
	if msg.Type == models.MessageProposal {
		msg.Proposal = &models.Proposal{
			Date:     row.ProposalDate.String,
			Time:     row.ProposalTime.String,
			Location: row.ProposalLocation.String,
			Status:   models.ProposalStatus(row.ProposalStatus.String),
		}
		msg.Votes = &models.Votes{Yes: []string{}, No: []string{}}
	}
	return msg
}
