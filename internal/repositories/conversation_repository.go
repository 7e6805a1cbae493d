package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"player-portal/internal/models"
)

const conversationColumns = `c.id, c.type, c.name, c.created_by, c.last_message_id, c.last_message_text,
        c.last_message_sender_id, c.last_message_sender_name, c.last_message_at, c.version, c.created_at, c.updated_at`

type conversationRow struct {
	ID                    string         `db:"id"`
	Type                  string         `db:"type"`
	Name                  string         `db:"name"`
	CreatedBy             string         `db:"created_by"`
	LastMessageID         sql.NullString `db:"last_message_id"`
	LastMessageText       sql.NullString `db:"last_message_text"`
	LastMessageSenderID   sql.NullString `db:"last_message_sender_id"`
	LastMessageSenderName sql.NullString `db:"last_message_sender_name"`
	LastMessageAt         sql.NullTime   `db:"last_message_at"`
	Version               int64          `db:"version"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

type memberRow struct {
	ConversationID string `db:"conversation_id"`
	UserID         string `db:"user_id"`
	State          string `db:"state"`
}

type readRow struct {
	ConversationID string    `db:"conversation_id"`
	UserID         string    `db:"user_id"`
	LastReadAt     time.Time `db:"last_read_at"`
}

const (
	memberActive  = "active"
	memberPending = "pending"
)

// ConversationRepo is a sqlx implementation of ConversationRepository.
// Membership lives in conversation_members, read markers in
// conversation_reads; every mutation bumps conversations.version.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateOrGetDirect returns the dm for the unordered pair, creating it when
// missing. Concurrent callers race on the dm_key unique constraint and the
// loser reads the winner's row.
func (r *ConversationRepo) CreateOrGetDirect(ctx context.Context, userA, userB string) (models.Conversation, bool, error) {
	var (
		conv    models.Conversation
		created bool
	)
	key := models.DMKey(userA, userB)
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var id string
		err := tx.GetContext(ctx, &id, `INSERT INTO conversations (id, type, name, created_by, dm_key)
            VALUES ($1, 'dm', '', $2, $3)
            ON CONFLICT (dm_key) DO NOTHING
            RETURNING id`, uuid.NewString(), userA, key)
		switch {
		case err == nil:
			created = true
		case errors.Is(err, sql.ErrNoRows):
			if err := tx.GetContext(ctx, &id, `SELECT id FROM conversations WHERE dm_key=$1`, key); err != nil {
				return err
			}
		default:
			return err
		}

		// a dm whose member was deleted gets its member back
		var added int64
		for _, uid := range []string{userA, userB} {
			res, err := tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id, state)
                VALUES ($1, $2, 'active') ON CONFLICT (conversation_id, user_id) DO NOTHING`, id, uid)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			added += n
		}
		if !created && added > 0 {
			if err := bumpConversation(ctx, tx, id); err != nil {
				return err
			}
		}

		conv, err = getConversation(ctx, tx, id)
		return err
	})
	return conv, created, err
}

// CreateConversation inserts a group or public channel with its members.
func (r *ConversationRepo) CreateConversation(ctx context.Context, in models.Conversation) (models.Conversation, error) {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	var conv models.Conversation
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversations (id, type, name, created_by) VALUES ($1, $2, $3, $4)`,
			id, in.Type, in.Name, in.CreatedBy); err != nil {
			return err
		}
		if err := insertMembers(ctx, tx, id, in.Participants, memberActive); err != nil {
			return err
		}
		if err := insertMembers(ctx, tx, id, in.PendingParticipants, memberPending); err != nil {
			return err
		}
		var err error
		conv, err = getConversation(ctx, tx, id)
		return err
	})
	return conv, err
}

// GetConversation fetches a conversation with membership and read markers.
func (r *ConversationRepo) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	return getConversation(ctx, r.db, id)
}

// ListConversationsForUser returns non-public conversations the user has
// joined, most recently active first.
func (r *ConversationRepo) ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	return listConversations(ctx, r.db, `SELECT `+conversationColumns+` FROM conversations c
        JOIN conversation_members m ON m.conversation_id = c.id
        WHERE m.user_id=$1 AND m.state='active' AND c.type <> 'public'
        ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`, userID)
}

// ListInvitations returns conversations where the user is pending.
func (r *ConversationRepo) ListInvitations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return listConversations(ctx, r.db, `SELECT `+conversationColumns+` FROM conversations c
        JOIN conversation_members m ON m.conversation_id = c.id
        WHERE m.user_id=$1 AND m.state='pending'
        ORDER BY c.created_at DESC`, userID)
}

// ListPublicChannels returns every public channel.
func (r *ConversationRepo) ListPublicChannels(ctx context.Context) ([]models.Conversation, error) {
	return listConversations(ctx, r.db, `SELECT `+conversationColumns+` FROM conversations c
        WHERE c.type = 'public'
        ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`)
}

// ListAllConversations returns every conversation.
func (r *ConversationRepo) ListAllConversations(ctx context.Context) ([]models.Conversation, error) {
	return listConversations(ctx, r.db, `SELECT `+conversationColumns+` FROM conversations c
        ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`)
}

// AddPendingMembers invites users that are neither members nor already invited.
func (r *ConversationRepo) AddPendingMembers(ctx context.Context, id string, userIDs []string) (models.Conversation, error) {
	return r.mutate(ctx, id, func(tx *sqlx.Tx) (bool, error) {
		var added int64
		for _, uid := range userIDs {
			res, err := tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id, state)
                VALUES ($1, $2, 'pending') ON CONFLICT (conversation_id, user_id) DO NOTHING`, id, uid)
			if err != nil {
				return false, err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return false, err
			}
			added += n
		}
		return added > 0, nil
	})
}

// AcceptInvitation promotes a pending member. Accepting twice is a no-op.
func (r *ConversationRepo) AcceptInvitation(ctx context.Context, id string, userID string) (models.Conversation, error) {
	return r.mutate(ctx, id, func(tx *sqlx.Tx) (bool, error) {
		res, err := tx.ExecContext(ctx, `UPDATE conversation_members SET state='active', joined_at=NOW()
            WHERE conversation_id=$1 AND user_id=$2 AND state='pending'`, id, userID)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}

		var state string
		err = tx.GetContext(ctx, &state, `SELECT state FROM conversation_members WHERE conversation_id=$1 AND user_id=$2`, id, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotInvited
		}
		return false, err
	})
}

// DeclineInvitation drops a pending member; active members are untouched.
func (r *ConversationRepo) DeclineInvitation(ctx context.Context, id string, userID string) (models.Conversation, error) {
	return r.mutate(ctx, id, func(tx *sqlx.Tx) (bool, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM conversation_members
            WHERE conversation_id=$1 AND user_id=$2 AND state='pending'`, id, userID)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n > 0, err
	})
}

// MarkRead advances the user's read marker; it never moves backwards.
func (r *ConversationRepo) MarkRead(ctx context.Context, id string, userID string, at time.Time) (models.Conversation, error) {
	return r.mutate(ctx, id, func(tx *sqlx.Tx) (bool, error) {
		res, err := tx.ExecContext(ctx, `INSERT INTO conversation_reads (conversation_id, user_id, last_read_at)
            VALUES ($1, $2, $3)
            ON CONFLICT (conversation_id, user_id) DO UPDATE
                SET last_read_at = GREATEST(conversation_reads.last_read_at, EXCLUDED.last_read_at)
                WHERE conversation_reads.last_read_at < EXCLUDED.last_read_at`, id, userID, at)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		return n > 0, err
	})
}

// SetLastMessage replaces the summary only with a newer one.
func (r *ConversationRepo) SetLastMessage(ctx context.Context, id string, summary models.MessageSummary) (models.Conversation, error) {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET
            last_message_id=$2, last_message_text=$3, last_message_sender_id=$4,
            last_message_sender_name=$5, last_message_at=$6,
            version=version+1, updated_at=NOW()
        WHERE id=$1 AND (last_message_at IS NULL OR last_message_at < $6)`,
		id, summary.MessageID, summary.Text, summary.SenderID, summary.SenderName, summary.Timestamp)
	if err != nil {
		return models.Conversation{}, mapPQError(err)
	}
	return getConversation(ctx, r.db, id)
}

// RenameConversation sets the display name.
func (r *ConversationRepo) RenameConversation(ctx context.Context, id string, name string) (models.Conversation, error) {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET name=$2, version=version+1, updated_at=NOW()
        WHERE id=$1 AND name <> $2`, id, name)
	if err != nil {
		return models.Conversation{}, mapPQError(err)
	}
	return getConversation(ctx, r.db, id)
}

// DeleteConversation removes the conversation; messages, votes, members and
// read markers cascade.
func (r *ConversationRepo) DeleteConversation(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// RemoveUserFromConversations strips the user from every membership list and
// returns the affected conversation ids.
func (r *ConversationRepo) RemoveUserFromConversations(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &ids, `DELETE FROM conversation_members WHERE user_id=$1
            RETURNING conversation_id`, userID); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `UPDATE conversations SET version=version+1, updated_at=NOW()
            WHERE id = ANY($1)`, pq.Array(ids))
		return err
	})
	return ids, err
}

// mutate locks the conversation row, applies fn and bumps the version when
// fn reports a change.
func (r *ConversationRepo) mutate(ctx context.Context, id string, fn func(tx *sqlx.Tx) (bool, error)) (models.Conversation, error) {
	var conv models.Conversation
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockConversation(ctx, tx, id); err != nil {
			return err
		}
		changed, err := fn(tx)
		if err != nil {
			return err
		}
		if changed {
			if err := bumpConversation(ctx, tx, id); err != nil {
				return err
			}
		}
		conv, err = getConversation(ctx, tx, id)
		return err
	})
	return conv, err
}

func lockConversation(ctx context.Context, tx *sqlx.Tx, id string) error {
	var locked string
	err := tx.GetContext(ctx, &locked, `SELECT id FROM conversations WHERE id=$1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConversationNotFound
	}
	return err
}

func bumpConversation(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE conversations SET version=version+1, updated_at=NOW() WHERE id=$1`, id)
	return err
}

func insertMembers(ctx context.Context, tx *sqlx.Tx, id string, userIDs []string, state string) error {
	for _, uid := range userIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id, state)
            VALUES ($1, $2, $3) ON CONFLICT (conversation_id, user_id) DO NOTHING`, id, uid, state); err != nil {
			return err
		}
	}
	return nil
}

func getConversation(ctx context.Context, q sqlx.ExtContext, id string) (models.Conversation, error) {
	convs, err := listConversations(ctx, q, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id=$1`, id)
	if err != nil {
		return models.Conversation{}, err
	}
	if len(convs) == 0 {
		return models.Conversation{}, ErrConversationNotFound
	}
	return convs[0], nil
}

// listConversations runs query and hydrates membership and read markers with
// two batched lookups, preserving the query order.
func listConversations(ctx context.Context, q sqlx.ExtContext, query string, args ...interface{}) ([]models.Conversation, error) {
	var rows []conversationRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]models.Conversation, 0, len(rows))
	if len(rows) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	var members []memberRow
	if err := selectIn(ctx, q, &members, `SELECT conversation_id, user_id, state FROM conversation_members
        WHERE conversation_id IN (?) ORDER BY joined_at ASC, user_id ASC`, ids); err != nil {
		return nil, err
	}
	var reads []readRow
	if err := selectIn(ctx, q, &reads, `SELECT conversation_id, user_id, last_read_at FROM conversation_reads
        WHERE conversation_id IN (?)`, ids); err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Conversation, len(rows))
	for _, row := range rows {
		conv := row.toModel()
		result = append(result, conv)
	}
	for i := range result {
		byID[result[i].ID] = &result[i]
	}
	for _, m := range members {
		conv, ok := byID[m.ConversationID]
		if !ok {
			continue
		}
		if m.State == memberPending {
			conv.PendingParticipants = append(conv.PendingParticipants, m.UserID)
		} else {
			conv.Participants = append(conv.Participants, m.UserID)
		}
	}
	for _, rd := range reads {
		if conv, ok := byID[rd.ConversationID]; ok {
			conv.LastRead[rd.UserID] = rd.LastReadAt
		}
	}
	return result, nil
}

func (row conversationRow) toModel() models.Conversation {
	conv := models.Conversation{
		ID:                  row.ID,
		Type:                models.ConversationType(row.Type),
		Name:                row.Name,
		CreatedBy:           row.CreatedBy,
		Participants:        []string{},
		PendingParticipants: []string{},
		LastRead:            map[string]time.Time{},
		Version:             row.Version,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
	if row.LastMessageAt.Valid {
		conv.LastMessage = &models.MessageSummary{
			MessageID:  row.LastMessageID.String,
			Text:       row.LastMessageText.String,
			SenderID:   row.LastMessageSenderID.String,
			SenderName: row.LastMessageSenderName.String,
			Timestamp:  row.LastMessageAt.Time,
		}
	}
	return conv
}
