package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"player-portal/internal/models"
)

const userColumns = `id, username, email, avatar_ref, phone, level, role, last_seen, created_at, updated_at`

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// UpsertUser inserts the user or merges non-empty fields; role never drops
// from admin. xmax = 0 identifies a fresh insert.
func (r *UserRepo) UpsertUser(ctx context.Context, user models.User) (models.User, bool, error) {
	role := models.RoleUser
	if user.Role == models.RoleAdmin {
		role = models.RoleAdmin
	}
	lastSeen := user.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}

	var row struct {
		models.User
		Inserted bool `db:"inserted"`
	}
	query := `INSERT INTO users (id, username, email, avatar_ref, phone, level, role, last_seen)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            username = COALESCE(NULLIF(EXCLUDED.username, ''), users.username),
            email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
            avatar_ref = COALESCE(NULLIF(EXCLUDED.avatar_ref, ''), users.avatar_ref),
            phone = COALESCE(NULLIF(EXCLUDED.phone, ''), users.phone),
            level = COALESCE(NULLIF(EXCLUDED.level, ''), users.level),
            role = CASE WHEN users.role = 'admin' OR EXCLUDED.role = 'admin' THEN 'admin' ELSE 'user' END,
            last_seen = GREATEST(users.last_seen, EXCLUDED.last_seen),
            updated_at = NOW()
        RETURNING ` + userColumns + `, (xmax = 0) AS inserted`
	err := r.db.GetContext(ctx, &row, query,
		user.ID, user.Username, user.Email, user.AvatarRef, user.Phone, user.Level, role, lastSeen)
	if err != nil {
		return models.User{}, false, mapPQError(err)
	}
	return row.User, row.Inserted, nil
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, id string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// ListUsers returns every user ordered by username.
func (r *UserRepo) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY username ASC`)
	return users, err
}

// BulkUsers fetches the known users among ids.
func (r *UserRepo) BulkUsers(ctx context.Context, ids []string) ([]models.User, error) {
	users := []models.User{}
	if len(ids) == 0 {
		return users, nil
	}
	err := selectIn(ctx, r.db, &users, `SELECT `+userColumns+` FROM users WHERE id IN (?)`, ids)
	return users, err
}

// UpdateProfile applies the non-nil fields of patch.
func (r *UserRepo) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `UPDATE users SET
            username = COALESCE($2, username),
            avatar_ref = COALESCE($3, avatar_ref),
            phone = COALESCE($4, phone),
            level = COALESCE($5, level),
            updated_at = NOW()
        WHERE id=$1
        RETURNING `+userColumns,
		id, patch.Username, patch.AvatarRef, patch.Phone, patch.Level)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// TouchUser records activity. Last write wins.
func (r *UserRepo) TouchUser(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen=$2 WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes the profile. Messages keep their sender id and name.
func (r *UserRepo) DeleteUser(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}
