package presence

import (
	"context"
	"time"

	"player-portal/internal/repositories"
)

// StoreTracker falls back to the users table when Redis is not configured.
type StoreTracker struct {
	users repositories.UserRepository
}

func NewStoreTracker(users repositories.UserRepository) *StoreTracker {
	return &StoreTracker{users: users}
}

func (t *StoreTracker) Touch(ctx context.Context, userID string, at time.Time) error {
	return t.users.TouchUser(ctx, userID, at)
}

func (t *StoreTracker) LastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	result := make(map[string]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	users, err := t.users.BulkUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		result[u.ID] = u.LastSeen
	}
	return result, nil
}

// Forget is a no-op: the row goes away with the user.
func (t *StoreTracker) Forget(ctx context.Context, userID string) error {
	return nil
}
