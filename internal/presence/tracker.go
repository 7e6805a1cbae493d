package presence

import (
	"context"
	"time"
)

// Tracker records the last time each user was seen. Online status is always
// derived from the last-seen time and a window, never stored.
type Tracker interface {
	Touch(ctx context.Context, userID string, at time.Time) error
	LastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error)
	Forget(ctx context.Context, userID string) error
}

// IsOnline reports whether lastSeen falls within window of now.
func IsOnline(lastSeen, now time.Time, window time.Duration) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) < window
}
