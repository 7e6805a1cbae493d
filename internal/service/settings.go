package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"player-portal/internal/models"
	"player-portal/internal/repositories"
)

// Settings are the knobs shared by all services.
type Settings struct {
	OnlineWindow time.Duration
	Location     *time.Location
	AdminUserIDs []string
	AdminEmails  []string
	Now          func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.OnlineWindow <= 0 {
		s.OnlineWindow = 30 * time.Second
	}
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

func (s Settings) isBootstrapAdmin(identity models.Identity) bool {
	for _, id := range s.AdminUserIDs {
		if id != "" && id == identity.UserID {
			return true
		}
	}
	if identity.Email == "" {
		return false
	}
	for _, email := range s.AdminEmails {
		if strings.EqualFold(strings.TrimSpace(email), identity.Email) {
			return true
		}
	}
	return false
}

func requireAdmin(ctx context.Context, users repositories.UserRepository, actorID string) (models.User, error) {
	actor, err := users.GetUser(ctx, actorID)
	if err != nil {
		return models.User{}, err
	}
	if !actor.IsAdmin() {
		return models.User{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return actor, nil
}

// usernames maps ids to usernames for the users that still exist.
func usernames(ctx context.Context, users repositories.UserRepository, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	found, err := users.BulkUsers(ctx, dedupe(ids))
	if err != nil {
		return nil, err
	}
	for _, u := range found {
		names[u.ID] = u.Username
	}
	return names, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
