package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"player-portal/internal/models"
	"player-portal/internal/observability"
	"player-portal/internal/presence"
	"player-portal/internal/repositories"
)

// Connections reports how many realtime connections a user holds open.
type Connections interface {
	Connections(userID string) int
}

// DirectoryService owns user profiles and presence.
type DirectoryService struct {
	users    repositories.UserRepository
	convs    repositories.ConversationRepository
	tracker  presence.Tracker
	conns    Connections
	notify   *broadcaster
	settings Settings
	log      *slog.Logger

	mu     sync.Mutex
	online map[string]bool
}

func NewDirectoryService(
	users repositories.UserRepository,
	convs repositories.ConversationRepository,
	tracker presence.Tracker,
	notifier Notifier,
	settings Settings,
	log *slog.Logger,
) *DirectoryService {
	return &DirectoryService{
		users:    users,
		convs:    convs,
		tracker:  tracker,
		notify:   newBroadcaster(notifier, log),
		settings: settings.withDefaults(),
		log:      log,
		online:   make(map[string]bool),
	}
}

// UpsertUser provisions the identity on first sign-in and merges profile
// attributes on later ones. Configured admins are provisioned as admin; a
// role is never lowered.
func (s *DirectoryService) UpsertUser(ctx context.Context, identity models.Identity) (models.User, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return models.User{}, fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}

	role := models.RoleUser
	if identity.Role == models.RoleAdmin || s.settings.isBootstrapAdmin(identity) {
		role = models.RoleAdmin
	}
	in := models.User{
		ID:        identity.UserID,
		Username:  defaultUsername(identity),
		Email:     identity.Email,
		AvatarRef: identity.AvatarRef,
		Role:      role,
		LastSeen:  s.settings.Now().UTC(),
	}

	type upserted struct {
		user    models.User
		created bool
	}
	res, err := withRetry(ctx, s.log, "directory.upsert_user", func() (upserted, error) {
		u, created, err := s.users.UpsertUser(ctx, in)
		return upserted{u, created}, err
	})
	if err != nil {
		return models.User{}, err
	}

	user := res.user
	if res.created {
		s.log.InfoContext(ctx, "user provisioned",
			slog.String("op", "directory.upsert_user"),
			slog.String("user_id", user.ID),
			slog.String("role", string(user.Role)))
		s.notify.directory(ctx, models.Event{Type: models.EventUserUpdated, User: userPtr(s.annotateOne(user, user.LastSeen)), UserID: user.ID})
	}
	s.TouchPresence(ctx, user.ID)
	return s.annotateOne(user, s.settings.Now()), nil
}

// Authenticate resolves the caller, provisioning unknown identities.
func (s *DirectoryService) Authenticate(ctx context.Context, identity models.Identity) (models.User, error) {
	user, err := s.users.GetUser(ctx, identity.UserID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return s.UpsertUser(ctx, identity)
	}
	if err != nil {
		return models.User{}, err
	}
	if identity.Role == models.RoleAdmin && !user.IsAdmin() {
		return s.UpsertUser(ctx, identity)
	}
	s.TouchPresence(ctx, user.ID)
	user.LastSeen = s.settings.Now().UTC()
	return s.annotateOne(user, s.settings.Now()), nil
}

// TouchPresence records activity. Failures are logged and dropped; an
// offline to online flip is announced to the directory.
func (s *DirectoryService) TouchPresence(ctx context.Context, userID string) {
	now := s.settings.Now().UTC()
	if err := s.tracker.Touch(ctx, userID, now); err != nil {
		s.log.WarnContext(ctx, "presence touch failed",
			slog.String("op", "directory.touch"),
			slog.String("user_id", userID),
			slog.Any("error", err))
		return
	}

	s.mu.Lock()
	wasOnline := s.online[userID]
	s.online[userID] = true
	s.mu.Unlock()
	if wasOnline {
		return
	}

	user := models.User{ID: userID, LastSeen: now, IsOnline: true}
	if stored, err := s.users.GetUser(ctx, userID); err == nil {
		user = stored
		user.LastSeen = now
		user.IsOnline = true
	}
	s.notify.directory(ctx, models.Event{Type: models.EventUserPresence, User: &user, UserID: userID})
}

// ListUsers returns everyone except the caller with derived presence.
func (s *DirectoryService) ListUsers(ctx context.Context, callerID string) ([]models.User, error) {
	all, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(all))
	for _, u := range all {
		if u.ID != callerID {
			out = append(out, u)
		}
	}
	return s.annotate(ctx, out)
}

// ListAllUsers is the admin overview of the directory.
func (s *DirectoryService) ListAllUsers(ctx context.Context, actorID string) ([]models.User, error) {
	if _, err := requireAdmin(ctx, s.users, actorID); err != nil {
		return nil, err
	}
	all, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return s.annotate(ctx, all)
}

func (s *DirectoryService) GetUser(ctx context.Context, userID string) (models.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	annotated, err := s.annotate(ctx, []models.User{user})
	if err != nil {
		return models.User{}, err
	}
	return annotated[0], nil
}

// UpdateProfile edits the caller's own profile. id and role are not
// editable here.
func (s *DirectoryService) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) (models.User, error) {
	if patch.ID != nil || patch.Role != nil {
		return models.User{}, fmt.Errorf("%w: id and role cannot be changed", ErrInvalidArgument)
	}
	if patch.Empty() {
		return models.User{}, fmt.Errorf("%w: nothing to update", ErrInvalidArgument)
	}
	if patch.Username != nil {
		name := strings.TrimSpace(*patch.Username)
		if name == "" {
			return models.User{}, fmt.Errorf("%w: username must not be empty", ErrInvalidArgument)
		}
		patch.Username = &name
	}

	user, err := withRetry(ctx, s.log, "directory.update_profile", func() (models.User, error) {
		return s.users.UpdateProfile(ctx, userID, patch)
	})
	if err != nil {
		return models.User{}, err
	}
	user = s.annotateOne(user, s.settings.Now())
	s.notify.directory(ctx, models.Event{Type: models.EventUserUpdated, User: &user, UserID: user.ID})
	return user, nil
}

// DeleteUser strips the user from every conversation and removes the
// profile. Messages keep their sender id and name.
func (s *DirectoryService) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return err
	}

	affected, err := withRetry(ctx, s.log, "directory.delete_user", func() ([]string, error) {
		return s.convs.RemoveUserFromConversations(ctx, userID)
	})
	if err != nil {
		return err
	}
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return err
	}
	if err := s.tracker.Forget(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "presence forget failed",
			slog.String("op", "directory.delete_user"),
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
	s.mu.Lock()
	delete(s.online, userID)
	s.mu.Unlock()

	s.log.InfoContext(ctx, "user deleted",
		slog.String("op", "directory.delete_user"),
		slog.String("user_id", userID),
		slog.Int("conversations", len(affected)))

	s.notify.directory(ctx, models.Event{Type: models.EventUserDeleted, UserID: userID})
	for _, id := range affected {
		conv, err := s.convs.GetConversation(ctx, id)
		if err != nil {
			continue
		}
		s.notify.conversation(ctx, conv, models.Event{Type: models.EventConversationUpdated, Conversation: &conv, ConversationID: conv.ID})
	}
	return nil
}

// WatchConnections makes the sweeper keep users with an open connection
// online even when their last keep-alive is older than the window.
func (s *DirectoryService) WatchConnections(conns Connections) {
	s.mu.Lock()
	s.conns = conns
	s.mu.Unlock()
}

// RunPresenceSweeper announces online to offline flips until ctx is done.
func (s *DirectoryService) RunPresenceSweeper(ctx context.Context) {
	interval := s.settings.OnlineWindow / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepPresence(ctx)
		}
	}
}

// SweepPresence runs one sweep and returns the users that went offline.
func (s *DirectoryService) SweepPresence(ctx context.Context) []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		observability.SetUsersOnline(0)
		return nil
	}

	seen, err := s.tracker.LastSeen(ctx, ids)
	if err != nil {
		s.log.WarnContext(ctx, "presence sweep failed", slog.String("op", "directory.sweep"), slog.Any("error", err))
		return nil
	}

	now := s.settings.Now()
	s.mu.Lock()
	conns := s.conns
	s.mu.Unlock()

	var stale []string
	for _, id := range ids {
		if presence.IsOnline(seen[id], now, s.settings.OnlineWindow) {
			continue
		}
		if conns != nil && conns.Connections(id) > 0 {
			s.refreshConnected(ctx, id, now)
			continue
		}
		stale = append(stale, id)
	}

	var offline []string
	s.mu.Lock()
	for _, id := range stale {
		delete(s.online, id)
		offline = append(offline, id)
	}
	observability.SetUsersOnline(len(s.online))
	s.mu.Unlock()

	for _, id := range offline {
		user := models.User{ID: id, LastSeen: seen[id], IsOnline: false}
		s.notify.directory(ctx, models.Event{Type: models.EventUserPresence, User: &user, UserID: id})
	}
	return offline
}

// refreshConnected stamps a connected user's last-seen so readers keep
// seeing them online between keep-alives.
func (s *DirectoryService) refreshConnected(ctx context.Context, userID string, now time.Time) {
	if err := s.tracker.Touch(ctx, userID, now.UTC()); err != nil {
		s.log.WarnContext(ctx, "presence refresh failed",
			slog.String("op", "directory.sweep"),
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
}

// annotate fills IsOnline from the freshest of the stored and tracked
// last-seen times.
func (s *DirectoryService) annotate(ctx context.Context, users []models.User) ([]models.User, error) {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	seen, err := s.tracker.LastSeen(ctx, ids)
	if err != nil {
		s.log.WarnContext(ctx, "presence lookup failed", slog.String("op", "directory.annotate"), slog.Any("error", err))
		seen = map[string]time.Time{}
	}

	now := s.settings.Now()
	for i := range users {
		if t, ok := seen[users[i].ID]; ok && t.After(users[i].LastSeen) {
			users[i].LastSeen = t
		}
		users[i] = s.annotateOne(users[i], now)
	}
	return users, nil
}

func (s *DirectoryService) annotateOne(u models.User, now time.Time) models.User {
	u.IsOnline = u.Online(now, s.settings.OnlineWindow)
	return u
}

func defaultUsername(identity models.Identity) string {
	if name := strings.TrimSpace(identity.DisplayName); name != "" {
		return name
	}
	if at := strings.Index(identity.Email, "@"); at > 0 {
		return identity.Email[:at]
	}
	return ""
}

func userPtr(u models.User) *models.User {
	return &u
}
