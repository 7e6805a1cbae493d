package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"player-portal/internal/models"
	"player-portal/internal/presence"
	"player-portal/internal/repositories"
)

type delivery struct {
	users []string
	all   bool
	ev    models.Event
}

type recorder struct {
	mu   sync.Mutex
	sent []delivery
}

func (r *recorder) NotifyUsers(userIDs []string, ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, delivery{users: append([]string{}, userIDs...), ev: ev})
}

func (r *recorder) NotifyAll(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, delivery{all: true, ev: ev})
}

// eventsFor returns the events userID would have received, in order.
func (r *recorder) eventsFor(userID string, eventType string) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, d := range r.sent {
		if d.ev.Type != eventType {
			continue
		}
		if d.all {
			out = append(out, d.ev)
			continue
		}
		for _, id := range d.users {
			if id == userID {
				out = append(out, d.ev)
				break
			}
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// clock runs at wall time plus an adjustable offset so store timestamps and
// service time stay comparable.
type clock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type testEnv struct {
	store    *repositories.MemoryStore
	clock    *clock
	notes    *recorder
	settings Settings
	dir      *DirectoryService
	convs    *ConversationService
	msgs     *MessageService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repositories.NewMemoryStore()
	clk := &clock{}
	notes := &recorder{}
	settings := Settings{
		OnlineWindow: 30 * time.Second,
		Location:     time.UTC,
		AdminEmails:  []string{"coach@example.com"},
		Now:          clk.Now,
	}
	tracker := presence.NewStoreTracker(store)
	log := discardLogger()

	return &testEnv{
		store:    store,
		clock:    clk,
		notes:    notes,
		settings: settings,
		dir:      NewDirectoryService(store, store, tracker, notes, settings, log),
		convs:    NewConversationService(store, store, tracker, notes, settings, log),
		msgs:     NewMessageService(store, store, store, notes, settings, log),
	}
}

func (e *testEnv) signIn(t *testing.T, id, name string) models.User {
	t.Helper()
	u, err := e.dir.UpsertUser(context.Background(), models.Identity{UserID: id, DisplayName: name, Email: id + "@example.com"})
	require.NoError(t, err)
	return u
}

func (e *testEnv) signInAdmin(t *testing.T, id string) models.User {
	t.Helper()
	u, err := e.dir.UpsertUser(context.Background(), models.Identity{UserID: id, DisplayName: "Admin", Role: models.RoleAdmin})
	require.NoError(t, err)
	require.True(t, u.IsAdmin())
	return u
}
