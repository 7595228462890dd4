package actors

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"mangrove/internal/database"
	"mangrove/internal/models"
	"mangrove/internal/utils"
)

// recordingSink captures events instead of pushing them to websockets.
type recordingSink struct {
	mu        sync.Mutex
	events    []sentEvent
	connected map[uuid.UUID]bool
}

type sentEvent struct {
	UserID uuid.UUID
	Event  *models.Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{connected: make(map[uuid.UUID]bool)}
}

func (s *recordingSink) SendEvent(targetUserID uuid.UUID, event *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sentEvent{UserID: targetUserID, Event: event})
}

func (s *recordingSink) IsConnected(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected[userID]
}

func (s *recordingSink) eventsFor(userID uuid.UUID, eventType models.EventType) []*models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Event
	for _, sent := range s.events {
		if sent.UserID == userID && sent.Event.Type == eventType {
			out = append(out, sent.Event)
		}
	}
	return out
}

type fixture struct {
	system  *actor.ActorSystem
	store   *database.MemoryStore
	sink    *recordingSink
	metrics *utils.MetricsCollector
	logger  *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		system:  actor.NewActorSystem(),
		store:   database.NewMemoryStore(),
		sink:    newRecordingSink(),
		metrics: utils.NewMetricsCollector(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (f *fixture) user(t *testing.T, username string) *models.User {
	t.Helper()
	user := &models.User{ID: uuid.New(), Username: username}
	require.NoError(t, f.store.SaveUser(context.Background(), user))
	return user
}

func (f *fixture) post(t *testing.T, author *models.User) *models.Post {
	t.Helper()
	post := &models.Post{
		ID:       uuid.New(),
		Title:    "How do alligators sleep?",
		Content:  "Asking for a friend.",
		Slug:     "how-do-alligators-sleep-" + uuid.NewString()[:8],
		AuthorID: author.ID,
	}
	require.NoError(t, f.store.SavePost(context.Background(), post))
	return post
}

func (f *fixture) spawnNotificationActor() *actor.PID {
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewNotificationActor(f.store, f.sink, f.metrics, f.logger)
	})
	return f.system.Root.Spawn(props)
}

func (f *fixture) spawnVoteActor(notificationPID *actor.PID) *actor.PID {
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewVoteActor(f.store, f.sink, notificationPID, f.metrics, f.logger)
	})
	return f.system.Root.Spawn(props)
}

func (f *fixture) spawnCommentActor(notificationPID *actor.PID) *actor.PID {
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewCommentActor(f.store, f.sink, notificationPID, f.metrics, f.logger)
	})
	return f.system.Root.Spawn(props)
}

func (f *fixture) request(t *testing.T, pid *actor.PID, msg any) any {
	t.Helper()
	future := f.system.Root.RequestFuture(pid, msg, 5*time.Second)
	result, err := future.Result()
	require.NoError(t, err)
	return result
}
