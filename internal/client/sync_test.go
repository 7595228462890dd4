package client

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangrove/internal/models"
)

func encode(t *testing.T, event models.Event) []byte {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return raw
}

func TestStaleResponseDiscarded(t *testing.T) {
	s := NewSync()
	id := uuid.New()

	first := s.NextSeq()
	second := s.NextSeq()

	// The later request's response lands first.
	ok := s.AcceptResponse(second, SubjectView{ID: id, VoteScore: 5})
	assert.True(t, ok)

	// The earlier response arrives late and must not clobber state.
	ok = s.AcceptResponse(first, SubjectView{ID: id, VoteScore: 2})
	assert.False(t, ok)

	view, found := s.View(id)
	require.True(t, found)
	assert.Equal(t, 5, view.VoteScore)
}

func TestVoteEventMergesCountersOnly(t *testing.T) {
	s := NewSync()
	id := uuid.New()

	seq := s.NextSeq()
	s.AcceptResponse(seq, SubjectView{
		ID: id, SubjectType: models.SubjectPost,
		Upvotes: 1, Downvotes: 0, VoteScore: 1,
	})

	raw := encode(t, models.Event{
		Type: models.EventVoteUpdated,
		Payload: models.VoteUpdatedPayload{
			SubjectID:   id.String(),
			SubjectType: models.SubjectPost,
			Upvotes:     4, Downvotes: 1, VoteScore: 3,
		},
	})
	require.NoError(t, s.ApplyEvent(raw))

	view, found := s.View(id)
	require.True(t, found)
	assert.Equal(t, 4, view.Upvotes)
	assert.Equal(t, 1, view.Downvotes)
	assert.Equal(t, 3, view.VoteScore)
	assert.Equal(t, models.SubjectPost, view.SubjectType)
}

func TestVoteEventForUnknownSubjectCreatesView(t *testing.T) {
	s := NewSync()
	id := uuid.New()

	raw := encode(t, models.Event{
		Type: models.EventVoteUpdated,
		Payload: models.VoteUpdatedPayload{
			SubjectID: id.String(), SubjectType: models.SubjectComment, VoteScore: 1, Upvotes: 1,
		},
	})
	require.NoError(t, s.ApplyEvent(raw))

	view, found := s.View(id)
	require.True(t, found)
	assert.Equal(t, 1, view.VoteScore)
}

func TestCommentEventRegistersViewAndNotifies(t *testing.T) {
	s := NewSync()
	var spliced []uuid.UUID
	s.OnCommentCreated = func(c models.Comment) {
		spliced = append(spliced, c.ID)
		// The observer runs outside the lock and may read back.
		_, _ = s.View(c.ID)
	}

	comment := models.Comment{
		ID:       uuid.New(),
		RootID:   uuid.New(),
		RootKind: models.SubjectPost,
		Content:  "pushed reply",
	}
	raw := encode(t, models.Event{Type: models.EventCommentCreated, Payload: comment})
	require.NoError(t, s.ApplyEvent(raw))

	view, found := s.View(comment.ID)
	require.True(t, found)
	assert.Equal(t, models.SubjectComment, view.SubjectType)
	assert.Equal(t, []uuid.UUID{comment.ID}, spliced)
}

func TestCommentEventKeepsNewerVoteCounters(t *testing.T) {
	s := NewSync()
	id := uuid.New()

	vote := encode(t, models.Event{
		Type: models.EventVoteUpdated,
		Payload: models.VoteUpdatedPayload{
			SubjectID: id.String(), SubjectType: models.SubjectComment, Upvotes: 3, VoteScore: 3,
		},
	})
	require.NoError(t, s.ApplyEvent(vote))

	// The comment itself arrives after a vote already updated its view;
	// the zero counters on the payload must not roll the view back.
	created := encode(t, models.Event{
		Type:    models.EventCommentCreated,
		Payload: models.Comment{ID: id, RootKind: models.SubjectPost},
	})
	require.NoError(t, s.ApplyEvent(created))

	view, found := s.View(id)
	require.True(t, found)
	assert.Equal(t, 3, view.VoteScore)
}

func TestNotificationDedupAcrossRedelivery(t *testing.T) {
	s := NewSync()
	notification := models.Notification{ID: uuid.New(), Type: models.NotificationReply}

	raw := encode(t, models.Event{Type: models.EventNotificationCreated, Payload: notification})
	require.NoError(t, s.ApplyEvent(raw))
	assert.Equal(t, 1, s.UnreadCount())

	// At-least-once delivery: the same notification arrives again.
	require.NoError(t, s.ApplyEvent(raw))
	assert.Equal(t, 1, s.UnreadCount())
}

func TestUnreadReplayOverridesLocalCount(t *testing.T) {
	s := NewSync()

	raw := encode(t, models.Event{
		Type:    models.EventNotificationCreated,
		Payload: models.Notification{ID: uuid.New()},
	})
	require.NoError(t, s.ApplyEvent(raw))
	require.Equal(t, 1, s.UnreadCount())

	// Server replay on reconnect is authoritative.
	replay := encode(t, models.Event{
		Type:    models.EventUnreadCount,
		Payload: models.UnreadCountPayload{Count: 7},
	})
	require.NoError(t, s.ApplyEvent(replay))
	assert.Equal(t, 7, s.UnreadCount())
}

func TestConnectionStateMachine(t *testing.T) {
	s := NewSync()
	var transitions []string
	s.OnStateChange = func(from, to ConnState) {
		transitions = append(transitions, from.String()+">"+to.String())
	}

	assert.Equal(t, Disconnected, s.State())
	s.SetState(Connecting)
	s.SetState(Connected)
	s.SetState(Disconnected)
	s.SetState(Disconnected) // no transition, no callback

	assert.Equal(t, []string{
		"disconnected>connecting",
		"connecting>connected",
		"connected>disconnected",
	}, transitions)
}

func TestViewsSurviveReconnect(t *testing.T) {
	s := NewSync()
	id := uuid.New()
	seq := s.NextSeq()
	s.AcceptResponse(seq, SubjectView{ID: id, VoteScore: 2})

	s.SetState(Connected)
	s.SetState(Disconnected)
	s.SetState(Connecting)
	s.SetState(Connected)

	view, found := s.View(id)
	require.True(t, found)
	assert.Equal(t, 2, view.VoteScore)
}
