// Package client implements the view-state facade a consuming UI keeps
// between itself and the engine: cached views, stale-response discard,
// partial merges from push events, and the connection state machine.
package client

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"mangrove/internal/models"
)

// ConnState is the live-channel connection state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// SubjectView is the client's cached copy of one votable subject. Only
// the fields the sync channel updates live here; content is fetched.
type SubjectView struct {
	ID          uuid.UUID
	SubjectType models.SubjectType
	Upvotes     int
	Downvotes   int
	VoteScore   int
}

// Sync is the client-side state holder. Responses and push events both
// funnel through it; whichever carries newer information wins, and
// stale request responses are discarded by sequence number.
type Sync struct {
	mu sync.Mutex

	seq      uint64 // last issued request sequence
	accepted uint64 // highest sequence merged so far

	state ConnState

	views       map[uuid.UUID]*SubjectView
	unreadCount int
	seenNotifs  map[uuid.UUID]bool

	// OnStateChange observes connection transitions; optional.
	OnStateChange func(from, to ConnState)

	// OnCommentCreated observes comments pushed for threads the user is
	// involved in, so an open thread view can splice them in; optional.
	OnCommentCreated func(models.Comment)
}

func NewSync() *Sync {
	return &Sync{
		views:      make(map[uuid.UUID]*SubjectView),
		seenNotifs: make(map[uuid.UUID]bool),
	}
}

// NextSeq issues a sequence number for an outgoing request. The caller
// passes it back to AcceptResponse with the response.
func (s *Sync) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// AcceptResponse merges a request's response unless a newer request has
// already been merged. Returns false when the response was discarded as
// stale: two rapid requests may complete out of order, and the earlier
// one must not clobber the later one's state.
func (s *Sync) AcceptResponse(seq uint64, views ...SubjectView) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.accepted {
		return false
	}
	s.accepted = seq
	for i := range views {
		v := views[i]
		s.views[v.ID] = &v
	}
	return true
}

// View returns a copy of the cached view, if present.
func (s *Sync) View(id uuid.UUID) (SubjectView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, ok := s.views[id]
	if !ok {
		return SubjectView{}, false
	}
	return *view, true
}

// UnreadCount returns the last replayed or pushed unread badge count.
func (s *Sync) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadCount
}

// State returns the connection state.
func (s *Sync) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState drives the connection state machine. Leaving Connected clears
// nothing: cached views survive reconnects, and the unread-count replay
// on the next connect re-anchors the badge.
func (s *Sync) SetState(to ConnState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	cb := s.OnStateChange
	s.mu.Unlock()

	if cb != nil && from != to {
		cb(from, to)
	}
}

// ApplyEvent merges one push event. Vote updates overwrite only the
// counter fields of an existing view; pushed comments register a view
// and surface through OnCommentCreated; notification events are
// deduplicated by id so at-least-once delivery never double-counts.
func (s *Sync) ApplyEvent(raw []byte) error {
	var event struct {
		Type    models.EventType `json:"type"`
		Payload json.RawMessage  `json:"payload"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return err
	}

	notify, err := s.applyLocked(event.Type, event.Payload)
	if err != nil {
		return err
	}
	if notify != nil {
		notify()
	}
	return nil
}

// applyLocked merges under the mutex and hands back any observer call
// so callbacks run without the lock held.
func (s *Sync) applyLocked(eventType models.EventType, payload json.RawMessage) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch eventType {
	case models.EventVoteUpdated:
		var update models.VoteUpdatedPayload
		if err := json.Unmarshal(payload, &update); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(update.SubjectID)
		if err != nil {
			return nil, err
		}
		view, ok := s.views[id]
		if !ok {
			view = &SubjectView{ID: id, SubjectType: update.SubjectType}
			s.views[id] = view
		}
		view.Upvotes = update.Upvotes
		view.Downvotes = update.Downvotes
		view.VoteScore = update.VoteScore

	case models.EventCommentCreated:
		var comment models.Comment
		if err := json.Unmarshal(payload, &comment); err != nil {
			return nil, err
		}
		// Register the view unless a vote event already beat the comment
		// here; that event carried the newer counters.
		if _, ok := s.views[comment.ID]; !ok {
			s.views[comment.ID] = &SubjectView{
				ID:          comment.ID,
				SubjectType: comment.SubjectType(),
				Upvotes:     comment.Upvotes,
				Downvotes:   comment.Downvotes,
				VoteScore:   comment.VoteScore,
			}
		}
		if cb := s.OnCommentCreated; cb != nil {
			return func() { cb(comment) }, nil
		}

	case models.EventUnreadCount:
		var replay models.UnreadCountPayload
		if err := json.Unmarshal(payload, &replay); err != nil {
			return nil, err
		}
		s.unreadCount = replay.Count

	case models.EventNotificationCreated:
		var notification models.Notification
		if err := json.Unmarshal(payload, &notification); err != nil {
			return nil, err
		}
		if s.seenNotifs[notification.ID] {
			return nil, nil // redelivery
		}
		s.seenNotifs[notification.ID] = true
		if !notification.IsRead {
			s.unreadCount++
		}
	}
	return nil, nil
}
