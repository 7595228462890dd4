package models

// EventType names a push event on the real-time channel.
type EventType string

const (
	EventNotificationCreated EventType = "notification.created"
	EventCommentCreated      EventType = "comment.created"
	EventVoteUpdated         EventType = "vote.updated"
	EventUnreadCount         EventType = "notification.unread-count"
)

// Event is the typed envelope pushed over a live connection.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// VoteUpdatedPayload carries the fields a vote.updated event replaces on
// the client's copy of the subject. Only counters travel; content does not.
type VoteUpdatedPayload struct {
	SubjectID   string      `json:"subjectId"`
	SubjectType SubjectType `json:"subjectType"`
	Upvotes     int         `json:"upvoteCount"`
	Downvotes   int         `json:"downvoteCount"`
	VoteScore   int         `json:"voteScore"`
}

// UnreadCountPayload is replayed to a client when it (re)connects so the
// badge state does not depend on having seen live deliveries.
type UnreadCountPayload struct {
	Count int `json:"count"`
}
