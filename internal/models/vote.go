package models

import (
	"time"

	"github.com/google/uuid"
)

// SubjectType identifies the kind of entity a vote or comment attaches to.
type SubjectType string

const (
	SubjectPost            SubjectType = "post"
	SubjectComment         SubjectType = "comment"
	SubjectSolution        SubjectType = "solution"
	SubjectSolutionComment SubjectType = "solution_comment"
)

// Valid reports whether the subject type is one of the known kinds.
func (s SubjectType) Valid() bool {
	switch s {
	case SubjectPost, SubjectComment, SubjectSolution, SubjectSolutionComment:
		return true
	}
	return false
}

// VoteDirection is the direction a user casts: +1 or -1.
type VoteDirection int

const (
	VoteUp   VoteDirection = 1
	VoteDown VoteDirection = -1
)

// Valid reports whether the direction is +1 or -1.
func (d VoteDirection) Valid() bool {
	return d == VoteUp || d == VoteDown
}

// VoteState is the user's resulting vote on a subject after a cast.
type VoteState string

const (
	VoteStateNone VoteState = "none"
	VoteStateUp   VoteState = "up"
	VoteStateDown VoteState = "down"
)

// Vote is one row of the ledger: at most one per (subject, user).
type Vote struct {
	SubjectID   uuid.UUID     `json:"subjectId" db:"subject_id"`
	SubjectType SubjectType   `json:"subjectType" db:"subject_type"`
	UserID      uuid.UUID     `json:"userId" db:"user_id"`
	Direction   VoteDirection `json:"direction" db:"direction"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time     `json:"updatedAt" db:"updated_at"`
}

// VoteResult is what a cast returns: the caller's resulting state, the
// counter deltas derived from the ledger transition, and the subject's
// updated counters.
type VoteResult struct {
	State         VoteState `json:"state"`
	UpvoteDelta   int       `json:"upvoteDelta"`
	DownvoteDelta int       `json:"downvoteDelta"`
	Upvotes       int       `json:"upvoteCount"`
	Downvotes     int       `json:"downvoteCount"`
	VoteScore     int       `json:"voteScore"`
}
