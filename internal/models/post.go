package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Post struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	Title          string         `json:"title" db:"title"`
	Content        string         `json:"content" db:"content"`
	Slug           string         `json:"slug" db:"slug"`
	AuthorID       uuid.UUID      `json:"authorId" db:"author_id"`
	AuthorUsername string         `json:"authorUsername" db:"author_username"`
	Tags           pq.StringArray `json:"tags" db:"tags"`
	ViewCount      int            `json:"viewCount" db:"view_count"`
	Upvotes        int            `json:"upvoteCount" db:"upvotes"`
	Downvotes      int            `json:"downvoteCount" db:"downvotes"`
	VoteScore      int            `json:"voteScore" db:"vote_score"`
	CommentCount   int            `json:"commentCount" db:"comment_count"`
	IsLocked       bool           `json:"isLocked" db:"is_locked"`
	IsDeleted      bool           `json:"isDeleted" db:"is_deleted"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time      `json:"updatedAt" db:"updated_at"`

	CurrentUserVote *string `json:"currentUserVote,omitempty" db:"current_user_vote"`
}

// Solution is a votable, commentable answer attached to a post.
type Solution struct {
	ID             uuid.UUID `json:"id" db:"id"`
	PostID         uuid.UUID `json:"postId" db:"post_id"`
	AuthorID       uuid.UUID `json:"authorId" db:"author_id"`
	AuthorUsername string    `json:"authorUsername" db:"author_username"`
	Content        string    `json:"content" db:"content"`
	Upvotes        int       `json:"upvoteCount" db:"upvotes"`
	Downvotes      int       `json:"downvoteCount" db:"downvotes"`
	VoteScore      int       `json:"voteScore" db:"vote_score"`
	CommentCount   int       `json:"commentCount" db:"comment_count"`
	IsDeleted      bool      `json:"isDeleted" db:"is_deleted"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`

	CurrentUserVote *string `json:"currentUserVote,omitempty" db:"current_user_vote"`
}
