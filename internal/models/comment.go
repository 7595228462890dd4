package models

import (
	"time"

	"github.com/google/uuid"
)

// RedactedContent replaces the body of a soft-deleted comment. The row
// stays addressable so reply subtrees keep their context.
const RedactedContent = "[deleted]"

type Comment struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	RootID         uuid.UUID   `json:"rootId" db:"root_id"`
	RootKind       SubjectType `json:"rootKind" db:"root_kind"`
	ParentID       *uuid.UUID  `json:"parentId,omitempty" db:"parent_id"`
	Content        string      `json:"content" db:"content"`
	AuthorID       uuid.UUID   `json:"authorId" db:"author_id"`
	AuthorUsername string      `json:"authorUsername" db:"author_username"`
	Upvotes        int         `json:"upvoteCount" db:"upvotes"`
	Downvotes      int         `json:"downvoteCount" db:"downvotes"`
	VoteScore      int         `json:"voteScore" db:"vote_score"`
	ReplyCount     int         `json:"replyCount" db:"reply_count"`
	IsPinned       bool        `json:"isPinned" db:"is_pinned"`
	IsDeleted      bool        `json:"isDeleted" db:"is_deleted"`
	IsEdited       bool        `json:"isEdited" db:"is_edited"`
	EditedAt       *time.Time  `json:"editedAt,omitempty" db:"edited_at"`
	CreatedAt      time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time   `json:"updatedAt" db:"updated_at"`

	CurrentUserVote *string `json:"currentUserVote,omitempty" db:"current_user_vote"`
}

// SubjectType returns the ledger subject type for votes on this comment,
// which depends on what kind of root the comment hangs off.
func (c *Comment) SubjectType() SubjectType {
	if c.RootKind == SubjectSolution {
		return SubjectSolutionComment
	}
	return SubjectComment
}
