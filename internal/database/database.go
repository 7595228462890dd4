// internal/database/database.go
package database

import (
	"context"

	"github.com/google/uuid"

	"mangrove/internal/models"
	"mangrove/internal/pagination"
)

// Store is the common interface over content and ledger storage. The
// Postgres implementation is the production backend; the memory
// implementation backs tests and the simulator's offline mode.
type Store interface {
	Close(ctx context.Context) error

	// User methods
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error

	// Post methods
	SavePost(ctx context.Context, post *models.Post) error
	GetPost(ctx context.Context, id uuid.UUID, requestingUserID uuid.UUID) (*models.Post, error)
	UpdatePost(ctx context.Context, post *models.Post) error
	IncrementViewCount(ctx context.Context, id uuid.UUID) error
	GetRecentPosts(ctx context.Context, params pagination.Params, requestingUserID uuid.UUID) ([]*models.Post, int, error)

	// Solution methods
	SaveSolution(ctx context.Context, solution *models.Solution) error
	GetSolution(ctx context.Context, id uuid.UUID, requestingUserID uuid.UUID) (*models.Solution, error)

	// Comment methods
	SaveComment(ctx context.Context, comment *models.Comment) error
	GetComment(ctx context.Context, id uuid.UUID) (*models.Comment, error)
	UpdateCommentContent(ctx context.Context, id, authorID uuid.UUID, content string) (*models.Comment, error)
	SoftDeleteComment(ctx context.Context, id, authorID uuid.UUID) error
	// GetCommentPage returns one page of top-level comments for a root
	// plus every fetched descendant, and the total count of top-level
	// comments under the same filter predicate as the page query.
	GetCommentPage(ctx context.Context, rootID uuid.UUID, rootKind models.SubjectType, params pagination.Params, requestingUserID uuid.UUID) ([]*models.Comment, int, error)

	// Ledger methods
	CastVote(ctx context.Context, userID, subjectID uuid.UUID, subjectType models.SubjectType, direction models.VoteDirection) (*models.VoteResult, error)
	GetVoteState(ctx context.Context, userID, subjectID uuid.UUID, subjectType models.SubjectType) (models.VoteState, error)
}

// NotificationInbox is the durable notification store. Rows are created
// once; only the read flag ever changes.
type NotificationInbox interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	GetNotifications(ctx context.Context, recipientID uuid.UUID, skip, take int) ([]*models.Notification, int, error)
	UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, id, recipientID uuid.UUID) error
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) error
}
