package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangrove/internal/models"
	"mangrove/internal/pagination"
)

func seedThread(t *testing.T, store *MemoryStore, n int) (uuid.UUID, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	author := &models.User{ID: uuid.New(), Username: "gator"}
	require.NoError(t, store.SaveUser(ctx, author))

	post := &models.Post{ID: uuid.New(), AuthorID: author.ID, Title: "Paging", Slug: "paging"}
	require.NoError(t, store.SavePost(ctx, post))

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		comment := &models.Comment{
			ID:        uuid.New(),
			RootID:    post.ID,
			RootKind:  models.SubjectPost,
			AuthorID:  author.ID,
			Content:   "top-level",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.SaveComment(ctx, comment))
		ids[i] = comment.ID
	}
	return post.ID, ids
}

// Twenty top-level comments at limit 10: page 2 holds exactly ranks
// 11-20 of the RECENT ordering and the meta reports two pages.
func TestGetCommentPageSecondPage(t *testing.T) {
	store := NewMemoryStore()
	postID, ids := seedThread(t, store, 20)

	params := pagination.Params{Page: 2, Limit: 10, SortBy: pagination.SortRecent}
	rows, total, err := store.GetCommentPage(context.Background(), postID, models.SubjectPost, params, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, 20, total)
	require.Len(t, rows, 10)

	// RECENT is newest-first, so page 2 is the ten oldest, themselves
	// newest-first within the page.
	for i, row := range rows {
		assert.Equal(t, ids[9-i], row.ID)
	}

	meta := pagination.NewMeta(params, total)
	assert.Equal(t, 2, meta.TotalPages)
}

func TestMarkAllReadIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	recipient := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveNotification(ctx, &models.Notification{
			ID: uuid.New(), RecipientID: recipient, Type: models.NotificationSystem,
		}))
	}

	require.NoError(t, store.MarkAllRead(ctx, recipient))
	count, err := store.UnreadCount(ctx, recipient)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	// A second sweep is a no-op, not an error.
	require.NoError(t, store.MarkAllRead(ctx, recipient))
	count, err = store.UnreadCount(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	notifications, total, err := store.GetNotifications(ctx, recipient, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	for _, n := range notifications {
		assert.True(t, n.IsRead)
	}
}
