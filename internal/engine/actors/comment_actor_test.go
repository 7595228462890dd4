package actors

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangrove/internal/models"
	"mangrove/internal/pagination"
	"mangrove/internal/utils"
)

func TestCommentActorCreateEditDelete(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "gator")
	post := f.post(t, author)
	pid := f.spawnCommentActor(nil)

	created := f.request(t, pid, &CreateCommentMsg{
		RootID:   post.ID,
		RootKind: models.SubjectPost,
		AuthorID: author.ID,
		Content:  "First!",
	}).(*models.Comment)
	assert.Equal(t, "First!", created.Content)
	assert.Equal(t, "gator", created.AuthorUsername)

	edited := f.request(t, pid, &EditCommentMsg{
		CommentID: created.ID,
		AuthorID:  author.ID,
		Content:   "First! (edited for clarity)",
	}).(*models.Comment)
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)

	status := f.request(t, pid, &DeleteCommentMsg{
		CommentID: created.ID,
		AuthorID:  author.ID,
	}).(*models.StatusResponse)
	assert.True(t, status.Success)

	// Soft delete redacts but keeps the row.
	fetched := f.request(t, pid, &GetCommentMsg{CommentID: created.ID}).(*models.Comment)
	assert.True(t, fetched.IsDeleted)
	assert.Equal(t, models.RedactedContent, fetched.Content)
}

func TestCommentActorRejectsForeignParent(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "gator")
	postA := f.post(t, author)
	postB := f.post(t, author)
	pid := f.spawnCommentActor(nil)

	onA := f.request(t, pid, &CreateCommentMsg{
		RootID: postA.ID, RootKind: models.SubjectPost,
		AuthorID: author.ID, Content: "on post A",
	}).(*models.Comment)

	result := f.request(t, pid, &CreateCommentMsg{
		RootID: postB.ID, RootKind: models.SubjectPost,
		ParentID: &onA.ID, AuthorID: author.ID, Content: "wrong thread",
	})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrValidation, appErr.Code)
}

func TestCommentActorLockedPostForbidden(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "gator")
	post := f.post(t, author)
	post.IsLocked = true
	require.NoError(t, f.store.UpdatePost(context.Background(), post))
	pid := f.spawnCommentActor(nil)

	result := f.request(t, pid, &CreateCommentMsg{
		RootID: post.ID, RootKind: models.SubjectPost,
		AuthorID: author.ID, Content: "too late",
	})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrForbidden, appErr.Code)
}

func TestCommentActorOnlyAuthorMayEdit(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "gator")
	other := f.user(t, "heron")
	post := f.post(t, author)
	pid := f.spawnCommentActor(nil)

	created := f.request(t, pid, &CreateCommentMsg{
		RootID: post.ID, RootKind: models.SubjectPost,
		AuthorID: author.ID, Content: "mine",
	}).(*models.Comment)

	result := f.request(t, pid, &EditCommentMsg{
		CommentID: created.ID, AuthorID: other.ID, Content: "hijacked",
	})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrForbidden, appErr.Code)
}

func TestCommentActorReplyNotification(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "gator")
	replier := f.user(t, "heron")
	post := f.post(t, author)
	notificationPID := f.spawnNotificationActor()
	pid := f.spawnCommentActor(notificationPID)

	top := f.request(t, pid, &CreateCommentMsg{
		RootID: post.ID, RootKind: models.SubjectPost,
		AuthorID: author.ID, Content: "top-level",
	}).(*models.Comment)

	f.request(t, pid, &CreateCommentMsg{
		RootID: post.ID, RootKind: models.SubjectPost,
		ParentID: &top.ID, AuthorID: replier.ID, Content: "replying",
	})

	require.Eventually(t, func() bool {
		notifications, _, err := f.store.GetNotifications(context.Background(), author.ID, 0, 10)
		if err != nil {
			return false
		}
		for _, n := range notifications {
			if n.Type == models.NotificationReply {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// The parent author's live view gets the comment itself too.
	pushed := f.sink.eventsFor(author.ID, models.EventCommentCreated)
	require.Len(t, pushed, 1)
	assert.Equal(t, "replying", pushed[0].Payload.(*models.Comment).Content)
}

func TestCommentActorMentionNotification(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "gator")
	mentioned := f.user(t, "heron")
	post := f.post(t, author)
	notificationPID := f.spawnNotificationActor()
	pid := f.spawnCommentActor(notificationPID)

	f.request(t, pid, &CreateCommentMsg{
		RootID: post.ID, RootKind: models.SubjectPost,
		AuthorID: author.ID, Content: "paging @heron and @nobody_here",
	})

	require.Eventually(t, func() bool {
		notifications, _, err := f.store.GetNotifications(context.Background(), mentioned.ID, 0, 10)
		if err != nil || len(notifications) != 1 {
			return false
		}
		return notifications[0].Type == models.NotificationMention
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCommentActorSelfReplyDoesNotNotify(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "gator")
	post := f.post(t, author)
	notificationPID := f.spawnNotificationActor()
	pid := f.spawnCommentActor(notificationPID)

	top := f.request(t, pid, &CreateCommentMsg{
		RootID: post.ID, RootKind: models.SubjectPost,
		AuthorID: author.ID, Content: "talking",
	}).(*models.Comment)
	f.request(t, pid, &CreateCommentMsg{
		RootID: post.ID, RootKind: models.SubjectPost,
		ParentID: &top.ID, AuthorID: author.ID, Content: "to myself",
	})

	// Give async dispatch a moment, then confirm nothing arrived.
	time.Sleep(100 * time.Millisecond)
	count, err := f.store.UnreadCount(context.Background(), author.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCommentActorGetThread(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "gator")
	post := f.post(t, author)
	pid := f.spawnCommentActor(nil)

	top := f.request(t, pid, &CreateCommentMsg{
		RootID: post.ID, RootKind: models.SubjectPost,
		AuthorID: author.ID, Content: "top",
	}).(*models.Comment)
	reply := f.request(t, pid, &CreateCommentMsg{
		RootID: post.ID, RootKind: models.SubjectPost,
		ParentID: &top.ID, AuthorID: author.ID, Content: "nested",
	}).(*models.Comment)

	page := f.request(t, pid, &GetThreadMsg{
		RootID:   post.ID,
		RootKind: models.SubjectPost,
		Params:   pagination.Params{Page: 1, Limit: 20, SortBy: pagination.SortRecent},
	}).(*ThreadPageReply)

	require.Len(t, page.Forest.Roots, 1)
	assert.Equal(t, top.ID, page.Forest.Roots[0])
	require.Contains(t, page.Forest.Nodes, reply.ID)
	assert.Equal(t, []uuid.UUID{reply.ID}, page.Forest.Nodes[top.ID].Replies)
	assert.Equal(t, 1, page.Meta.Total)
}
