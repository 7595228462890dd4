package actors

import (
	stdctx "context"
	"log/slog"
	"regexp"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"

	"mangrove/internal/database"
	"mangrove/internal/models"
	"mangrove/internal/pagination"
	"mangrove/internal/threads"
	"mangrove/internal/utils"
)

// Message types for CommentActor
type (
	CreateCommentMsg struct {
		RootID   uuid.UUID          `json:"rootId"`
		RootKind models.SubjectType `json:"rootKind"`
		ParentID *uuid.UUID         `json:"parentId,omitempty"`
		AuthorID uuid.UUID          `json:"authorId"`
		Content  string             `json:"content"`
	}

	EditCommentMsg struct {
		CommentID uuid.UUID `json:"commentId"`
		AuthorID  uuid.UUID `json:"authorId"`
		Content   string    `json:"content"`
	}

	DeleteCommentMsg struct {
		CommentID uuid.UUID `json:"commentId"`
		AuthorID  uuid.UUID `json:"authorId"`
	}

	GetCommentMsg struct {
		CommentID uuid.UUID `json:"commentId"`
	}

	GetThreadMsg struct {
		RootID           uuid.UUID          `json:"rootId"`
		RootKind         models.SubjectType `json:"rootKind"`
		Params           pagination.Params  `json:"params"`
		RepliesPerNode   int                `json:"repliesPerNode"`
		RequestingUserID uuid.UUID          `json:"requestingUserId,omitempty"`
	}

	// ThreadPageReply is the assembled forest for one page of a thread.
	ThreadPageReply struct {
		Forest *threads.Forest `json:"forest"`
		Meta   pagination.Meta `json:"meta"`
	}
)

const maxCommentLength = 10000

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_]{2,50})`)

// CommentActor manages comment writes and thread assembly for one engine
// instance, and originates the notifications a new comment implies.
type CommentActor struct {
	store           database.Store
	sink            EventSink
	notificationPID *actor.PID
	metrics         *utils.MetricsCollector
	logger          *slog.Logger
}

func NewCommentActor(store database.Store, sink EventSink, notificationPID *actor.PID, metrics *utils.MetricsCollector, logger *slog.Logger) actor.Actor {
	return &CommentActor{
		store:           store,
		sink:            sink,
		notificationPID: notificationPID,
		metrics:         metrics,
		logger:          logger,
	}
}

func (a *CommentActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		a.logger.Info("comment actor started", "pid", context.Self().String())

	case *CreateCommentMsg:
		a.handleCreateComment(context, msg)

	case *EditCommentMsg:
		a.handleEditComment(context, msg)

	case *DeleteCommentMsg:
		a.handleDeleteComment(context, msg)

	case *GetCommentMsg:
		ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 3*time.Second)
		defer cancel()
		comment, err := a.store.GetComment(ctx, msg.CommentID)
		if err != nil {
			context.Respond(err)
			return
		}
		context.Respond(comment)

	case *GetThreadMsg:
		a.handleGetThread(context, msg)
	}
}

func (a *CommentActor) handleCreateComment(context actor.Context, msg *CreateCommentMsg) {
	startTime := time.Now()

	if msg.Content == "" {
		context.Respond(utils.NewValidationError("comment content cannot be empty"))
		return
	}
	if len(msg.Content) > maxCommentLength {
		context.Respond(utils.NewValidationError("comment content too long"))
		return
	}
	if msg.RootKind != models.SubjectPost && msg.RootKind != models.SubjectSolution {
		context.Respond(utils.NewValidationError("comments attach to posts or solutions"))
		return
	}

	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 5*time.Second)
	defer cancel()

	author, err := a.store.GetUser(ctx, msg.AuthorID)
	if err != nil {
		context.Respond(err)
		return
	}

	// Replies must attach under the same root; a parent from another
	// thread is a malformed request, not a tree repair job.
	var parent *models.Comment
	if msg.ParentID != nil {
		parent, err = a.store.GetComment(ctx, *msg.ParentID)
		if err != nil {
			context.Respond(err)
			return
		}
		if parent.RootID != msg.RootID || parent.RootKind != msg.RootKind {
			context.Respond(utils.NewValidationError("parent comment belongs to a different thread"))
			return
		}
	}

	if msg.RootKind == models.SubjectPost {
		post, err := a.store.GetPost(ctx, msg.RootID, uuid.Nil)
		if err != nil {
			context.Respond(err)
			return
		}
		if post.IsDeleted {
			context.Respond(utils.NewNotFoundError("post"))
			return
		}
		if post.IsLocked {
			context.Respond(utils.NewForbiddenError("post is locked"))
			return
		}
	} else {
		if _, err := a.store.GetSolution(ctx, msg.RootID, uuid.Nil); err != nil {
			context.Respond(err)
			return
		}
	}

	comment := &models.Comment{
		ID:             uuid.New(),
		RootID:         msg.RootID,
		RootKind:       msg.RootKind,
		ParentID:       msg.ParentID,
		Content:        msg.Content,
		AuthorID:       msg.AuthorID,
		AuthorUsername: author.Username,
	}
	if err := a.store.SaveComment(ctx, comment); err != nil {
		context.Respond(err)
		return
	}

	a.metrics.RecordComment()
	a.metrics.AddOperationLatency("create_comment", time.Since(startTime))

	recipients := a.dispatchCommentNotifications(ctx, context, comment, parent, author)

	// Interested parties also get the comment itself pushed, so an open
	// thread view can splice it in without a refetch.
	event := &models.Event{Type: models.EventCommentCreated, Payload: comment}
	for recipient := range recipients {
		if recipient != comment.AuthorID {
			a.sink.SendEvent(recipient, event)
		}
	}

	context.Respond(comment)
}

// dispatchCommentNotifications fans out the reply, root-author, and
// mention notifications a new comment implies, and returns the set of
// users touched. Each recipient gets at most one notification per
// comment; the reply edge wins over the rest.
func (a *CommentActor) dispatchCommentNotifications(ctx stdctx.Context, context actor.Context, comment *models.Comment, parent *models.Comment, author *models.User) map[uuid.UUID]bool {
	notified := map[uuid.UUID]bool{comment.AuthorID: true}
	if a.notificationPID == nil {
		return notified
	}
	link := subjectLink(comment.RootID, comment.RootKind)

	if parent != nil && !notified[parent.AuthorID] && !parent.IsDeleted {
		notified[parent.AuthorID] = true
		context.Send(a.notificationPID, &NotifyMsg{
			RecipientID: parent.AuthorID,
			SenderID:    &comment.AuthorID,
			Type:        models.NotificationReply,
			Title:       author.Username + " replied to your comment",
			Content:     snippet(comment.Content),
			Link:        link,
			Metadata:    map[string]string{"commentId": comment.ID.String()},
		})
	}

	if parent == nil {
		if rootAuthor, ok := a.rootAuthor(ctx, comment.RootID, comment.RootKind); ok && !notified[rootAuthor] {
			notified[rootAuthor] = true
			context.Send(a.notificationPID, &NotifyMsg{
				RecipientID: rootAuthor,
				SenderID:    &comment.AuthorID,
				Type:        models.NotificationComment,
				Title:       author.Username + " commented on your post",
				Content:     snippet(comment.Content),
				Link:        link,
				Metadata:    map[string]string{"commentId": comment.ID.String()},
			})
		}
	}

	for _, username := range mentionedUsernames(comment.Content) {
		mentioned, err := a.store.GetUserByUsername(ctx, username)
		if err != nil {
			continue // unknown @handle, not an error
		}
		if notified[mentioned.ID] {
			continue
		}
		notified[mentioned.ID] = true
		context.Send(a.notificationPID, &NotifyMsg{
			RecipientID: mentioned.ID,
			SenderID:    &comment.AuthorID,
			Type:        models.NotificationMention,
			Title:       author.Username + " mentioned you",
			Content:     snippet(comment.Content),
			Link:        link,
			Metadata:    map[string]string{"commentId": comment.ID.String()},
		})
	}

	return notified
}

func (a *CommentActor) handleEditComment(context actor.Context, msg *EditCommentMsg) {
	if msg.Content == "" {
		context.Respond(utils.NewValidationError("comment content cannot be empty"))
		return
	}
	if len(msg.Content) > maxCommentLength {
		context.Respond(utils.NewValidationError("comment content too long"))
		return
	}

	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 5*time.Second)
	defer cancel()

	comment, err := a.store.UpdateCommentContent(ctx, msg.CommentID, msg.AuthorID, msg.Content)
	if err != nil {
		context.Respond(err)
		return
	}
	context.Respond(comment)
}

func (a *CommentActor) handleDeleteComment(context actor.Context, msg *DeleteCommentMsg) {
	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 5*time.Second)
	defer cancel()

	if err := a.store.SoftDeleteComment(ctx, msg.CommentID, msg.AuthorID); err != nil {
		context.Respond(err)
		return
	}
	context.Respond(&models.StatusResponse{Success: true, Message: "comment deleted"})
}

func (a *CommentActor) handleGetThread(context actor.Context, msg *GetThreadMsg) {
	startTime := time.Now()

	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 5*time.Second)
	defer cancel()

	rows, total, err := a.store.GetCommentPage(ctx, msg.RootID, msg.RootKind, msg.Params, msg.RequestingUserID)
	if err != nil {
		context.Respond(err)
		return
	}

	repliesPerNode := msg.RepliesPerNode
	if repliesPerNode <= 0 {
		repliesPerNode = threads.DefaultRepliesPerNode
	}
	forest := threads.Build(rows, threads.Options{
		SortBy:         msg.Params.SortBy,
		RepliesPerNode: repliesPerNode,
	})

	a.metrics.AddOperationLatency("get_thread", time.Since(startTime))
	context.Respond(&ThreadPageReply{
		Forest: forest,
		Meta:   pagination.NewMeta(msg.Params, total),
	})
}

func (a *CommentActor) rootAuthor(ctx stdctx.Context, rootID uuid.UUID, rootKind models.SubjectType) (uuid.UUID, bool) {
	if rootKind == models.SubjectSolution {
		solution, err := a.store.GetSolution(ctx, rootID, uuid.Nil)
		if err != nil {
			return uuid.Nil, false
		}
		return solution.AuthorID, true
	}
	post, err := a.store.GetPost(ctx, rootID, uuid.Nil)
	if err != nil {
		return uuid.Nil, false
	}
	return post.AuthorID, true
}

func mentionedUsernames(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	var usernames []string
	for _, match := range matches {
		if !seen[match[1]] {
			seen[match[1]] = true
			usernames = append(usernames, match[1])
		}
	}
	return usernames
}

func snippet(content string) string {
	const max = 140
	if len(content) <= max {
		return content
	}
	return content[:max] + "…"
}
