package actors

import (
	stdctx "context"
	"log/slog"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"

	"mangrove/internal/database"
	"mangrove/internal/models"
	"mangrove/internal/utils"
)

// Message types for NotificationActor
type (
	NotifyMsg struct {
		RecipientID uuid.UUID               `json:"recipientId"`
		SenderID    *uuid.UUID              `json:"senderId,omitempty"`
		Type        models.NotificationType `json:"type"`
		Title       string                  `json:"title"`
		Content     string                  `json:"content"`
		Link        string                  `json:"link"`
		Metadata    map[string]string       `json:"metadata,omitempty"`
	}

	ListNotificationsMsg struct {
		RecipientID uuid.UUID `json:"recipientId"`
		Skip        int       `json:"skip"`
		Take        int       `json:"take"`
	}

	// NotificationPageReply pairs a page with the recipient's total.
	NotificationPageReply struct {
		Notifications []*models.Notification `json:"notifications"`
		Total         int                    `json:"total"`
	}

	UnreadCountMsg struct {
		RecipientID uuid.UUID `json:"recipientId"`
	}

	MarkReadMsg struct {
		NotificationID uuid.UUID `json:"notificationId"`
		RecipientID    uuid.UUID `json:"recipientId"`
	}

	MarkAllReadMsg struct {
		RecipientID uuid.UUID `json:"recipientId"`
	}
)

// NotificationActor owns the durable inbox and live delivery. Persist
// comes first: a notification exists once the inbox write succeeds, and
// the websocket push is best-effort on top of that.
type NotificationActor struct {
	inbox   database.NotificationInbox
	sink    EventSink
	metrics *utils.MetricsCollector
	logger  *slog.Logger
}

func NewNotificationActor(inbox database.NotificationInbox, sink EventSink, metrics *utils.MetricsCollector, logger *slog.Logger) actor.Actor {
	return &NotificationActor{
		inbox:   inbox,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
	}
}

func (a *NotificationActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		a.logger.Info("notification actor started", "pid", context.Self().String())

	case *NotifyMsg:
		a.handleNotify(context, msg)

	case *ListNotificationsMsg:
		ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 5*time.Second)
		defer cancel()
		notifications, total, err := a.inbox.GetNotifications(ctx, msg.RecipientID, msg.Skip, msg.Take)
		if err != nil {
			context.Respond(err)
			return
		}
		context.Respond(&NotificationPageReply{Notifications: notifications, Total: total})

	case *UnreadCountMsg:
		ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 3*time.Second)
		defer cancel()
		count, err := a.inbox.UnreadCount(ctx, msg.RecipientID)
		if err != nil {
			context.Respond(err)
			return
		}
		context.Respond(&models.UnreadCountPayload{Count: count})

	case *MarkReadMsg:
		a.handleMarkRead(context, msg)

	case *MarkAllReadMsg:
		ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 5*time.Second)
		defer cancel()
		if err := a.inbox.MarkAllRead(ctx, msg.RecipientID); err != nil {
			context.Respond(err)
			return
		}
		a.pushUnreadCount(ctx, msg.RecipientID)
		context.Respond(&models.StatusResponse{Success: true, Message: "all notifications marked read"})
	}
}

func (a *NotificationActor) handleNotify(context actor.Context, msg *NotifyMsg) {
	startTime := time.Now()

	if msg.RecipientID == uuid.Nil || msg.Title == "" {
		context.Respond(utils.NewValidationError("notification needs a recipient and a title"))
		return
	}

	notification := &models.Notification{
		ID:          uuid.New(),
		RecipientID: msg.RecipientID,
		SenderID:    msg.SenderID,
		Type:        msg.Type,
		Title:       msg.Title,
		Content:     msg.Content,
		Link:        msg.Link,
		Metadata:    msg.Metadata,
	}

	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 5*time.Second)
	defer cancel()

	if err := a.inbox.SaveNotification(ctx, notification); err != nil {
		a.logger.Error("failed to persist notification",
			"recipient", msg.RecipientID, "type", msg.Type, "error", err)
		context.Respond(err)
		return
	}

	outcome := "queued"
	if a.sink.IsConnected(msg.RecipientID) {
		outcome = "delivered"
	}
	a.sink.SendEvent(msg.RecipientID, &models.Event{
		Type:    models.EventNotificationCreated,
		Payload: notification,
	})
	a.pushUnreadCount(ctx, msg.RecipientID)

	a.metrics.RecordNotification(outcome)
	a.metrics.AddOperationLatency("notify", time.Since(startTime))
	context.Respond(notification)
}

func (a *NotificationActor) handleMarkRead(context actor.Context, msg *MarkReadMsg) {
	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 5*time.Second)
	defer cancel()

	if err := a.inbox.MarkRead(ctx, msg.NotificationID, msg.RecipientID); err != nil {
		context.Respond(err)
		return
	}
	a.pushUnreadCount(ctx, msg.RecipientID)
	context.Respond(&models.StatusResponse{Success: true, Message: "notification marked read"})
}

func (a *NotificationActor) pushUnreadCount(ctx stdctx.Context, recipientID uuid.UUID) {
	count, err := a.inbox.UnreadCount(ctx, recipientID)
	if err != nil {
		a.logger.Warn("failed to read unread count", "recipient", recipientID, "error", err)
		return
	}
	a.sink.SendEvent(recipientID, &models.Event{
		Type:    models.EventUnreadCount,
		Payload: models.UnreadCountPayload{Count: count},
	})
}
