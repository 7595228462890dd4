package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationSystem  NotificationType = "SYSTEM"
	NotificationComment NotificationType = "COMMENT"
	NotificationReply   NotificationType = "REPLY"
	NotificationContest NotificationType = "CONTEST"
	NotificationMention NotificationType = "MENTION"
)

// Notification content is immutable after creation; only IsRead flips.
type Notification struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	RecipientID uuid.UUID         `json:"recipientId" db:"recipient_id"`
	SenderID    *uuid.UUID        `json:"senderId,omitempty" db:"sender_id"`
	Type        NotificationType  `json:"type" db:"type"`
	Title       string            `json:"title" db:"title"`
	Content     string            `json:"content" db:"content"`
	Link        string            `json:"link" db:"link"`
	IsRead      bool              `json:"isRead" db:"is_read"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"-"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time         `json:"updatedAt" db:"updated_at"`
}
