// internal/database/mongo.go
package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mangrove/internal/models"
	"mangrove/internal/utils"
)

// MongoInbox is the alternate NotificationInbox backend, selected with
// NOTIFICATION_STORE=mongo. Content and ledger storage stay in Postgres
// either way; only the inbox moves.
type MongoInbox struct {
	client        *mongo.Client
	notifications *mongo.Collection
	logger        *slog.Logger
}

type mongoNotification struct {
	ID          string            `bson:"_id"`
	RecipientID string            `bson:"recipientId"`
	SenderID    string            `bson:"senderId,omitempty"`
	Type        string            `bson:"type"`
	Title       string            `bson:"title"`
	Content     string            `bson:"content"`
	Link        string            `bson:"link"`
	IsRead      bool              `bson:"isRead"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
	CreatedAt   time.Time         `bson:"createdAt"`
	UpdatedAt   time.Time         `bson:"updatedAt"`
}

func NewMongoInbox(ctx context.Context, uri, dbName string, logger *slog.Logger) (*MongoInbox, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, utils.WrapStorageError(err, "connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, utils.WrapStorageError(err, "ping MongoDB")
	}

	collection := client.Database(dbName).Collection("notifications")
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "recipientId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "recipientId", Value: 1}, {Key: "isRead", Value: 1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		logger.Warn("failed to ensure notification indexes", "error", err)
	}

	logger.Info("connected to MongoDB notification inbox", "database", dbName)
	return &MongoInbox{client: client, notifications: collection, logger: logger}, nil
}

func (m *MongoInbox) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoInbox) SaveNotification(ctx context.Context, n *models.Notification) error {
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	doc := mongoNotification{
		ID:          n.ID.String(),
		RecipientID: n.RecipientID.String(),
		Type:        string(n.Type),
		Title:       n.Title,
		Content:     n.Content,
		Link:        n.Link,
		IsRead:      n.IsRead,
		Metadata:    n.Metadata,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
	if n.SenderID != nil {
		doc.SenderID = n.SenderID.String()
	}

	if _, err := m.notifications.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Redelivery of an already-persisted notification: fine.
			return nil
		}
		return utils.WrapStorageError(err, "save notification")
	}
	return nil
}

func (m *MongoInbox) GetNotifications(ctx context.Context, recipientID uuid.UUID, skip, take int) ([]*models.Notification, int, error) {
	filter := bson.M{"recipientId": recipientID.String()}

	total, err := m.notifications.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, utils.WrapStorageError(err, "count notifications")
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(take))
	cursor, err := m.notifications.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, utils.WrapStorageError(err, "query notifications")
	}
	defer cursor.Close(ctx)

	var docs []mongoNotification
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, utils.WrapStorageError(err, "decode notifications")
	}

	notifications := make([]*models.Notification, 0, len(docs))
	for _, doc := range docs {
		n, err := doc.toModel()
		if err != nil {
			m.logger.Warn("skipping malformed notification document", "id", doc.ID, "error", err)
			continue
		}
		notifications = append(notifications, n)
	}
	return notifications, int(total), nil
}

func (m *MongoInbox) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error) {
	count, err := m.notifications.CountDocuments(ctx, bson.M{
		"recipientId": recipientID.String(),
		"isRead":      false,
	})
	if err != nil {
		return 0, utils.WrapStorageError(err, "count unread notifications")
	}
	return int(count), nil
}

func (m *MongoInbox) MarkRead(ctx context.Context, id, recipientID uuid.UUID) error {
	result, err := m.notifications.UpdateOne(ctx,
		bson.M{"_id": id.String(), "recipientId": recipientID.String()},
		bson.M{"$set": bson.M{"isRead": true, "updatedAt": time.Now()}},
	)
	if err != nil {
		return utils.WrapStorageError(err, "mark notification read")
	}
	if result.MatchedCount == 0 {
		return utils.NewNotFoundError("notification")
	}
	return nil
}

func (m *MongoInbox) MarkAllRead(ctx context.Context, recipientID uuid.UUID) error {
	_, err := m.notifications.UpdateMany(ctx,
		bson.M{"recipientId": recipientID.String(), "isRead": false},
		bson.M{"$set": bson.M{"isRead": true, "updatedAt": time.Now()}},
	)
	if err != nil {
		return utils.WrapStorageError(err, "mark all notifications read")
	}
	return nil
}

func (doc mongoNotification) toModel() (*models.Notification, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, err
	}
	recipient, err := uuid.Parse(doc.RecipientID)
	if err != nil {
		return nil, err
	}
	n := &models.Notification{
		ID:          id,
		RecipientID: recipient,
		Type:        models.NotificationType(doc.Type),
		Title:       doc.Title,
		Content:     doc.Content,
		Link:        doc.Link,
		IsRead:      doc.IsRead,
		Metadata:    doc.Metadata,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if doc.SenderID != "" {
		if sender, err := uuid.Parse(doc.SenderID); err == nil {
			n.SenderID = &sender
		}
	}
	return n, nil
}
