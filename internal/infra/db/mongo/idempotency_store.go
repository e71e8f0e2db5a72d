package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"workly/internal/app/services/messaging"
)

const defaultSendTTL = 7 * 24 * time.Hour

// SendLog keeps the (sender, client id) records of accepted messages so a
// retried send resolves to the stored message on any chatd instance.
type SendLog struct {
	col *mongo.Collection
	now func() time.Time
}

func NewSendLog(ctx context.Context, db *mongo.Database, ttl time.Duration) (*SendLog, error) {
	if ttl <= 0 {
		ttl = defaultSendTTL
	}
	col := db.Collection("chat_send_log")
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(ttl.Seconds())),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ensure send log indexes: %w", err)
	}
	return &SendLog{col: col, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SendLog) Get(ctx context.Context, key string) (messaging.SendRecord, bool, error) {
	var doc sendDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return messaging.SendRecord{}, false, nil
		}
		return messaging.SendRecord{}, false, err
	}
	return doc.toRecord(), true, nil
}

func (s *SendLog) Save(ctx context.Context, rec messaging.SendRecord) error {
	// first writer wins; a replayed save never overwrites the original
	update := bson.M{"$setOnInsert": bson.M{
		"payload":     rec.Payload,
		"occurred_at": rec.OccurredAt,
		"created_at":  s.now(),
	}}
	_, err := s.col.UpdateByID(ctx, rec.Key, update, options.Update().SetUpsert(true))
	return err
}

type sendDocument struct {
	Key        string    `bson:"_id"`
	Payload    []byte    `bson:"payload"`
	OccurredAt time.Time `bson:"occurred_at"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (d sendDocument) toRecord() messaging.SendRecord {
	return messaging.SendRecord{Key: d.Key, Payload: d.Payload, OccurredAt: d.OccurredAt}
}

var _ messaging.IdempotencyStore = (*SendLog)(nil)
