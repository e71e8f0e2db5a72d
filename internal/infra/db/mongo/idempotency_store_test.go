package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"workly/internal/app/services/messaging"
)

func TestSendLogGet(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mt.Run("missing key", func(mt *mtest.T) {
		log := &SendLog{col: mt.Coll, now: time.Now}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "db.chat_send_log", mtest.FirstBatch))

		_, ok, err := log.Get(context.Background(), "USER:u|c-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	mt.Run("stored record", func(mt *mtest.T) {
		log := &SendLog{col: mt.Coll, now: time.Now}
		mt.AddMockResponses(mtest.CreateCursorResponse(1, "db.chat_send_log", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "USER:u|c-1"},
			{Key: "payload", Value: []byte(`{"id":"m1"}`)},
			{Key: "occurred_at", Value: at},
			{Key: "created_at", Value: at},
		}))

		rec, ok, err := log.Get(context.Background(), "USER:u|c-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, messaging.SendRecord{Key: "USER:u|c-1", Payload: []byte(`{"id":"m1"}`), OccurredAt: at}, rec)
	})

	mt.Run("save upserts", func(mt *mtest.T) {
		log := &SendLog{col: mt.Coll, now: func() time.Time { return at }}
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 0}))

		require.NoError(t, log.Save(context.Background(), messaging.SendRecord{Key: "USER:u|c-1", Payload: []byte("{}"), OccurredAt: at}))
	})
}
