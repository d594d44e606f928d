package message

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCollection = "messages"

type MongoStore struct {
	DB *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{DB: db}
}

func (s *MongoStore) coll() *mongo.Collection { return s.DB.Collection(mongoCollection) }

// EnsureIndexes concat_group_id 唯一；(session_id, external_id) 唯一；会话时间序
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "concat_group_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uq_concat_group").
				SetPartialFilterExpression(bson.M{"concat_group_id": bson.M{"$exists": true}}),
		},
		{
			Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "external_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uq_session_external").
				SetPartialFilterExpression(bson.M{"external_id": bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_session_time"),
		},
	})
	return err
}

// Insert 有去重键时用 upsert + $setOnInsert（并发安全），否则直接插入
func (s *MongoStore) Insert(ctx context.Context, m *Message) (bool, error) {
	if m.SessionID == "" {
		return false, ErrMissingSession
	}
	var filter bson.M
	switch {
	case m.ConcatGroupID != "":
		filter = bson.M{"concat_group_id": m.ConcatGroupID}
	case m.ExternalID != "":
		filter = bson.M{"session_id": m.SessionID, "external_id": m.ExternalID}
	default:
		if _, err := s.coll().InsertOne(ctx, m); err != nil {
			return false, err
		}
		return true, nil
	}

	res, err := s.coll().UpdateOne(ctx, filter,
		bson.M{"$setOnInsert": m},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		// 并发 upsert 撞唯一索引：对方已写入
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

func (s *MongoStore) ListBySession(ctx context.Context, sessionID string) ([]*Message, error) {
	cur, err := s.coll().Find(ctx, bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "message_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
