package data

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/PaulBabatuyi/treechat/internal/model"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	// coll is reference to "messages" collection in MongoDB
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// Insert stores m under a fresh id and returns the id. The creation
// timestamp is assigned by the server, never by the caller.
func (s *MessagesStore) Insert(ctx context.Context, m model.Message) (string, error) {
	id := bson.NewObjectID().Hex()

	// Upsert on a fresh id always inserts; it is the only write form that
	// accepts $currentDate
	update := bson.M{
		"$setOnInsert": bson.M{
			"chat_id":     m.ChatID,
			"sender_id":   m.SenderID,
			"sender_name": m.SenderName,
			"text":        m.Text,
			"edited":      false,
		},
		"$currentDate": bson.M{"timestamp": true},
	}
	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the message with id.
func (s *MessagesStore) Get(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// List returns the messages of a conversation ordered oldest to newest.
func (s *MessagesStore) List(ctx context.Context, chatID string) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []model.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateText replaces the text and marks the message edited at server time.
func (s *MessagesStore) UpdateText(ctx context.Context, id, text string) error {
	update := bson.M{
		"$set":         bson.M{"text": text, "edited": true},
		"$currentDate": bson.M{"edited_at": true},
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes one message.
func (s *MessagesStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByChat removes every message of a conversation and returns how many.
func (s *MessagesStore) DeleteByChat(ctx context.Context, chatID string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"chat_id": chatID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
