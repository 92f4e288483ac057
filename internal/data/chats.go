package data

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/PaulBabatuyi/treechat/internal/model"
)

// ChatsStore provides conversation database operations.
type ChatsStore struct {
	// coll is reference to "chats" collection in MongoDB
	coll *mongo.Collection
}

// NewChatsStore returns a ChatsStore using given collection.
func NewChatsStore(coll *mongo.Collection) *ChatsStore {
	return &ChatsStore{coll: coll}
}

// Create inserts c unless a conversation with the same id exists, in which
// case it returns ErrExists and leaves the stored document untouched.
// created_at is assigned by the server.
func (s *ChatsStore) Create(ctx context.Context, c model.Conversation) error {
	// Pipeline update: every field keeps its stored value when present, so
	// racing creators of the same pair cannot overwrite each other
	keep := func(field string, v any) bson.D {
		return bson.D{{Key: "$ifNull", Value: bson.A{"$" + field, bson.D{{Key: "$literal", Value: v}}}}}
	}
	update := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "participants", Value: keep("participants", c.Participants)},
			{Key: "participants_data", Value: keep("participants_data", c.ParticipantsData)},
			{Key: "last_message", Value: keep("last_message", c.LastMessage)},
			{Key: "created_at", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$created_at", "$$NOW"}}}},
		}}},
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": c.ID}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrExists
		}
		return err
	}
	if res.UpsertedCount == 0 {
		return ErrExists
	}
	return nil
}

// Get returns the conversation with id.
func (s *ChatsStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindByParticipant returns every conversation that lists userID, most
// recent activity first.
func (s *ChatsStore) FindByParticipant(ctx context.Context, userID string) ([]model.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_time", Value: -1}})
	cursor, err := s.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var convs []model.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// UpdateLastMessage refreshes the denormalized preview. The time is the
// server's.
func (s *ChatsStore) UpdateLastMessage(ctx context.Context, id, text string) error {
	update := bson.M{
		"$set":         bson.M{"last_message": text},
		"$currentDate": bson.M{"last_message_time": true},
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

// Delete removes the conversation document only; see Store.DeleteConversation
// for the cascade.
func (s *ChatsStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
