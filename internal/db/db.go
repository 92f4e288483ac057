// Package db manages MongoDB connections and collections.
package db

import (
	"context" // For connection timeout/cancellation
	"fmt"     // Error formatting
	"time"    // Duration for timeouts

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"          // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options"  // MongoDB options
	"go.mongodb.org/mongo-driver/v2/mongo/readpref" // MongoDB read preference
)

// Collection names.
const (
	UsersCollectionName    = "users"
	ChatsCollectionName    = "chats"
	MessagesCollectionName = "messages"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, can be reused)
	client *mongo.Client

	// db is the chat database; collections are created on first write
	db *mongo.Database
}

// New connects to MongoDB and returns a Client for database. Change
// streams need a replica set, so a standalone server connects but the
// live feed will fail.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	// SetConnectTimeout: fail fast if MongoDB is unreachable
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping is the actual connection test
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	if database == "" {
		database = "chat_db"
	}
	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection(UsersCollectionName)
}

// ChatsCollection returns the conversations collection.
func (c *Client) ChatsCollection() *mongo.Collection {
	return c.db.Collection(ChatsCollectionName)
}

// MessagesCollection returns the messages collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection(MessagesCollectionName)
}

// Ping checks the primary is reachable. Used by the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the stores and change feeds query by.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// ===== USERS COLLECTION INDEX =====
	// Unique email: no two users can register the same address
	usersIndexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := c.UsersCollection().Indexes().CreateOne(ctx, usersIndexModel); err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}

	// ===== CHATS COLLECTION INDEXES =====
	// Multikey index on participants backs the conversation list query,
	// sorted newest activity first
	chatIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_time", Value: -1}}},
	}
	if _, err := c.ChatsCollection().Indexes().CreateMany(ctx, chatIndexes); err != nil {
		return fmt.Errorf("failed to create chat indexes: %w", err)
	}

	// ===== MESSAGES COLLECTION INDEXES =====
	// (chat_id, timestamp) backs the ordered message snapshot and the
	// cascade delete
	messageIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "timestamp", Value: 1}}},
	}
	if _, err := c.MessagesCollection().Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	return nil
}
