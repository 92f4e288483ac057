// Package data provides the MongoDB stores behind the chat client.
package data

import (
	"context" // Used for cancellation and timeouts
	"errors"  // Error inspection
	"time"    // Timestamps

	"go.mongodb.org/mongo-driver/v2/bson"  // MongoDB document queries
	"go.mongodb.org/mongo-driver/v2/mongo" // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/PaulBabatuyi/treechat/internal/model"
	"github.com/PaulBabatuyi/treechat/internal/normalize"
)

// UsersStore performs user DB operations.
type UsersStore struct {
	// coll is reference to "users" collection in MongoDB
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document with hashed password. The id is
// generated client side so it can double as the conversation key material.
func (u *UsersStore) CreateUser(ctx context.Context, email, name, hashedPassword string) (*model.User, error) {
	email = normalize.Email(email)
	now := time.Now().UTC()
	user := &model.User{
		ID:          bson.NewObjectID().Hex(),
		Email:       email,
		DisplayName: normalize.DisplayName(name, email),
		Password:    hashedPassword, // Already hashed by auth.HashPassword()
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := u.coll.InsertOne(ctx, user); err != nil {
		// Unique index on email turns a second registration into a duplicate key error
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrExists
		}
		return nil, err
	}
	return user, nil
}

// GetUserByEmail finds a user by email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := u.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID finds a user by id.
func (u *UsersStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UserExists checks if a user exists by email.
func (u *UsersStore) UserExists(ctx context.Context, email string) (bool, error) {
	// CountDocuments is cheaper than FindOne when only existence matters
	count, err := u.coll.CountDocuments(ctx, bson.M{"email": normalize.Email(email)})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListUsers returns every user except excludeID, ordered by display name.
// Password hashes are not read.
func (u *UsersStore) ListUsers(ctx context.Context, excludeID string) ([]model.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "display_name", Value: 1}}).
		SetProjection(bson.M{"password": 0})

	cursor, err := u.coll.Find(ctx, bson.M{"_id": bson.M{"$ne": excludeID}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []model.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SetPresence marks a user online or offline. last_seen takes the server
// time of the change.
func (u *UsersStore) SetPresence(ctx context.Context, id string, online bool) error {
	update := bson.M{
		"$set":         bson.M{"is_online": online},
		"$currentDate": bson.M{"last_seen": true, "updated_at": true},
	}
	res, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProfile changes the display name. A blank name falls back to the
// email local part.
func (u *UsersStore) UpdateProfile(ctx context.Context, id, name string) error {
	user, err := u.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	update := bson.M{
		"$set":         bson.M{"display_name": normalize.DisplayName(name, user.Email)},
		"$currentDate": bson.M{"updated_at": true},
	}
	_, err = u.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// UpdatePassword replaces the stored password hash.
func (u *UsersStore) UpdatePassword(ctx context.Context, id, hashedPassword string) error {
	update := bson.M{
		"$set":         bson.M{"password": hashedPassword},
		"$currentDate": bson.M{"updated_at": true},
	}
	res, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
