// Package model defines the documents exchanged with the remote store.
package model

import (
	"time"
)

// User is a registered account and its presence markers.
type User struct {
	ID          string     `bson:"_id" json:"id"`
	Email       string     `bson:"email" json:"email"`
	DisplayName string     `bson:"display_name" json:"display_name"`
	Password    string     `bson:"password" json:"-"`
	IsOnline    bool       `bson:"is_online" json:"is_online"`
	LastSeen    *time.Time `bson:"last_seen,omitempty" json:"last_seen,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
}

// Name returns the display name, falling back to the email.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// Public returns a copy without the password hash.
func (u User) Public() User {
	u.Password = ""
	return u
}

// Participant is the display snapshot of a member captured when the
// conversation was created.
type Participant struct {
	Name  string `bson:"name" json:"name"`
	Email string `bson:"email" json:"email"`
}

// Conversation is a two-party chat. ID is derived from the participants.
type Conversation struct {
	ID               string                 `bson:"_id" json:"id"`
	Participants     []string               `bson:"participants" json:"participants"`
	ParticipantsData map[string]Participant `bson:"participants_data" json:"participants_data"`

	// Denormalized cache written alongside every send.
	LastMessage     string     `bson:"last_message" json:"last_message"`
	LastMessageTime *time.Time `bson:"last_message_time,omitempty" json:"last_message_time,omitempty"`

	CreatedAt *time.Time `bson:"created_at,omitempty" json:"created_at,omitempty"`
}

// Message is a chat message. Timestamp is assigned by the store; a nil
// Timestamp marks a write that is not confirmed yet.
type Message struct {
	ID         string     `bson:"_id" json:"id"`
	ChatID     string     `bson:"chat_id" json:"chat_id"`
	SenderID   string     `bson:"sender_id" json:"sender_id"`
	SenderName string     `bson:"sender_name" json:"sender_name"`
	Text       string     `bson:"text" json:"text"`
	Timestamp  *time.Time `bson:"timestamp,omitempty" json:"timestamp,omitempty"`
	Edited     bool       `bson:"edited" json:"edited"`
	EditedAt   *time.Time `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
}

// Pending reports whether the store has not assigned a creation time yet.
func (m Message) Pending() bool {
	return m.Timestamp == nil
}
