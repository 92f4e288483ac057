package data

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/treechat/internal/feed"
	"github.com/PaulBabatuyi/treechat/internal/logger"
	"github.com/PaulBabatuyi/treechat/internal/model"
)

// Store combines the collection stores with the change-feed source and
// enforces the membership rules on every call.
type Store struct {
	*feed.MongoSource

	Users    *UsersStore
	Chats    *ChatsStore
	Messages *MessagesStore

	log *logger.Logger
}

// NewStore returns a Store over the three collections.
func NewStore(users, chats, messages *mongo.Collection, log *logger.Logger, feedRetryMax time.Duration) *Store {
	return &Store{
		MongoSource: feed.NewMongoSource(chats, messages, log, feedRetryMax),
		Users:       NewUsersStore(users),
		Chats:       NewChatsStore(chats),
		Messages:    NewMessagesStore(messages),
		log:         log.Named("store"),
	}
}

// ListUsers returns the directory without excludeID.
func (s *Store) ListUsers(ctx context.Context, excludeID string) ([]model.User, error) {
	return s.Users.ListUsers(ctx, excludeID)
}

// SetPresence updates the online marker of userID.
func (s *Store) SetPresence(ctx context.Context, userID string, online bool) error {
	return s.Users.SetPresence(ctx, userID, online)
}

// FindConversations returns the conversations listing userID.
func (s *Store) FindConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	return s.Chats.FindByParticipant(ctx, userID)
}

func (s *Store) readable(ctx context.Context, actor, id string) (*model.Conversation, error) {
	c, err := s.Chats.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CanRead(*c, actor); err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation returns conversation id if actor is a member.
func (s *Store) GetConversation(ctx context.Context, actor, id string) (model.Conversation, error) {
	c, err := s.readable(ctx, actor, id)
	if err != nil {
		return model.Conversation{}, err
	}
	return *c, nil
}

// CreateConversation stores c. ErrExists means the pair already has one.
func (s *Store) CreateConversation(ctx context.Context, actor string, c model.Conversation) error {
	if err := CanCreateConversation(c, actor); err != nil {
		return err
	}
	if err := s.Chats.Create(ctx, c); err != nil {
		return err
	}
	s.log.Debug("conversation created", zap.String("conversation_id", c.ID))
	return nil
}

// UpdateLastMessage refreshes the preview of conversation id.
func (s *Store) UpdateLastMessage(ctx context.Context, actor, id, text string) error {
	if _, err := s.readable(ctx, actor, id); err != nil {
		return err
	}
	return s.Chats.UpdateLastMessage(ctx, id, text)
}

// DeleteConversation removes the messages of conversation id and then the
// conversation itself. The two steps are not atomic.
func (s *Store) DeleteConversation(ctx context.Context, actor, id string) error {
	if _, err := s.readable(ctx, actor, id); err != nil {
		return err
	}
	n, err := s.Messages.DeleteByChat(ctx, id)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err := s.Chats.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("conversation deleted", zap.String("conversation_id", id), zap.Int64("messages", n))
	return nil
}

// CreateMessage stores m and returns its id.
func (s *Store) CreateMessage(ctx context.Context, actor string, m model.Message) (string, error) {
	c, err := s.Chats.Get(ctx, m.ChatID)
	if err != nil {
		return "", err
	}
	if err := CanPost(*c, m, actor); err != nil {
		return "", err
	}
	return s.Messages.Insert(ctx, m)
}

func (s *Store) message(ctx context.Context, actor, conversationID, id string) (*model.Conversation, *model.Message, error) {
	c, err := s.readable(ctx, actor, conversationID)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.Messages.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if m.ChatID != conversationID {
		return nil, nil, ErrNotFound
	}
	return c, m, nil
}

// GetMessage returns one message of a conversation actor belongs to.
func (s *Store) GetMessage(ctx context.Context, actor, conversationID, id string) (model.Message, error) {
	_, m, err := s.message(ctx, actor, conversationID, id)
	if err != nil {
		return model.Message{}, err
	}
	return *m, nil
}

// ListMessages returns the messages of a conversation actor belongs to.
func (s *Store) ListMessages(ctx context.Context, actor, conversationID string) ([]model.Message, error) {
	if _, err := s.readable(ctx, actor, conversationID); err != nil {
		return nil, err
	}
	return s.Messages.List(ctx, conversationID)
}

// UpdateMessage replaces the text of a message actor sent.
func (s *Store) UpdateMessage(ctx context.Context, actor, conversationID, id, text string) error {
	c, m, err := s.message(ctx, actor, conversationID, id)
	if err != nil {
		return err
	}
	if err := CanModify(*c, *m, actor); err != nil {
		return err
	}
	return s.Messages.UpdateText(ctx, id, text)
}

// DeleteMessage removes a message actor sent.
func (s *Store) DeleteMessage(ctx context.Context, actor, conversationID, id string) error {
	c, m, err := s.message(ctx, actor, conversationID, id)
	if err != nil {
		return err
	}
	if err := CanModify(*c, *m, actor); err != nil {
		return err
	}
	return s.Messages.Delete(ctx, id)
}
