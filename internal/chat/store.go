package chat

import (
	"context"

	"github.com/PaulBabatuyi/treechat/internal/feed"
	"github.com/PaulBabatuyi/treechat/internal/model"
)

// Store is the remote document store as seen by the client. actor is the
// signed-in user id; implementations reject calls the actor may not make
// with codes.PermissionDenied.
type Store interface {
	feed.Source

	ListUsers(ctx context.Context, excludeID string) ([]model.User, error)
	SetPresence(ctx context.Context, userID string, online bool) error

	FindConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	GetConversation(ctx context.Context, actor, id string) (model.Conversation, error)
	CreateConversation(ctx context.Context, actor string, c model.Conversation) error
	UpdateLastMessage(ctx context.Context, actor, id, text string) error
	DeleteConversation(ctx context.Context, actor, id string) error

	CreateMessage(ctx context.Context, actor string, m model.Message) (string, error)
	GetMessage(ctx context.Context, actor, conversationID, id string) (model.Message, error)
	ListMessages(ctx context.Context, actor, conversationID string) ([]model.Message, error)
	UpdateMessage(ctx context.Context, actor, conversationID, id, text string) error
	DeleteMessage(ctx context.Context, actor, conversationID, id string) error
}
