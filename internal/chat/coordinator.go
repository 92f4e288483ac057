package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/treechat/internal/ident"
	"github.com/PaulBabatuyi/treechat/internal/logger"
	"github.com/PaulBabatuyi/treechat/internal/metrics"
	"github.com/PaulBabatuyi/treechat/internal/model"
	"github.com/PaulBabatuyi/treechat/internal/normalize"
)

// Confirmer asks the user a yes/no question and blocks for the answer.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function into a Confirmer.
type ConfirmFunc func(prompt string) bool

// Confirm calls f.
func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Coordinator issues the signed-in user's writes. It never changes the
// projections itself: every visible effect of a write arrives through the
// change feed. Failed writes become notices; nothing is retried.
type Coordinator struct {
	engine *Engine
	store  Store
	me     model.User
	log    *logger.Logger
}

// NewCoordinator returns a coordinator acting as me.
func NewCoordinator(engine *Engine, store Store, me model.User, log *logger.Logger) *Coordinator {
	return &Coordinator{
		engine: engine,
		store:  store,
		me:     me,
		log:    log.Named("coordinator").WithUser(me.ID, me.Email),
	}
}

// Me returns the acting user.
func (c *Coordinator) Me() model.User { return c.me }

// fail reports a failed write and returns err.
func (c *Coordinator) fail(action string, err error) error {
	c.log.Warn("write failed", zap.String("action", action), zap.Error(err))
	c.engine.report(noticeFor(action, err))
	return err
}

// Users returns everyone but the signed-in user.
func (c *Coordinator) Users(ctx context.Context) ([]model.User, error) {
	users, err := c.store.ListUsers(ctx, c.me.ID)
	if err != nil {
		return nil, c.fail("load users", err)
	}
	return users, nil
}

// Search filters users by a case-insensitive substring of their display
// name or email. An empty query matches everyone.
func Search(users []model.User, query string) []model.User {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return users
	}
	var out []model.User
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.DisplayName), q) || strings.Contains(strings.ToLower(u.Email), q) {
			out = append(out, u)
		}
	}
	return out
}

// StartConversation opens the conversation with peer, creating it on first
// contact.
func (c *Coordinator) StartConversation(ctx context.Context, peer model.User) (model.Conversation, error) {
	if peer.ID == "" || peer.ID == c.me.ID {
		return model.Conversation{}, invalid("pick someone else to chat with")
	}

	conv, found, err := c.findWith(ctx, peer.ID)
	if err != nil {
		return model.Conversation{}, c.fail("open the conversation", err)
	}
	if !found {
		conv = model.Conversation{
			ID:           ident.ConversationKey(c.me.ID, peer.ID),
			Participants: []string{c.me.ID, peer.ID},
			ParticipantsData: map[string]model.Participant{
				c.me.ID: {Name: c.me.Name(), Email: c.me.Email},
				peer.ID: {Name: peer.Name(), Email: peer.Email},
			},
		}
		err := c.store.CreateConversation(ctx, c.me.ID, conv)
		metrics.RecordWrite("create_conversation", err)
		switch {
		case status.Code(err) == codes.AlreadyExists:
			// the peer created it since we looked
			if conv, err = c.store.GetConversation(ctx, c.me.ID, conv.ID); err != nil {
				return model.Conversation{}, c.fail("open the conversation", err)
			}
		case err != nil:
			return model.Conversation{}, c.fail("start the conversation", err)
		default:
			c.log.Info("conversation created", zap.String("conversation_id", conv.ID))
		}
	}

	if err := c.engine.Open(conv); err != nil {
		return model.Conversation{}, err
	}
	return conv, nil
}

func (c *Coordinator) findWith(ctx context.Context, peerID string) (model.Conversation, bool, error) {
	convs, err := c.store.FindConversations(ctx, c.me.ID)
	if err != nil {
		return model.Conversation{}, false, err
	}
	for _, conv := range convs {
		if ident.Contains(conv.Participants, peerID) {
			return conv, true, nil
		}
	}
	return model.Conversation{}, false, nil
}

// Open selects an existing conversation.
func (c *Coordinator) Open(conv model.Conversation) error {
	if !ident.Contains(conv.Participants, c.me.ID) {
		return invalid("you are not part of this conversation")
	}
	return c.engine.Open(conv)
}

// SendMessage posts text to the open conversation. The message gets its
// timestamp from the store; the preview update is a second write.
func (c *Coordinator) SendMessage(ctx context.Context, text string) error {
	text = normalize.Text(text)
	if text == "" {
		return invalid("message is empty")
	}
	conv, ok, err := c.engine.openConversation()
	if err != nil {
		return err
	}
	if !ok {
		return invalid("no conversation is open")
	}
	if !ident.Contains(conv.Participants, c.me.ID) {
		return invalid("you are not part of this conversation")
	}

	c.engine.addSending(1)
	defer c.engine.addSending(-1)

	if _, err := c.store.GetConversation(ctx, c.me.ID, conv.ID); err != nil {
		return c.fail("send the message", err)
	}

	id, err := c.store.CreateMessage(ctx, c.me.ID, model.Message{
		ChatID:     conv.ID,
		SenderID:   c.me.ID,
		SenderName: c.me.Name(),
		Text:       text,
	})
	metrics.RecordWrite("send", err)
	if err != nil {
		return c.fail("send the message", err)
	}

	err = c.store.UpdateLastMessage(ctx, c.me.ID, conv.ID, text)
	metrics.RecordWrite("update_last_message", err)
	if err != nil {
		// the message itself is stored; only the preview is stale
		return c.fail("update the conversation preview", err)
	}
	c.log.Debug("message sent", zap.String("conversation_id", conv.ID), zap.String("message_id", id))
	return nil
}

// BeginEdit enters edit mode for one of the user's own messages and returns
// its current text as the draft. An edit already in progress is dropped.
func (c *Coordinator) BeginEdit(messageID string) (string, error) {
	return c.engine.beginEdit(messageID, c.me.ID)
}

// CancelEdit leaves edit mode without writing.
func (c *Coordinator) CancelEdit() {
	c.engine.finishEdit("")
}

// SaveEdit writes text to the message being edited. The new text shows up
// when the store echoes the change.
func (c *Coordinator) SaveEdit(ctx context.Context, text string) error {
	text = normalize.Text(text)
	if text == "" {
		return invalid("message is empty")
	}
	id, err := c.engine.editingID()
	if err != nil {
		return err
	}
	if id == "" {
		return invalid("no message is being edited")
	}
	conv, ok, err := c.engine.openConversation()
	if err != nil {
		return err
	}
	if !ok {
		return invalid("no conversation is open")
	}

	err = c.store.UpdateMessage(ctx, c.me.ID, conv.ID, id, text)
	metrics.RecordWrite("edit", err)
	if err != nil {
		return c.fail("edit the message", err)
	}
	c.engine.finishEdit(id)
	return nil
}

// DeleteMessage asks confirm and then deletes one of the user's messages.
// The message stays visible until the store reports it removed. A declined
// confirmation is not an error; a nil confirm is. The write gets its own
// writeTimeout once the answer is in, however long the question took.
func (c *Coordinator) DeleteMessage(ctx context.Context, messageID string, confirm Confirmer) error {
	m, ok, err := c.engine.message(messageID)
	if err != nil {
		return err
	}
	if !ok {
		return invalid("message not found")
	}
	if m.SenderID != c.me.ID {
		return invalid("you can only delete your own messages")
	}
	if confirm == nil {
		return invalid("confirmation required")
	}
	if !confirm.Confirm("Delete this message?") {
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	err = c.store.DeleteMessage(wctx, c.me.ID, m.ChatID, m.ID)
	metrics.RecordWrite("delete", err)
	if err != nil {
		return c.fail("delete the message", err)
	}
	return nil
}

// DeleteConversation deletes a conversation and its messages.
func (c *Coordinator) DeleteConversation(ctx context.Context, conversationID string) error {
	err := c.store.DeleteConversation(ctx, c.me.ID, conversationID)
	metrics.RecordWrite("delete_conversation", err)
	if err != nil {
		return c.fail("delete the conversation", err)
	}
	return nil
}
