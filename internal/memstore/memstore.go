// Package memstore is an in-process document store with change feeds. It
// applies the same membership rules as the MongoDB store and is used by
// tests and offline runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PaulBabatuyi/treechat/internal/data"
	"github.com/PaulBabatuyi/treechat/internal/feed"
	"github.com/PaulBabatuyi/treechat/internal/ident"
	"github.com/PaulBabatuyi/treechat/internal/model"
	"github.com/PaulBabatuyi/treechat/internal/normalize"
)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the source of server time.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPendingEcho makes every new message arrive twice: first without a
// timestamp, then confirmed. Hosted stores with latency compensation
// behave this way.
func WithPendingEcho() Option {
	return func(s *Store) { s.pendingEcho = true }
}

// Store keeps users, conversations and messages in memory.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	last        time.Time
	pendingEcho bool
	seq         uint64
	failures    []error

	users    map[string]model.User
	emails   map[string]string
	chats    map[string]model.Conversation
	messages map[string]model.Message

	hub *hub
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		users:    make(map[string]model.User),
		emails:   make(map[string]string),
		chats:    make(map[string]model.Conversation),
		messages: make(map[string]model.Message),
		hub:      newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the next store call other than Subscribe return err.
// Calls queue up.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

// FailFeed reports err to every subscription of q. Subscriptions stay
// alive when err is recoverable and end otherwise.
func (s *Store) FailFeed(q feed.Query, err error) {
	s.hub.fail(q, err)
}

// RecoverFeed tells every subscription of q that an outage reported by
// FailFeed is over.
func (s *Store) RecoverFeed(q feed.Query) {
	s.hub.recovered(q)
}

// Subscribers returns the number of live subscriptions of q.
func (s *Store) Subscribers(q feed.Query) int {
	return s.hub.count(q)
}

// injected pops a failure queued by FailNext. Callers hold mu.
func (s *Store) injected() error {
	if len(s.failures) == 0 {
		return nil
	}
	err := s.failures[0]
	s.failures = s.failures[1:]
	return err
}

// stamp returns strictly increasing server times.
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *Store) nextID() string {
	s.seq++
	return fmt.Sprintf("%024x", s.seq)
}

// Subscribe delivers the current result set of q and then every change
// until the subscription is cancelled.
func (s *Store) Subscribe(ctx context.Context, q feed.Query, h feed.Handler) (*feed.Subscription, error) {
	if q.ID == "" {
		return nil, fmt.Errorf("memstore: empty scope id for %s", q.Scope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []feed.Event
	switch q.Scope {
	case feed.ScopeConversations:
		for _, c := range s.conversationsOf(q.ID) {
			events = append(events, feed.AddedConversation(c))
		}
	case feed.ScopeMessages:
		for _, m := range s.messagesOf(q.ID) {
			events = append(events, feed.AddedMessage(m))
		}
	default:
		return nil, fmt.Errorf("memstore: unknown scope %d", q.Scope)
	}

	sub, subCtx := feed.NewSubscription(ctx, q)
	sb := newSubscriber(sub, h)
	id := s.hub.register(q, sb)
	sb.push(delivery{batch: &feed.Batch{Query: q, Events: events, Initial: true}})
	go sb.run(subCtx, func() {
		s.hub.unregister(q, id)
		sub.Finish()
	})
	return sub, nil
}

func (s *Store) conversationsOf(userID string) []model.Conversation {
	var out []model.Conversation
	for _, c := range s.chats {
		if ident.Contains(c.Participants, userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if r := ident.CompareRecency(out[i].LastMessageTime, out[j].LastMessageTime); r != 0 {
			return r < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) messagesOf(chatID string) []model.Message {
	var out []model.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if r := ident.CompareTimes(out[i].Timestamp, out[j].Timestamp); r != 0 {
			return r < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) publishConversation(kind feed.Kind, c model.Conversation) {
	ev := feed.Event{Kind: kind, ID: c.ID, Conversation: &c}
	for _, p := range c.Participants {
		s.hub.publish(feed.ConversationsOf(p), ev)
	}
}

// users

// CreateUser registers a user. A second registration of an email returns
// data.ErrExists.
func (s *Store) CreateUser(_ context.Context, email, name, hashedPassword string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}

	email = normalize.Email(email)
	if _, ok := s.emails[email]; ok {
		return nil, data.ErrExists
	}
	now := s.stamp()
	u := model.User{
		ID:          s.nextID(),
		Email:       email,
		DisplayName: normalize.DisplayName(name, email),
		Password:    hashedPassword,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.users[u.ID] = u
	s.emails[email] = u.ID
	return &u, nil
}

// GetUserByEmail finds a user by email.
func (s *Store) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}

	id, ok := s.emails[normalize.Email(email)]
	if !ok {
		return nil, data.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

// GetUserByID finds a user by id.
func (s *Store) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}

	u, ok := s.users[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return &u, nil
}

// UpdatePassword replaces a stored password hash.
func (s *Store) UpdatePassword(_ context.Context, id, hashedPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}

	u, ok := s.users[id]
	if !ok {
		return data.ErrNotFound
	}
	u.Password = hashedPassword
	u.UpdatedAt = s.stamp()
	s.users[id] = u
	return nil
}

// ListUsers returns every user but excludeID ordered by display name,
// without password hashes.
func (s *Store) ListUsers(_ context.Context, excludeID string) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}

	var out []model.User
	for _, u := range s.users {
		if u.ID != excludeID {
			out = append(out, u.Public())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// SetPresence marks a user online or offline.
func (s *Store) SetPresence(_ context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}

	u, ok := s.users[userID]
	if !ok {
		return data.ErrNotFound
	}
	t := s.stamp()
	u.IsOnline = online
	u.LastSeen = &t
	u.UpdatedAt = t
	s.users[userID] = u
	return nil
}

// conversations

// FindConversations returns the conversations listing userID.
func (s *Store) FindConversations(_ context.Context, userID string) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}
	return s.conversationsOf(userID), nil
}

func (s *Store) readable(actor, id string) (model.Conversation, error) {
	c, ok := s.chats[id]
	if !ok {
		return model.Conversation{}, data.ErrNotFound
	}
	if err := data.CanRead(c, actor); err != nil {
		return model.Conversation{}, err
	}
	return c, nil
}

// GetConversation returns conversation id if actor is a member.
func (s *Store) GetConversation(_ context.Context, actor, id string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return model.Conversation{}, err
	}
	return s.readable(actor, id)
}

// CreateConversation stores c. data.ErrExists means the pair already has
// one.
func (s *Store) CreateConversation(_ context.Context, actor string, c model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}

	if err := data.CanCreateConversation(c, actor); err != nil {
		return err
	}
	if _, ok := s.chats[c.ID]; ok {
		return data.ErrExists
	}
	t := s.stamp()
	c.CreatedAt = &t
	c.LastMessageTime = nil
	s.chats[c.ID] = c
	s.publishConversation(feed.Added, c)
	return nil
}

// UpdateLastMessage refreshes the preview of conversation id.
func (s *Store) UpdateLastMessage(_ context.Context, actor, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}

	c, err := s.readable(actor, id)
	if err != nil {
		return err
	}
	t := s.stamp()
	c.LastMessage = text
	c.LastMessageTime = &t
	s.chats[id] = c
	s.publishConversation(feed.Modified, c)
	return nil
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(_ context.Context, actor, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}

	c, err := s.readable(actor, id)
	if err != nil {
		return err
	}
	var removed []feed.Event
	for _, m := range s.messagesOf(id) {
		delete(s.messages, m.ID)
		removed = append(removed, feed.RemovedID(m.ID))
	}
	s.hub.publish(feed.MessagesOf(id), removed...)

	delete(s.chats, id)
	for _, p := range c.Participants {
		s.hub.publish(feed.ConversationsOf(p), feed.RemovedID(id))
	}
	return nil
}

// messages

// CreateMessage stores m with a server timestamp and returns its id.
func (s *Store) CreateMessage(_ context.Context, actor string, m model.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return "", err
	}

	c, ok := s.chats[m.ChatID]
	if !ok {
		return "", data.ErrNotFound
	}
	if err := data.CanPost(c, m, actor); err != nil {
		return "", err
	}

	m.ID = s.nextID()
	m.Edited = false
	m.EditedAt = nil
	q := feed.MessagesOf(m.ChatID)
	if s.pendingEcho {
		s.hub.publish(q, feed.AddedMessage(m))
	}
	t := s.stamp()
	m.Timestamp = &t
	s.messages[m.ID] = m
	if s.pendingEcho {
		s.hub.publish(q, feed.ModifiedMessage(m))
	} else {
		s.hub.publish(q, feed.AddedMessage(m))
	}
	return m.ID, nil
}

func (s *Store) message(actor, conversationID, id string) (model.Conversation, model.Message, error) {
	c, err := s.readable(actor, conversationID)
	if err != nil {
		return model.Conversation{}, model.Message{}, err
	}
	m, ok := s.messages[id]
	if !ok || m.ChatID != conversationID {
		return model.Conversation{}, model.Message{}, data.ErrNotFound
	}
	return c, m, nil
}

// GetMessage returns one message of a conversation actor belongs to.
func (s *Store) GetMessage(_ context.Context, actor, conversationID, id string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return model.Message{}, err
	}

	_, m, err := s.message(actor, conversationID, id)
	return m, err
}

// ListMessages returns the messages of a conversation, oldest first.
func (s *Store) ListMessages(_ context.Context, actor, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return nil, err
	}

	if _, err := s.readable(actor, conversationID); err != nil {
		return nil, err
	}
	return s.messagesOf(conversationID), nil
}

// UpdateMessage replaces the text of a message actor sent.
func (s *Store) UpdateMessage(_ context.Context, actor, conversationID, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}

	c, m, err := s.message(actor, conversationID, id)
	if err != nil {
		return err
	}
	if err := data.CanModify(c, m, actor); err != nil {
		return err
	}
	t := s.stamp()
	m.Text = text
	m.Edited = true
	m.EditedAt = &t
	s.messages[id] = m
	s.hub.publish(feed.MessagesOf(conversationID), feed.ModifiedMessage(m))
	return nil
}

// DeleteMessage removes a message actor sent.
func (s *Store) DeleteMessage(_ context.Context, actor, conversationID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(); err != nil {
		return err
	}

	c, m, err := s.message(actor, conversationID, id)
	if err != nil {
		return err
	}
	if err := data.CanModify(c, m, actor); err != nil {
		return err
	}
	delete(s.messages, id)
	s.hub.publish(feed.MessagesOf(conversationID), feed.RemovedID(id))
	return nil
}
