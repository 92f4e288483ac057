// Package view turns engine snapshots into render instructions. It holds no
// state and performs no I/O.
package view

import (
	"time"

	"github.com/PaulBabatuyi/treechat/internal/chat"
	"github.com/PaulBabatuyi/treechat/internal/ident"
	"github.com/PaulBabatuyi/treechat/internal/model"
)

// Labels shown by every renderer.
const (
	LabelPending       = "Sending..."
	LabelEdited        = "(edited)"
	LabelNewChat       = "New conversation"
	LabelUnknownPeer   = "User"
	LabelNoChats       = "No conversations yet"
	LabelNoMessages    = "No messages yet. Say hi!"
	LabelNoUsers       = "No users found"
	LabelWelcome       = "Select a conversation to start chatting"
	LabelLoading       = "Loading messages..."
	PlaceholderMessage = "Type a message..."
	PlaceholderEditing = "Edit your message..."
	defaultTimeFormat  = "15:04"
)

// Action is a control offered on a message.
type Action string

const (
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// ComposerMode selects what submitting the composer does.
type ComposerMode int

const (
	ModeSend ComposerMode = iota
	ModeEdit
)

// Options control formatting.
type Options struct {
	// Location for message times; UTC when nil.
	Location *time.Location
	// TimeFormat is a time layout; "15:04" when empty.
	TimeFormat string
}

// Screen is everything a renderer draws for one snapshot.
type Screen struct {
	User string

	Conversations      []ConversationItem
	ConversationsEmpty string

	Header        string
	Messages      []MessageItem
	MessagesEmpty string

	Composer Composer
	Banner   string
	Notice   *chat.Notice
}

// ConversationItem is one row of the conversation list.
type ConversationItem struct {
	ID      string
	Title   string
	Preview string
	Time    string
	Active  bool
}

// MessageItem is one entry of the open conversation.
type MessageItem struct {
	ID       string
	Sender   string
	Text     string
	Time     string
	Edited   bool
	Pending  bool
	Outgoing bool
	Editing  bool
	Actions  []Action
}

// Composer is the input area.
type Composer struct {
	Mode        ComposerMode
	Draft       string
	Placeholder string
	Enabled     bool
	Busy        bool
}

// Project renders s.
func Project(s chat.State, opts Options) Screen {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = defaultTimeFormat
	}

	sc := Screen{Banner: s.Banner, Notice: s.Notice}
	openID := s.OpenConversationID()

	for _, c := range s.Conversations {
		sc.Conversations = append(sc.Conversations, ConversationItem{
			ID:      c.ID,
			Title:   PeerName(c, s.UserID),
			Preview: preview(c),
			Time:    formatTime(c.LastMessageTime, opts),
			Active:  c.ID == openID,
		})
	}
	if len(sc.Conversations) == 0 {
		sc.ConversationsEmpty = LabelNoChats
	}

	if s.OpenConversation == nil {
		sc.Header = LabelWelcome
		return sc
	}
	sc.Header = PeerName(*s.OpenConversation, s.UserID)
	if me, ok := s.OpenConversation.ParticipantsData[s.UserID]; ok {
		sc.User = me.Name
	}

	for _, m := range s.Messages {
		sc.Messages = append(sc.Messages, messageItem(m, s, opts))
	}
	switch {
	case s.Loading && len(sc.Messages) == 0:
		sc.MessagesEmpty = LabelLoading
	case len(sc.Messages) == 0:
		sc.MessagesEmpty = LabelNoMessages
	}

	sc.Composer = Composer{
		Mode:        ModeSend,
		Placeholder: PlaceholderMessage,
		Enabled:     true,
		Busy:        s.IsSending,
	}
	if s.EditingMessageID != "" {
		sc.Composer.Mode = ModeEdit
		sc.Composer.Draft = s.Draft
		sc.Composer.Placeholder = PlaceholderEditing
	}
	return sc
}

func messageItem(m model.Message, s chat.State, opts Options) MessageItem {
	it := MessageItem{
		ID:       m.ID,
		Sender:   m.SenderName,
		Text:     m.Text,
		Edited:   m.Edited,
		Pending:  m.Pending(),
		Outgoing: m.SenderID == s.UserID,
		Editing:  m.ID == s.EditingMessageID,
	}
	if it.Sender == "" {
		it.Sender = LabelUnknownPeer
	}
	if it.Pending {
		it.Time = LabelPending
	} else {
		it.Time = formatTime(m.Timestamp, opts)
	}
	if it.Outgoing && !it.Pending {
		it.Actions = []Action{ActionEdit, ActionDelete}
	}
	return it
}

// PeerName returns the display name of the other participant captured in
// the conversation.
func PeerName(c model.Conversation, self string) string {
	peer := ident.Other(c.Participants, self)
	if p, ok := c.ParticipantsData[peer]; ok {
		if p.Name != "" {
			return p.Name
		}
		if p.Email != "" {
			return p.Email
		}
	}
	return LabelUnknownPeer
}

func preview(c model.Conversation) string {
	if c.LastMessage == "" {
		return LabelNewChat
	}
	return c.LastMessage
}

func formatTime(t *time.Time, opts Options) string {
	if t == nil {
		return ""
	}
	return t.In(opts.Location).Format(opts.TimeFormat)
}

// UserItem is one row of the user directory.
type UserItem struct {
	ID     string
	Name   string
	Email  string
	Online bool
}

// ProjectUsers renders the directory filtered by query. The second result
// is the empty-state label, "" when there are rows.
func ProjectUsers(users []model.User, query string) ([]UserItem, string) {
	var out []UserItem
	for _, u := range chat.Search(users, query) {
		out = append(out, UserItem{ID: u.ID, Name: u.Name(), Email: u.Email, Online: u.IsOnline})
	}
	if len(out) == 0 {
		return nil, LabelNoUsers
	}
	return out, ""
}
