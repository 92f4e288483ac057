package view

import (
	"testing"
	"time"

	"github.com/PaulBabatuyi/treechat/internal/chat"
	"github.com/PaulBabatuyi/treechat/internal/model"
)

func at(h, m int) *time.Time {
	t := time.Date(2024, 3, 9, h, m, 0, 0, time.UTC)
	return &t
}

func state() chat.State {
	conv := model.Conversation{
		ID:           "a_b",
		Participants: []string{"a", "b"},
		ParticipantsData: map[string]model.Participant{
			"a": {Name: "Alice", Email: "alice@example.com"},
			"b": {Name: "Bob", Email: "bob@example.com"},
		},
		LastMessage:     "later",
		LastMessageTime: at(9, 30),
	}
	return chat.State{
		UserID:           "a",
		Conversations:    []model.Conversation{conv, {ID: "a_c", Participants: []string{"a", "c"}}},
		OpenConversation: &conv,
		Messages: []model.Message{
			{ID: "m1", SenderID: "b", SenderName: "Bob", Text: "hey", Timestamp: at(9, 5)},
			{ID: "m2", SenderID: "a", SenderName: "Alice", Text: "hi", Timestamp: at(9, 6), Edited: true},
			{ID: "m3", SenderID: "a", SenderName: "Alice", Text: "later"},
		},
	}
}

func TestProjectConversations(t *testing.T) {
	sc := Project(state(), Options{})
	if len(sc.Conversations) != 2 {
		t.Fatalf("conversations = %+v", sc.Conversations)
	}
	first, second := sc.Conversations[0], sc.Conversations[1]
	if first.Title != "Bob" || first.Preview != "later" || first.Time != "09:30" || !first.Active {
		t.Fatalf("first row = %+v", first)
	}
	if second.Title != LabelUnknownPeer || second.Preview != LabelNewChat || second.Time != "" || second.Active {
		t.Fatalf("second row = %+v", second)
	}
	if sc.Header != "Bob" || sc.User != "Alice" {
		t.Fatalf("header = %q user = %q", sc.Header, sc.User)
	}
}

func TestProjectMessages(t *testing.T) {
	sc := Project(state(), Options{Location: time.FixedZone("X", 3600)})
	incoming, edited, pending := sc.Messages[0], sc.Messages[1], sc.Messages[2]

	if incoming.Outgoing || len(incoming.Actions) != 0 || incoming.Time != "10:05" {
		t.Fatalf("incoming = %+v", incoming)
	}
	if !edited.Outgoing || !edited.Edited || len(edited.Actions) != 2 {
		t.Fatalf("edited = %+v", edited)
	}
	if !pending.Pending || pending.Time != LabelPending || len(pending.Actions) != 0 {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestProjectComposerModes(t *testing.T) {
	s := state()
	sc := Project(s, Options{})
	if sc.Composer.Mode != ModeSend || !sc.Composer.Enabled || sc.Composer.Placeholder != PlaceholderMessage {
		t.Fatalf("composer = %+v", sc.Composer)
	}

	s.EditingMessageID = "m2"
	s.Draft = "hi"
	s.IsSending = true
	sc = Project(s, Options{})
	if sc.Composer.Mode != ModeEdit || sc.Composer.Draft != "hi" || !sc.Composer.Busy {
		t.Fatalf("edit composer = %+v", sc.Composer)
	}
	if !sc.Messages[1].Editing || sc.Messages[0].Editing {
		t.Fatalf("editing flag misplaced")
	}
}

func TestProjectEmptyStates(t *testing.T) {
	sc := Project(chat.State{UserID: "a"}, Options{})
	if sc.ConversationsEmpty != LabelNoChats || sc.Header != LabelWelcome || sc.Composer.Enabled {
		t.Fatalf("empty screen = %+v", sc)
	}

	s := state()
	s.Messages = nil
	s.Loading = true
	if sc := Project(s, Options{}); sc.MessagesEmpty != LabelLoading {
		t.Fatalf("loading label = %q", sc.MessagesEmpty)
	}
	s.Loading = false
	if sc := Project(s, Options{}); sc.MessagesEmpty != LabelNoMessages {
		t.Fatalf("empty label = %q", sc.MessagesEmpty)
	}
}

func TestProjectUsers(t *testing.T) {
	users := []model.User{
		{ID: "b", DisplayName: "Bob", Email: "bob@example.com", IsOnline: true},
		{ID: "c", Email: "carol@example.com"},
	}
	items, empty := ProjectUsers(users, "carol")
	if empty != "" || len(items) != 1 || items[0].Name != "carol@example.com" {
		t.Fatalf("items = %+v empty = %q", items, empty)
	}
	if _, empty := ProjectUsers(users, "zed"); empty != LabelNoUsers {
		t.Fatalf("empty label = %q", empty)
	}
}
