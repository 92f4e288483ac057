package chat

import "github.com/PaulBabatuyi/treechat/internal/model"

// State is a read-only snapshot of the client. Snapshots are never mutated
// after publication.
type State struct {
	UserID        string
	Conversations []model.Conversation

	// OpenConversation is the latest known copy of the selected
	// conversation, nil when none is selected.
	OpenConversation *model.Conversation
	Messages         []model.Message
	// Loading is set until the first batch of the open conversation.
	Loading bool

	EditingMessageID string
	Draft            string
	IsSending        bool

	Notice *Notice
	// Banner describes an outage the feed is recovering from on its own.
	Banner string

	Version uint64
}

// OpenConversationID returns the id of the selected conversation or "".
func (s State) OpenConversationID() string {
	if s.OpenConversation == nil {
		return ""
	}
	return s.OpenConversation.ID
}

// Message returns the message with id from the snapshot.
func (s State) Message(id string) (model.Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return model.Message{}, false
}
