package reconcile

import (
	"sort"

	"github.com/PaulBabatuyi/treechat/internal/feed"
	"github.com/PaulBabatuyi/treechat/internal/ident"
	"github.com/PaulBabatuyi/treechat/internal/model"
)

// ConversationIndex is the signed-in user's conversation list, most recent
// activity first. Conversations without activity sort last.
type ConversationIndex struct {
	byID  map[string]model.Conversation
	order []string
}

// NewConversationIndex returns an empty index.
func NewConversationIndex() *ConversationIndex {
	return &ConversationIndex{byID: make(map[string]model.Conversation)}
}

// Apply merges a batch and re-sorts. Ties keep their previous relative order.
func (x *ConversationIndex) Apply(events []feed.Event) Result {
	var r Result
	for _, ev := range events {
		switch ev.Kind {
		case feed.Added, feed.Modified:
			if ev.Conversation == nil {
				r.Ignored++
				continue
			}
			c := *ev.Conversation
			prev, ok := x.byID[c.ID]
			switch {
			case !ok:
				x.order = append(x.order, c.ID)
				r.Added++
			case ev.Kind == feed.Added && sameConversation(prev, c):
				r.Duplicates++
				continue
			default:
				r.Modified++
			}
			x.byID[c.ID] = c
		case feed.Removed:
			if _, ok := x.byID[ev.ID]; !ok {
				r.Ignored++
				continue
			}
			delete(x.byID, ev.ID)
			for i, id := range x.order {
				if id == ev.ID {
					x.order = append(x.order[:i], x.order[i+1:]...)
					break
				}
			}
			r.Removed++
		default:
			r.Ignored++
		}
	}
	if r.Changed() {
		sort.SliceStable(x.order, func(i, j int) bool {
			a, b := x.byID[x.order[i]], x.byID[x.order[j]]
			return ident.CompareRecency(a.LastMessageTime, b.LastMessageTime) < 0
		})
	}
	return r
}

func sameConversation(a, b model.Conversation) bool {
	if a.LastMessage != b.LastMessage {
		return false
	}
	if (a.LastMessageTime == nil) != (b.LastMessageTime == nil) {
		return false
	}
	if a.LastMessageTime != nil && !a.LastMessageTime.Equal(*b.LastMessageTime) {
		return false
	}
	if len(a.ParticipantsData) != len(b.ParticipantsData) {
		return false
	}
	for k, v := range a.ParticipantsData {
		if b.ParticipantsData[k] != v {
			return false
		}
	}
	return true
}

// Get returns the conversation with id.
func (x *ConversationIndex) Get(id string) (model.Conversation, bool) {
	c, ok := x.byID[id]
	return c, ok
}

// Len returns the number of conversations.
func (x *ConversationIndex) Len() int { return len(x.order) }

// Conversations returns the list in display order.
func (x *ConversationIndex) Conversations() []model.Conversation {
	out := make([]model.Conversation, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.byID[id])
	}
	return out
}

// Reset empties the index.
func (x *ConversationIndex) Reset() {
	x.byID = make(map[string]model.Conversation)
	x.order = nil
}
