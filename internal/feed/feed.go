// Package feed adapts push-based store change notification into ordered
// batches of typed change events.
package feed

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/treechat/internal/model"
)

// Kind is the type of a change event.
type Kind int

const (
	Added Kind = iota + 1
	Modified
	Removed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ScopeKind selects the collection a query watches.
type ScopeKind int

const (
	// ScopeConversations watches every conversation that lists a user.
	ScopeConversations ScopeKind = iota + 1
	// ScopeMessages watches the messages of one conversation.
	ScopeMessages
)

func (s ScopeKind) String() string {
	switch s {
	case ScopeConversations:
		return "conversations"
	case ScopeMessages:
		return "messages"
	default:
		return "unknown"
	}
}

// Query names the parent scope of a subscription.
type Query struct {
	Scope ScopeKind
	// ID is the user id for ScopeConversations and the conversation id
	// for ScopeMessages.
	ID string
}

// ConversationsOf returns the query for a user's conversation list.
func ConversationsOf(userID string) Query {
	return Query{Scope: ScopeConversations, ID: userID}
}

// MessagesOf returns the query for one conversation's messages.
func MessagesOf(conversationID string) Query {
	return Query{Scope: ScopeMessages, ID: conversationID}
}

func (q Query) String() string {
	return q.Scope.String() + "/" + q.ID
}

// Event is a change to one document. Exactly one of Conversation or Message
// is set for Added and Modified, matching the query scope; both are nil for
// Removed.
type Event struct {
	Kind         Kind
	ID           string
	Conversation *model.Conversation
	Message      *model.Message
}

// Batch is a group of events in store delivery order. A batch with no
// events that is not Initial reports that the subscription recovered from
// an outage without missing anything.
type Batch struct {
	Query  Query
	Events []Event
	// Initial marks the snapshot batch delivered when a subscription
	// starts or restarts without a resume point.
	Initial bool
}

// Handler receives batches and errors for one subscription. Calls for one
// subscription never overlap.
type Handler interface {
	OnBatch(Batch)
	OnError(error)
}

// HandlerFuncs adapts two functions into a Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Batch func(Batch)
	Error func(error)
}

// OnBatch calls f.Batch.
func (f HandlerFuncs) OnBatch(b Batch) {
	if f.Batch != nil {
		f.Batch(b)
	}
}

// OnError calls f.Error.
func (f HandlerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// Source opens change-feed subscriptions. Subscribe must not invoke the
// handler before returning; delivery happens on the source's own goroutines.
type Source interface {
	Subscribe(ctx context.Context, q Query, h Handler) (*Subscription, error)
}

// IsRecovery reports whether b only signals recovery.
func (b Batch) IsRecovery() bool {
	return !b.Initial && len(b.Events) == 0
}

// AddedConversation builds an Added event for a conversation snapshot.
func AddedConversation(c model.Conversation) Event {
	return Event{Kind: Added, ID: c.ID, Conversation: &c}
}

// ModifiedConversation builds a Modified event for a conversation snapshot.
func ModifiedConversation(c model.Conversation) Event {
	return Event{Kind: Modified, ID: c.ID, Conversation: &c}
}

// AddedMessage builds an Added event for a message snapshot.
func AddedMessage(m model.Message) Event {
	return Event{Kind: Added, ID: m.ID, Message: &m}
}

// ModifiedMessage builds a Modified event for a message snapshot.
func ModifiedMessage(m model.Message) Event {
	return Event{Kind: Modified, ID: m.ID, Message: &m}
}

// RemovedID builds a Removed event.
func RemovedID(id string) Event {
	return Event{Kind: Removed, ID: id}
}
