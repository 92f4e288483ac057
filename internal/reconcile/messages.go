// Package reconcile merges change-feed batches into ordered, deduplicated
// in-memory projections.
package reconcile

import (
	"sort"

	"github.com/PaulBabatuyi/treechat/internal/feed"
	"github.com/PaulBabatuyi/treechat/internal/ident"
	"github.com/PaulBabatuyi/treechat/internal/model"
)

// Result counts what a batch did to a projection.
type Result struct {
	Added      int
	Modified   int
	Removed    int
	Duplicates int
	Ignored    int
}

// Changed reports whether the projection differs after the batch.
func (r Result) Changed() bool {
	return r.Added+r.Modified+r.Removed > 0
}

// MessageSequence is the ordered message list of the open conversation.
// Entries are ordered by creation time; entries without one stay at the
// tail in arrival order.
type MessageSequence struct {
	items []model.Message
	index map[string]int
}

// NewMessageSequence returns an empty sequence.
func NewMessageSequence() *MessageSequence {
	return &MessageSequence{index: make(map[string]int)}
}

// Apply merges a batch in order.
func (s *MessageSequence) Apply(events []feed.Event) Result {
	var r Result
	for _, ev := range events {
		switch ev.Kind {
		case feed.Added:
			if ev.Message == nil {
				r.Ignored++
				continue
			}
			if _, ok := s.index[ev.ID]; ok {
				// a redelivered snapshot may carry the timestamp the local
				// echo lacked, or an edit made while disconnected
				if s.update(*ev.Message, true) {
					r.Modified++
				} else {
					r.Duplicates++
				}
				continue
			}
			s.insert(*ev.Message)
			r.Added++
		case feed.Modified:
			if ev.Message == nil || !s.update(*ev.Message, false) {
				r.Ignored++
				continue
			}
			r.Modified++
		case feed.Removed:
			if !s.remove(ev.ID) {
				r.Ignored++
				continue
			}
			r.Removed++
		default:
			r.Ignored++
		}
	}
	return r
}

// insert places m after every entry with an equal or earlier creation time.
func (s *MessageSequence) insert(m model.Message) {
	pos := sort.Search(len(s.items), func(i int) bool {
		return ident.CompareTimes(s.items[i].Timestamp, m.Timestamp) > 0
	})
	s.items = append(s.items, model.Message{})
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = m
	s.reindex(pos)
}

// update replaces the mutable fields of an existing entry. A pending entry
// that gains a timestamp moves to its place in time. When onlyChanges is
// set an update that would change nothing reports false.
func (s *MessageSequence) update(m model.Message, onlyChanges bool) bool {
	pos, ok := s.index[m.ID]
	if !ok {
		return false
	}
	cur := s.items[pos]
	confirms := cur.Pending() && !m.Pending()
	if onlyChanges && !confirms && sameContent(cur, m) {
		return false
	}

	cur.Text = m.Text
	cur.Edited = m.Edited
	cur.EditedAt = m.EditedAt
	if !confirms {
		s.items[pos] = cur
		return true
	}

	// creation time is fixed once assigned; only a pending entry moves
	cur.Timestamp = m.Timestamp
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	delete(s.index, m.ID)
	s.reindex(pos)
	s.insert(cur)
	return true
}

func sameContent(a, b model.Message) bool {
	if a.Text != b.Text || a.Edited != b.Edited {
		return false
	}
	if (a.EditedAt == nil) != (b.EditedAt == nil) {
		return false
	}
	return a.EditedAt == nil || a.EditedAt.Equal(*b.EditedAt)
}

func (s *MessageSequence) remove(id string) bool {
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	delete(s.index, id)
	s.reindex(pos)
	return true
}

func (s *MessageSequence) reindex(from int) {
	for i := from; i < len(s.items); i++ {
		s.index[s.items[i].ID] = i
	}
}

// Get returns the entry with id.
func (s *MessageSequence) Get(id string) (model.Message, bool) {
	pos, ok := s.index[id]
	if !ok {
		return model.Message{}, false
	}
	return s.items[pos], true
}

// Len returns the number of entries.
func (s *MessageSequence) Len() int { return len(s.items) }

// Messages returns a copy of the sequence in order.
func (s *MessageSequence) Messages() []model.Message {
	out := make([]model.Message, len(s.items))
	copy(out, s.items)
	return out
}

// Reset empties the sequence.
func (s *MessageSequence) Reset() {
	s.items = nil
	s.index = make(map[string]int)
}
