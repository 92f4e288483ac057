// Package ident derives conversation keys and message ordering.
package ident

import (
	"strings"
	"time"
)

// Separator joins the two participant ids of a conversation key.
const Separator = "_"

// ConversationKey returns the deterministic key for the conversation between
// a and b. The result does not depend on argument order, so one pair of users
// always maps to one conversation.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}

// Contains reports whether id is one of participants.
func Contains(participants []string, id string) bool {
	for _, p := range participants {
		if p == id {
			return true
		}
	}
	return false
}

// Other returns the first participant that is not self, or "" if none.
func Other(participants []string, self string) string {
	for _, p := range participants {
		if p != self {
			return p
		}
	}
	return ""
}

// CompareTimes orders creation times ascending. A nil time belongs to a write
// the store has not timestamped yet and sorts after every real time.
func CompareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

// CompareRecency orders times descending, nil last. Used for the
// conversation list.
func CompareRecency(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return b.Compare(*a)
}

// Valid reports whether key could have been produced by ConversationKey for
// the two given participants.
func Valid(key string, participants []string) bool {
	if len(participants) != 2 || participants[0] == participants[1] {
		return false
	}
	if strings.TrimSpace(participants[0]) == "" || strings.TrimSpace(participants[1]) == "" {
		return false
	}
	return key == ConversationKey(participants[0], participants[1])
}
