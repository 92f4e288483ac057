package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PaulBabatuyi/treechat/internal/chat"
	"github.com/PaulBabatuyi/treechat/internal/view"
)

// terminal draws screens as plain text. Writes are serialized because
// snapshots and command output come from different goroutines.
type terminal struct {
	mu         sync.Mutex
	out        io.Writer
	opts       view.Options
	lastNotice uint64
}

func newTerminal(out io.Writer, opts view.Options) *terminal {
	return &terminal{out: out, opts: opts}
}

// render draws one snapshot. Each notice is printed once.
func (t *terminal) render(s chat.State) {
	sc := view.Project(s, t.opts)

	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	b.WriteString("\n== Conversations ==\n")
	if sc.ConversationsEmpty != "" {
		fmt.Fprintf(&b, "  %s\n", sc.ConversationsEmpty)
	}
	for i, c := range sc.Conversations {
		marker := " "
		if c.Active {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s %d. %-20s %-5s %s\n", marker, i+1, c.Title, c.Time, c.Preview)
	}

	fmt.Fprintf(&b, "== %s ==\n", sc.Header)
	if sc.Banner != "" {
		fmt.Fprintf(&b, "! %s\n", sc.Banner)
	}
	if sc.MessagesEmpty != "" {
		fmt.Fprintf(&b, "  %s\n", sc.MessagesEmpty)
	}
	for i, m := range sc.Messages {
		b.WriteString(formatMessage(i+1, m))
		b.WriteByte('\n')
	}

	if sc.Notice != nil && sc.Notice.Seq > t.lastNotice {
		t.lastNotice = sc.Notice.Seq
		fmt.Fprintf(&b, "%s %s\n", noticePrefix(sc.Notice.Kind), sc.Notice.Text)
	}
	if sc.Composer.Enabled {
		b.WriteString(composerLine(sc.Composer))
		b.WriteByte('\n')
	}
	io.WriteString(t.out, b.String())
}

func formatMessage(n int, m view.MessageItem) string {
	var b strings.Builder
	marker := " "
	if m.Editing {
		marker = "*"
	}
	fmt.Fprintf(&b, "%s %3d [%s] %s: %s", marker, n, m.Time, m.Sender, m.Text)
	if m.Edited {
		b.WriteString(" " + view.LabelEdited)
	}
	return b.String()
}

func composerLine(c view.Composer) string {
	line := "-- " + c.Placeholder
	if c.Mode == view.ModeEdit {
		line += " (draft: " + c.Draft + ", /cancel to stop)"
	}
	if c.Busy {
		line += " " + view.LabelPending
	}
	return line
}

func noticePrefix(k chat.NoticeKind) string {
	switch k {
	case chat.NoticePermission:
		return "[denied]"
	case chat.NoticeFailure:
		return "[error]"
	case chat.NoticeWarning:
		return "[warn]"
	default:
		return "[info]"
	}
}

// users prints the directory.
func (t *terminal) users(items []view.UserItem, empty string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	b.WriteString("== People ==\n")
	if empty != "" {
		fmt.Fprintf(&b, "  %s\n", empty)
	}
	for _, u := range items {
		status := "offline"
		if u.Online {
			status = "online"
		}
		fmt.Fprintf(&b, "  %-20s %-30s %s\n", u.Name, u.Email, status)
	}
	io.WriteString(t.out, b.String())
}

// println writes a line of command output.
func (t *terminal) println(a ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, a...)
}

// prompt writes text without a newline.
func (t *terminal) prompt(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	io.WriteString(t.out, text)
}
