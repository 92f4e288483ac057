package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/treechat/internal/auth"
	"github.com/PaulBabatuyi/treechat/internal/chat"
	"github.com/PaulBabatuyi/treechat/internal/logger"
	"github.com/PaulBabatuyi/treechat/internal/memstore"
	"github.com/PaulBabatuyi/treechat/internal/model"
	"github.com/PaulBabatuyi/treechat/internal/view"
)

// syncBuffer is a bytes.Buffer safe for the renderer and the test.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type nopMailer struct{}

func (nopMailer) SendReset(context.Context, string, string, time.Time) error { return nil }

type appFixture struct {
	app    *app
	engine *chat.Engine
	store  *memstore.Store
	out    *syncBuffer
	lines  chan string
	bob    model.User
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()

	hashed, err := auth.HashPassword("secret1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	bob, err := store.CreateUser(ctx, "bob@example.com", "Bob", hashed)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	provider := auth.NewProvider(store, auth.NewJWTManager("test-secret", time.Hour), nil, nopMailer{}, time.Minute, logger.Nop())
	engine := chat.NewEngine(store, logger.Nop())
	t.Cleanup(engine.Close)
	client := chat.NewClient(engine, store, logger.Nop())
	t.Cleanup(bindSession(provider, client))

	if _, err := provider.SignUp(ctx, "Alice", "alice@example.com", "secret1"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	out := &syncBuffer{}
	lines := make(chan string, 1)
	a := &app{
		provider: provider,
		client:   client,
		term:     newTerminal(out, view.Options{}),
		lines:    lines,
		log:      logger.Nop(),
	}
	return &appFixture{app: a, engine: engine, store: store, out: out, lines: lines, bob: *bob}
}

func (f *appFixture) exec(t *testing.T, line string) error {
	t.Helper()
	cmd, err := parseCommand(line)
	if err != nil {
		t.Fatalf("parseCommand(%q): %v", line, err)
	}
	return f.app.handle(context.Background(), cmd)
}

func waitFor(t *testing.T, e *chat.Engine, what string, cond func(chat.State) bool) chat.State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := e.Snapshot(); cond(s) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
	return chat.State{}
}

func TestAppConversationFlow(t *testing.T) {
	f := newAppFixture(t)

	if err := f.exec(t, "/open bob@example.com"); err != nil {
		t.Fatalf("/open: %v", err)
	}
	waitFor(t, f.engine, "conversation open", func(s chat.State) bool {
		return s.OpenConversation != nil && !s.Loading
	})

	if err := f.exec(t, "hi bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, f.engine, "message", func(s chat.State) bool {
		return len(s.Messages) == 1 && s.Messages[0].Text == "hi bob"
	})

	if err := f.exec(t, "/edit 1"); err != nil {
		t.Fatalf("/edit: %v", err)
	}
	waitFor(t, f.engine, "edit mode", func(s chat.State) bool { return s.EditingMessageID != "" })
	// a plain line saves the edit instead of sending
	if err := f.exec(t, "hello bob"); err != nil {
		t.Fatalf("save edit: %v", err)
	}
	s := waitFor(t, f.engine, "edited message", func(s chat.State) bool {
		return len(s.Messages) == 1 && s.Messages[0].Text == "hello bob" && s.Messages[0].Edited
	})
	if s.EditingMessageID != "" {
		t.Fatalf("still editing after save")
	}

	f.lines <- "n"
	if err := f.exec(t, "/delete 1"); err != nil {
		t.Fatalf("/delete declined: %v", err)
	}
	if len(f.engine.Snapshot().Messages) != 1 {
		t.Fatalf("declined delete removed the message")
	}

	f.lines <- "y"
	if err := f.exec(t, "/delete 1"); err != nil {
		t.Fatalf("/delete: %v", err)
	}
	waitFor(t, f.engine, "message removed", func(s chat.State) bool { return len(s.Messages) == 0 })
}

func TestAppUsersAndRender(t *testing.T) {
	f := newAppFixture(t)

	if err := f.exec(t, "/users bo"); err != nil {
		t.Fatalf("/users: %v", err)
	}
	if !strings.Contains(f.out.String(), "bob@example.com") {
		t.Fatalf("directory output = %q", f.out.String())
	}

	if err := f.exec(t, "/open nobody@example.com"); err != nil {
		t.Fatalf("/open unknown: %v", err)
	}
	if !strings.Contains(f.out.String(), view.LabelNoUsers) {
		t.Fatalf("missing no-users label in %q", f.out.String())
	}

	if err := f.exec(t, "/open bob@example.com"); err != nil {
		t.Fatalf("/open: %v", err)
	}
	s := waitFor(t, f.engine, "conversation open", func(s chat.State) bool {
		return s.OpenConversation != nil && !s.Loading
	})
	f.app.term.render(s)
	if !strings.Contains(f.out.String(), "== Bob ==") {
		t.Fatalf("render output = %q", f.out.String())
	}
}

func TestAppValidationAndSignedOut(t *testing.T) {
	f := newAppFixture(t)

	// nothing open yet
	err := f.exec(t, "hello")
	if chat.Classify(err) != chat.ClassValidation {
		t.Fatalf("send without conversation err = %v", err)
	}
	f.app.report(err)
	if !strings.Contains(f.out.String(), err.Error()) {
		t.Fatalf("validation error not printed")
	}

	if err := f.app.provider.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if err := f.exec(t, "/users"); !errors.Is(err, errSignedOut) {
		t.Fatalf("signed out err = %v", err)
	}
}

func TestTerminalPrintsNoticeOnce(t *testing.T) {
	out := &syncBuffer{}
	term := newTerminal(out, view.Options{})
	s := chat.State{UserID: "a", Notice: &chat.Notice{Kind: chat.NoticeFailure, Text: "Couldn't send the message.", Seq: 1}}

	term.render(s)
	term.render(s)
	if n := strings.Count(out.String(), "Couldn't send the message."); n != 1 {
		t.Fatalf("notice printed %d times", n)
	}
}

func TestDebugRouter(t *testing.T) {
	up := debugRouter(func(context.Context) error { return nil })
	rec := httptest.NewRecorder()
	up.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	up.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}

	down := debugRouter(func(context.Context) error { return errors.New("down") })
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status when down = %d", rec.Code)
	}
}
