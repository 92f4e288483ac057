package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/treechat/internal/feed"
	"github.com/PaulBabatuyi/treechat/internal/logger"
	"github.com/PaulBabatuyi/treechat/internal/model"
)

// fakeSource records subscriptions; tests drive the handlers directly.
type fakeSource struct {
	mu   sync.Mutex
	subs []fakeSub
}

type fakeSub struct {
	q   feed.Query
	h   feed.Handler
	sub *feed.Subscription
}

func (f *fakeSource) Subscribe(ctx context.Context, q feed.Query, h feed.Handler) (*feed.Subscription, error) {
	sub, _ := feed.NewSubscription(ctx, q)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fakeSub{q: q, h: h, sub: sub})
	return sub, nil
}

func (f *fakeSource) last(t *testing.T, scope feed.ScopeKind) fakeSub {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.subs) - 1; i >= 0; i-- {
		if f.subs[i].q.Scope == scope {
			return f.subs[i]
		}
	}
	t.Fatalf("no %s subscription", scope)
	return fakeSub{}
}

func (s fakeSub) batch(events ...feed.Event) bool {
	return s.sub.Deliver(func() { s.h.OnBatch(feed.Batch{Query: s.q, Events: events}) })
}

func (s fakeSub) fail(err error) bool {
	return s.sub.Deliver(func() { s.h.OnError(err) })
}

func stamp(sec int) *time.Time {
	t := time.Date(2024, 1, 1, 0, 0, sec, 0, time.UTC)
	return &t
}

func TestOpenDropsBatchesFromPreviousConversation(t *testing.T) {
	src := &fakeSource{}
	e := NewEngine(src, logger.Nop())
	defer e.Close()

	if err := e.Begin("a"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	convAB := model.Conversation{ID: "a_b", Participants: []string{"a", "b"}}
	convAC := model.Conversation{ID: "a_c", Participants: []string{"a", "c"}}

	if err := e.Open(convAB); err != nil {
		t.Fatalf("Open: %v", err)
	}
	old := src.last(t, feed.ScopeMessages)
	var oldGen uint64
	_ = e.do(func() { oldGen = e.msgSub.gen })

	if err := e.Open(convAC); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !old.sub.Cancelled() {
		t.Fatalf("previous subscription not cancelled")
	}
	if old.batch(feed.AddedMessage(model.Message{ID: "x", ChatID: "a_b", Timestamp: stamp(1)})) {
		t.Fatalf("cancelled subscription still delivered")
	}

	// a batch queued before the switch is dropped by its generation
	_ = e.do(func() {
		e.applyBatch(feed.ScopeMessages, oldGen, feed.Batch{Events: []feed.Event{
			feed.AddedMessage(model.Message{ID: "x", ChatID: "a_b", Timestamp: stamp(1)}),
		}})
	})
	if s := e.Snapshot(); len(s.Messages) != 0 {
		t.Fatalf("stale batch applied: %+v", s.Messages)
	}

	cur := src.last(t, feed.ScopeMessages)
	cur.batch(feed.AddedMessage(model.Message{ID: "y", ChatID: "a_c", Timestamp: stamp(2)}))
	s := waitState(t, e, "current batch", func(s State) bool { return len(s.Messages) == 1 })
	if s.Messages[0].ID != "y" || s.OpenConversationID() != "a_c" {
		t.Fatalf("state = %+v", s)
	}
}

func TestRecoverableErrorShowsBannerUntilNextBatch(t *testing.T) {
	src := &fakeSource{}
	e := NewEngine(src, logger.Nop())
	defer e.Close()
	_ = e.Begin("a")
	convs := src.last(t, feed.ScopeConversations)

	convs.fail(fmt.Errorf("%w: %w", feed.ErrRecoverable, status.Error(codes.Unavailable, "offline")))
	waitState(t, e, "reconnect banner", func(s State) bool { return s.Banner == bannerReconnecting })

	convs.fail(fmt.Errorf("%w: %w", feed.ErrRecoverable, status.Error(codes.FailedPrecondition, "index building")))
	waitState(t, e, "index banner", func(s State) bool { return s.Banner == bannerIndexing })

	convs.batch(feed.AddedConversation(model.Conversation{ID: "a_b", Participants: []string{"a", "b"}}))
	s := waitState(t, e, "banner cleared", func(s State) bool { return s.Banner == "" && len(s.Conversations) == 1 })
	if s.Notice != nil {
		t.Fatalf("recoverable error produced a notice: %+v", s.Notice)
	}
}

func TestBannerPerScope(t *testing.T) {
	src := &fakeSource{}
	e := NewEngine(src, logger.Nop())
	defer e.Close()
	_ = e.Begin("a")
	if err := e.Open(model.Conversation{ID: "a_b", Participants: []string{"a", "b"}}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	convs := src.last(t, feed.ScopeConversations)
	msgs := src.last(t, feed.ScopeMessages)

	convs.fail(fmt.Errorf("%w: %w", feed.ErrRecoverable, status.Error(codes.Unavailable, "offline")))
	waitState(t, e, "reconnect banner", func(s State) bool { return s.Banner == bannerReconnecting })

	// traffic on the message feed says nothing about the conversation feed
	msgs.batch(feed.AddedMessage(model.Message{ID: "m1", ChatID: "a_b", SenderID: "b", Timestamp: stamp(1)}))
	s := waitState(t, e, "message applied", func(s State) bool { return len(s.Messages) == 1 })
	if s.Banner != bannerReconnecting {
		t.Fatalf("banner after message batch = %q", s.Banner)
	}

	// an empty batch reports recovery of that feed only
	msgs.fail(fmt.Errorf("%w: %w", feed.ErrRecoverable, status.Error(codes.Unavailable, "offline")))
	convs.batch()
	var convBanner, msgBanner string
	_ = e.do(func() { convBanner, msgBanner = e.banners[feed.ScopeConversations], e.banners[feed.ScopeMessages] })
	if convBanner != "" || msgBanner != bannerReconnecting {
		t.Fatalf("banners after conversation recovery = %q / %q", convBanner, msgBanner)
	}
	msgs.batch()
	s = waitState(t, e, "message feed recovered", func(s State) bool { return s.Banner == "" })
	if len(s.Messages) != 1 {
		t.Fatalf("recovery batch changed messages: %+v", s.Messages)
	}
}

func TestBeginEditRejectsPendingMessage(t *testing.T) {
	src := &fakeSource{}
	e := NewEngine(src, logger.Nop())
	defer e.Close()
	_ = e.Begin("a")
	if err := e.Open(model.Conversation{ID: "a_b", Participants: []string{"a", "b"}}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	msgs := src.last(t, feed.ScopeMessages)
	msgs.batch(feed.AddedMessage(model.Message{ID: "p", ChatID: "a_b", SenderID: "a", Text: "sending"}))
	waitState(t, e, "pending message", func(s State) bool { return len(s.Messages) == 1 })

	if _, err := e.beginEdit("p", "a"); !errors.Is(err, ErrValidation) {
		t.Fatalf("beginEdit on pending message err = %v", err)
	}
	if s := e.Snapshot(); s.EditingMessageID != "" {
		t.Fatalf("edit mode entered on pending message")
	}
}

func TestTerminalFeedErrorBecomesNotice(t *testing.T) {
	src := &fakeSource{}
	e := NewEngine(src, logger.Nop())
	defer e.Close()
	_ = e.Begin("a")
	convs := src.last(t, feed.ScopeConversations)

	convs.fail(status.Error(codes.PermissionDenied, "rules"))
	s := waitState(t, e, "permission notice", func(s State) bool { return s.Notice != nil })
	if s.Notice.Kind != NoticePermission {
		t.Fatalf("notice = %+v", s.Notice)
	}

	// the ended subscription no longer counts as current
	convs.batch(feed.AddedConversation(model.Conversation{ID: "a_b"}))
	time.Sleep(20 * time.Millisecond)
	if got := e.Snapshot(); len(got.Conversations) != 0 {
		t.Fatalf("batch from ended subscription applied")
	}
}

func TestSnapshotsLatestWins(t *testing.T) {
	src := &fakeSource{}
	e := NewEngine(src, logger.Nop())
	defer e.Close()
	_ = e.Begin("a")
	convs := src.last(t, feed.ScopeConversations)
	for i := 1; i <= 5; i++ {
		convs.batch(feed.AddedConversation(model.Conversation{ID: fmt.Sprintf("c%d", i), LastMessageTime: stamp(i)}))
	}
	waitState(t, e, "all batches", func(s State) bool { return len(s.Conversations) == 5 })

	s := <-e.Snapshots()
	if s.Version != e.Snapshot().Version {
		t.Fatalf("channel held version %d, latest is %d", s.Version, e.Snapshot().Version)
	}
	if s.Conversations[0].ID != "c5" {
		t.Fatalf("most recent conversation first, got %s", s.Conversations[0].ID)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	e := NewEngine(src, logger.Nop())
	_ = e.Begin("a")
	convs := src.last(t, feed.ScopeConversations)
	e.Close()
	e.Close()
	if !convs.sub.Cancelled() {
		t.Fatalf("Close did not cancel subscriptions")
	}
	if err := e.Open(model.Conversation{ID: "a_b"}); err != ErrClosed {
		t.Fatalf("Open after Close err = %v", err)
	}
}
