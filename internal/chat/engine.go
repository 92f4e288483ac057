// Package chat keeps the client's reconciled view of conversations and
// messages and coordinates the user's writes against it.
package chat

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/PaulBabatuyi/treechat/internal/feed"
	"github.com/PaulBabatuyi/treechat/internal/logger"
	"github.com/PaulBabatuyi/treechat/internal/metrics"
	"github.com/PaulBabatuyi/treechat/internal/model"
	"github.com/PaulBabatuyi/treechat/internal/reconcile"
)

// ErrClosed is returned by engine calls after Close.
var ErrClosed = errors.New("chat: engine closed")

const (
	bannerReconnecting = "Connection lost. Reconnecting..."
	bannerIndexing     = "The server is still preparing this view. Retrying..."
)

// Engine owns the projections. A single goroutine applies feed batches,
// user commands and write outcomes in the order they are posted, so the
// projections have exactly one writer.
type Engine struct {
	source feed.Source
	log    *logger.Logger

	inbox     chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	snapshots chan State
	mu        sync.RWMutex
	current   State

	// loop-owned below
	userID    string
	convs     *reconcile.ConversationIndex
	msgs      *reconcile.MessageSequence
	open      *model.Conversation
	loading   bool
	editing   string
	draft     string
	sending   int
	notice    *Notice
	noticeSeq uint64
	banners   map[feed.ScopeKind]string
	version   uint64

	gen     uint64
	convSub *active
	msgSub  *active
}

// active is one live subscription. stop is closed before the subscription
// is cancelled so a callback blocked on the inbox gives up.
type active struct {
	sub  *feed.Subscription
	gen  uint64
	stop chan struct{}
}

// NewEngine starts an engine reading from source. Call Close to stop it.
func NewEngine(source feed.Source, log *logger.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		source:    source,
		log:       log.Named("engine"),
		inbox:     make(chan func()),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		snapshots: make(chan State, 1),
		convs:     reconcile.NewConversationIndex(),
		msgs:      reconcile.NewMessageSequence(),
		banners:   make(map[feed.ScopeKind]string),
	}
	go e.loop()
	return e
}

func (e *Engine) loop() {
	defer close(e.stopped)
	for {
		select {
		case fn := <-e.inbox:
			fn()
		case <-e.quit:
			e.teardown()
			return
		}
	}
}

// Close cancels every subscription and stops the loop. Safe to call more
// than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
		<-e.stopped
		e.cancel()
	})
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(fn func()) error {
	done := make(chan struct{})
	select {
	case e.inbox <- func() { fn(); close(done) }:
	case <-e.quit:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrClosed
	}
}

// post queues fn without waiting. It gives up once stop or the engine is
// closed.
func (e *Engine) post(stop <-chan struct{}, fn func()) {
	select {
	case e.inbox <- fn:
	case <-stop:
	case <-e.quit:
	}
}

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Snapshots delivers published states. Only the newest unread snapshot is
// kept.
func (e *Engine) Snapshots() <-chan State {
	return e.snapshots
}

// Begin starts a session for userID and subscribes to its conversation
// list. Any previous session is torn down first.
func (e *Engine) Begin(userID string) error {
	if userID == "" {
		return invalid("missing user id")
	}
	var err error
	if derr := e.do(func() {
		e.teardown()
		e.userID = userID
		e.convSub, err = e.subscribe(feed.ConversationsOf(userID))
		if err != nil {
			e.notify(Notice{Kind: NoticeFailure, Text: "Couldn't load your conversations."})
		}
		e.publish()
	}); derr != nil {
		return derr
	}
	return err
}

// End tears down the session: subscriptions are cancelled before the state
// is discarded.
func (e *Engine) End() error {
	return e.do(func() {
		e.teardown()
		e.publish()
	})
}

// Open selects c. The previous message subscription is cancelled and the
// message list cleared before the new subscription starts.
func (e *Engine) Open(c model.Conversation) error {
	var err error
	if derr := e.do(func() {
		if e.userID == "" {
			err = invalid("not signed in")
			return
		}
		e.cancelActive(e.msgSub)
		e.msgSub = nil
		e.msgs.Reset()
		e.editing, e.draft = "", ""
		delete(e.banners, feed.ScopeMessages)

		cp := c
		e.open = &cp
		e.loading = true

		e.msgSub, err = e.subscribe(feed.MessagesOf(c.ID))
		if err != nil {
			e.loading = false
			e.notify(Notice{Kind: NoticeFailure, Text: "Couldn't open the conversation."})
		}
		e.publish()
	}); derr != nil {
		return derr
	}
	return err
}

// DismissNotice clears the current notice.
func (e *Engine) DismissNotice() error {
	return e.do(func() {
		if e.notice != nil {
			e.notice = nil
			e.publish()
		}
	})
}

func (e *Engine) subscribe(q feed.Query) (*active, error) {
	e.gen++
	a := &active{gen: e.gen, stop: make(chan struct{})}
	h := &feedHandler{e: e, scope: q.Scope, gen: a.gen, stop: a.stop}
	sub, err := e.source.Subscribe(e.ctx, q, h)
	if err != nil {
		e.log.Error("subscribe failed", zap.String("query", q.String()), zap.Error(err))
		return nil, err
	}
	a.sub = sub
	e.log.Debug("subscribed",
		zap.String("query", q.String()),
		zap.String("subscription", sub.ID()),
		zap.Uint64("generation", a.gen))
	return a, nil
}

func (e *Engine) cancelActive(a *active) {
	if a == nil {
		return
	}
	close(a.stop)
	a.sub.Cancel()
}

func (e *Engine) teardown() {
	e.cancelActive(e.msgSub)
	e.cancelActive(e.convSub)
	e.msgSub, e.convSub = nil, nil

	e.userID = ""
	e.convs.Reset()
	e.msgs.Reset()
	e.open = nil
	e.loading = false
	e.editing, e.draft = "", ""
	e.sending = 0
	e.notice = nil
	clear(e.banners)
}

func (e *Engine) isCurrent(scope feed.ScopeKind, gen uint64) bool {
	var a *active
	switch scope {
	case feed.ScopeConversations:
		a = e.convSub
	case feed.ScopeMessages:
		a = e.msgSub
	}
	return a != nil && a.gen == gen
}

func (e *Engine) applyBatch(scope feed.ScopeKind, gen uint64, b feed.Batch) {
	label := scope.String()
	if !e.isCurrent(scope, gen) {
		metrics.StaleBatches.WithLabelValues(label).Inc()
		e.log.Debug("dropped stale batch", zap.String("scope", label), zap.Uint64("generation", gen))
		return
	}
	if b.IsRecovery() {
		e.log.Info("feed recovered", zap.String("scope", label), zap.Uint64("generation", gen))
	}

	var r reconcile.Result
	switch scope {
	case feed.ScopeConversations:
		if b.Initial {
			e.convs.Reset()
		}
		r = e.convs.Apply(b.Events)
	case feed.ScopeMessages:
		if b.Initial {
			e.msgs.Reset()
		}
		r = e.msgs.Apply(b.Events)
		e.loading = false
		if e.editing != "" {
			if _, ok := e.msgs.Get(e.editing); !ok {
				e.editing, e.draft = "", ""
			}
		}
	}

	metrics.FeedBatches.WithLabelValues(label).Inc()
	for _, ev := range b.Events {
		metrics.FeedEvents.WithLabelValues(label, ev.Kind.String()).Inc()
	}
	if r.Duplicates > 0 {
		metrics.DuplicatesSuppressed.WithLabelValues(label).Add(float64(r.Duplicates))
	}

	// any batch, including an empty recovery batch, proves this feed healthy
	delete(e.banners, scope)
	e.publish()
}

func (e *Engine) feedError(scope feed.ScopeKind, gen uint64, err error) {
	if !e.isCurrent(scope, gen) {
		return
	}
	log := e.log.With(zap.String("scope", scope.String()), zap.Uint64("generation", gen))

	switch Classify(err) {
	case ClassRecoverable:
		log.Warn("feed interrupted", zap.Error(err))
		if feed.IndexNotReady(err) {
			e.banners[scope] = bannerIndexing
		} else {
			e.banners[scope] = bannerReconnecting
		}
	case ClassPermission:
		log.Warn("feed denied", zap.Error(err))
		e.notify(Notice{Kind: NoticePermission, Text: "Access denied: you can't view these " + scope.String() + "."})
		e.dropEnded(scope)
	default:
		log.Error("feed ended", zap.Error(err))
		e.notify(Notice{Kind: NoticeFailure, Text: "Live updates for " + scope.String() + " stopped."})
		e.dropEnded(scope)
	}
	e.publish()
}

// dropEnded forgets a subscription whose source has already stopped.
func (e *Engine) dropEnded(scope feed.ScopeKind) {
	delete(e.banners, scope)
	switch scope {
	case feed.ScopeConversations:
		e.convSub = nil
	case feed.ScopeMessages:
		e.msgSub = nil
		e.loading = false
	}
}

// banner returns the outage text to show, conversation list first.
func (e *Engine) banner() string {
	if b := e.banners[feed.ScopeConversations]; b != "" {
		return b
	}
	return e.banners[feed.ScopeMessages]
}

func (e *Engine) notify(n Notice) {
	e.noticeSeq++
	n.Seq = e.noticeSeq
	e.notice = &n
}

func (e *Engine) publish() {
	e.version++
	s := State{
		UserID:           e.userID,
		Conversations:    e.convs.Conversations(),
		Messages:         e.msgs.Messages(),
		Loading:          e.loading,
		EditingMessageID: e.editing,
		Draft:            e.draft,
		IsSending:        e.sending > 0,
		Banner:           e.banner(),
		Version:          e.version,
	}
	if e.open != nil {
		c := *e.open
		if latest, ok := e.convs.Get(c.ID); ok {
			c = latest
		}
		s.OpenConversation = &c
	}
	if e.notice != nil {
		n := *e.notice
		s.Notice = &n
	}

	e.mu.Lock()
	e.current = s
	e.mu.Unlock()

	// latest wins; only the loop sends, so the second select never blocks
	select {
	case <-e.snapshots:
	default:
	}
	select {
	case e.snapshots <- s:
	default:
	}
}

// feedHandler forwards one subscription's callbacks into the loop.
type feedHandler struct {
	e     *Engine
	scope feed.ScopeKind
	gen   uint64
	stop  chan struct{}
}

func (h *feedHandler) OnBatch(b feed.Batch) {
	h.e.post(h.stop, func() { h.e.applyBatch(h.scope, h.gen, b) })
}

func (h *feedHandler) OnError(err error) {
	h.e.post(h.stop, func() { h.e.feedError(h.scope, h.gen, err) })
}

// The calls below serve the coordinator.

func (e *Engine) openConversation() (model.Conversation, bool, error) {
	var (
		c  model.Conversation
		ok bool
	)
	err := e.do(func() {
		if e.open == nil {
			return
		}
		c, ok = *e.open, true
		if latest, found := e.convs.Get(c.ID); found {
			c = latest
		}
	})
	return c, ok, err
}

func (e *Engine) message(id string) (model.Message, bool, error) {
	var (
		m  model.Message
		ok bool
	)
	err := e.do(func() { m, ok = e.msgs.Get(id) })
	return m, ok, err
}

// beginEdit enters edit mode for id, replacing any edit in progress.
func (e *Engine) beginEdit(id, userID string) (string, error) {
	var (
		draft string
		err   error
	)
	if derr := e.do(func() {
		m, ok := e.msgs.Get(id)
		switch {
		case !ok:
			err = invalid("message not found")
		case m.SenderID != userID:
			err = invalid("you can only edit your own messages")
		case m.Pending():
			err = invalid("message is still sending")
		default:
			e.editing, e.draft = id, m.Text
			draft = m.Text
			e.publish()
		}
	}); derr != nil {
		return "", derr
	}
	return draft, err
}

func (e *Engine) editingID() (string, error) {
	var id string
	err := e.do(func() { id = e.editing })
	return id, err
}

// finishEdit leaves edit mode if id is still the message being edited.
func (e *Engine) finishEdit(id string) {
	_ = e.do(func() {
		if id == "" || e.editing == id {
			e.editing, e.draft = "", ""
			e.publish()
		}
	})
}

func (e *Engine) addSending(delta int) {
	_ = e.do(func() {
		e.sending += delta
		if e.sending < 0 {
			e.sending = 0
		}
		e.publish()
	})
}

func (e *Engine) report(n Notice) {
	_ = e.do(func() {
		e.notify(n)
		e.publish()
	})
}
