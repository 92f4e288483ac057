package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/treechat/internal/logger"
	"github.com/PaulBabatuyi/treechat/internal/metrics"
	"github.com/PaulBabatuyi/treechat/internal/model"
)

// MongoSource serves subscriptions from MongoDB change streams. Change
// streams require a replica set or sharded cluster.
type MongoSource struct {
	chats    *mongo.Collection
	messages *mongo.Collection
	log      *logger.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewMongoSource returns a source watching the given collections.
func NewMongoSource(chats, messages *mongo.Collection, log *logger.Logger, maxBackoff time.Duration) *MongoSource {
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &MongoSource{
		chats:      chats,
		messages:   messages,
		log:        log.Named("feed"),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: maxBackoff,
	}
}

// changeDoc is the subset of a change stream event we decode.
type changeDoc[T any] struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument *T `bson:"fullDocument"`
}

// Subscribe starts a worker that delivers the current result set followed
// by live changes until the subscription is cancelled or fails terminally.
func (s *MongoSource) Subscribe(ctx context.Context, q Query, h Handler) (*Subscription, error) {
	if q.ID == "" {
		return nil, fmt.Errorf("feed: empty scope id for %s", q.Scope)
	}
	var w watcher
	switch q.Scope {
	case ScopeConversations:
		w = watcher{
			coll:     s.chats,
			filter:   bson.D{{Key: "participants", Value: q.ID}},
			pipeline: scopePipeline("fullDocument.participants", q.ID),
			decode:   decodeConversation,
			snapshot: snapshotConversations,
		}
	case ScopeMessages:
		w = watcher{
			coll:     s.messages,
			filter:   bson.D{{Key: "chat_id", Value: q.ID}},
			sort:     bson.D{{Key: "timestamp", Value: 1}},
			pipeline: scopePipeline("fullDocument.chat_id", q.ID),
			decode:   decodeMessage,
			snapshot: snapshotMessages,
		}
	default:
		return nil, fmt.Errorf("feed: unknown scope %d", q.Scope)
	}

	sub, subCtx := NewSubscription(ctx, q)
	metrics.SubscriptionsActive.WithLabelValues(q.Scope.String()).Inc()
	go s.run(subCtx, sub, h, w)
	return sub, nil
}

// scopePipeline matches changes inside the scope. Delete events carry no
// document, so every delete passes and consumers ignore unknown ids.
func scopePipeline(field, id string) mongo.Pipeline {
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: field, Value: id}},
				bson.D{{Key: "operationType", Value: "delete"}},
			}},
		}}},
	}
}

type watcher struct {
	coll     *mongo.Collection
	filter   bson.D
	sort     bson.D
	pipeline mongo.Pipeline
	decode   func(bson.Raw) (Event, bool, error)
	snapshot func(ctx context.Context, cur *mongo.Cursor) ([]Event, error)
}

func (s *MongoSource) run(ctx context.Context, sub *Subscription, h Handler, w watcher) {
	q := sub.Query()
	log := s.log.With(zap.String("subscription", sub.ID()), zap.String("query", q.String()))
	defer func() {
		metrics.SubscriptionsActive.WithLabelValues(q.Scope.String()).Dec()
		sub.Finish()
	}()

	var token bson.Raw
	backoff := s.minBackoff
	reported := false

	for {
		err := s.stream(ctx, sub, h, w, &token, func() bool {
			// a healthy stream resets the outage state
			wasReported := reported
			backoff = s.minBackoff
			reported = false
			return wasReported
		})
		if ctx.Err() != nil {
			log.Debug("subscription stopped")
			return
		}
		if token != nil && historyLost(err) {
			log.Warn("resume point lost, restarting from snapshot", zap.Error(err))
			token = nil
			continue
		}
		if !IsRecoverable(err) {
			log.Error("change feed failed", zap.Error(err))
			metrics.FeedErrors.WithLabelValues(q.Scope.String(), "terminal").Inc()
			sub.Deliver(func() { h.OnError(err) })
			return
		}

		metrics.FeedErrors.WithLabelValues(q.Scope.String(), "recoverable").Inc()
		if !reported {
			log.Warn("change feed interrupted, retrying", zap.Error(err))
			wrapped := fmt.Errorf("%w: %w", ErrRecoverable, err)
			sub.Deliver(func() { h.OnError(wrapped) })
			reported = true
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// stream opens one change stream and pumps it until it errors. The stream
// is opened before the snapshot query so no write falls between them; a
// write seen by both arrives twice, which consumers tolerate.
func (s *MongoSource) stream(ctx context.Context, sub *Subscription, h Handler, w watcher, token *bson.Raw, healthy func() bool) error {
	q := sub.Query()

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if *token != nil {
		opts.SetResumeAfter(*token)
	}
	cs, err := w.coll.Watch(ctx, w.pipeline, opts)
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}
	defer cs.Close(context.Background())

	if *token == nil {
		findOpts := options.Find()
		if w.sort != nil {
			findOpts.SetSort(w.sort)
		}
		cur, err := w.coll.Find(ctx, w.filter, findOpts)
		if err != nil {
			return fmt.Errorf("snapshot query: %w", err)
		}
		events, err := w.snapshot(ctx, cur)
		if err != nil {
			return fmt.Errorf("snapshot decode: %w", err)
		}
		if rt := cs.ResumeToken(); rt != nil {
			*token = rt
		}
		healthy()
		batch := Batch{Query: q, Events: events, Initial: true}
		if !sub.Deliver(func() { h.OnBatch(batch) }) {
			return ctx.Err()
		}
	} else if healthy() {
		// resumed without a snapshot; tell the handler the outage is over
		batch := Batch{Query: q}
		if !sub.Deliver(func() { h.OnBatch(batch) }) {
			return ctx.Err()
		}
	}

	for cs.Next(ctx) {
		var events []Event
		for {
			ev, ok, err := w.decode(cs.Current)
			if err != nil {
				return err
			}
			if ok {
				events = append(events, ev)
			}
			*token = cs.ResumeToken()
			// drain what the server already sent as one batch
			if cs.RemainingBatchLength() == 0 || !cs.Next(ctx) {
				break
			}
		}
		if len(events) == 0 {
			continue
		}
		batch := Batch{Query: q, Events: events}
		if !sub.Deliver(func() { h.OnBatch(batch) }) {
			return ctx.Err()
		}
	}
	if err := cs.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func kindOf(op string) (Kind, error) {
	switch op {
	case "insert":
		return Added, nil
	case "update", "replace":
		return Modified, nil
	case "delete":
		return Removed, nil
	case "invalidate", "drop", "dropDatabase", "rename":
		return 0, fmt.Errorf("%w: %s", ErrInvalidated, op)
	default:
		return 0, nil
	}
}

func decodeConversation(raw bson.Raw) (Event, bool, error) {
	var doc changeDoc[model.Conversation]
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return Event{}, false, fmt.Errorf("decode conversation change: %w", err)
	}
	kind, err := kindOf(doc.OperationType)
	if err != nil || kind == 0 {
		return Event{}, false, err
	}
	if kind == Removed {
		return RemovedID(doc.DocumentKey.ID), true, nil
	}
	if doc.FullDocument == nil {
		// update lookup found the document already gone; its delete follows
		return Event{}, false, nil
	}
	return Event{Kind: kind, ID: doc.FullDocument.ID, Conversation: doc.FullDocument}, true, nil
}

func decodeMessage(raw bson.Raw) (Event, bool, error) {
	var doc changeDoc[model.Message]
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return Event{}, false, fmt.Errorf("decode message change: %w", err)
	}
	kind, err := kindOf(doc.OperationType)
	if err != nil || kind == 0 {
		return Event{}, false, err
	}
	if kind == Removed {
		return RemovedID(doc.DocumentKey.ID), true, nil
	}
	if doc.FullDocument == nil {
		return Event{}, false, nil
	}
	return Event{Kind: kind, ID: doc.FullDocument.ID, Message: doc.FullDocument}, true, nil
}

func snapshotConversations(ctx context.Context, cur *mongo.Cursor) ([]Event, error) {
	defer cur.Close(ctx)
	var convs []model.Conversation
	if err := cur.All(ctx, &convs); err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(convs))
	for _, c := range convs {
		events = append(events, AddedConversation(c))
	}
	return events, nil
}

func snapshotMessages(ctx context.Context, cur *mongo.Cursor) ([]Event, error) {
	defer cur.Close(ctx)
	var msgs []model.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		events = append(events, AddedMessage(m))
	}
	return events, nil
}

// historyLost reports whether the resume point fell off the oplog. The
// subscription then starts over from a fresh snapshot.
func historyLost(err error) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && (se.HasErrorCode(codeHistoryLost) || se.HasErrorCode(codeFatalStreamError))
}

const (
	codeFatalStreamError = 280
	codeHistoryLost      = 286
)
