package feed

import (
	"context"
	"testing"
	"time"
)

func TestSubscription_CancelIsIdempotent(t *testing.T) {
	sub, ctx := NewSubscription(context.Background(), MessagesOf("a_b"))

	sub.Cancel()
	sub.Cancel()

	if !sub.Cancelled() {
		t.Fatalf("expected subscription to report cancelled")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("expected worker context to be cancelled")
	}
}

func TestSubscription_NoDeliveryAfterCancel(t *testing.T) {
	sub, _ := NewSubscription(context.Background(), MessagesOf("a_b"))

	calls := 0
	if !sub.Deliver(func() { calls++ }) {
		t.Fatalf("expected delivery before cancel")
	}
	sub.Cancel()
	if sub.Deliver(func() { calls++ }) {
		t.Fatalf("expected delivery to be refused after cancel")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one callback, got %d", calls)
	}
}

func TestSubscription_CancelWaitsForCallbackInFlight(t *testing.T) {
	sub, _ := NewSubscription(context.Background(), ConversationsOf("u1"))

	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		sub.Deliver(func() {
			close(started)
			<-release
		})
		close(finished)
	}()
	<-started

	cancelled := make(chan struct{})
	go func() {
		sub.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatalf("Cancel returned while a callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("Cancel did not return after the callback finished")
	}
	<-finished
}

func TestSubscription_FinishClosesDone(t *testing.T) {
	sub, _ := NewSubscription(context.Background(), ConversationsOf("u1"))
	sub.Finish()
	sub.Finish()
	select {
	case <-sub.Done():
	default:
		t.Fatalf("expected Done to be closed")
	}
	if sub.ID() == "" {
		t.Fatalf("expected a subscription id")
	}
}
