package dispatch

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"agentlens.local/projects/lens-gateway/internal/event"
	"agentlens.local/projects/lens-gateway/internal/subscribers"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	failures int
	handled  []string
	done     chan struct{}
}

func (r *recordingSubscriber) Name() string { return "recording" }

func (r *recordingSubscriber) Handle(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("transient failure")
	}
	r.handled = append(r.handled, ev.ID)
	select {
	case r.done <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingSubscriber) handledIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.handled...)
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	sub := &recordingSubscriber{done: make(chan struct{}, 1)}
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{sub})

	d.Publish(context.Background(), []event.Event{{ID: "ev-1"}})

	select {
	case <-sub.done:
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
	if got := sub.handledIDs(); len(got) != 1 || got[0] != "ev-1" {
		t.Fatalf("handled = %v, want [ev-1]", got)
	}
}

func TestPublishRetriesFailingSubscriber(t *testing.T) {
	sub := &recordingSubscriber{failures: 2, done: make(chan struct{}, 1)}
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{sub})
	d.retryBackoff = time.Millisecond

	d.Publish(context.Background(), []event.Event{{ID: "ev-1"}})

	select {
	case <-sub.done:
	case <-time.After(time.Second):
		t.Fatal("event never delivered after retries")
	}
	if got := sub.handledIDs(); len(got) != 1 {
		t.Fatalf("handled = %v, want one delivery", got)
	}
}

// ctxSensitiveSubscriber fails like a real webhook POST would once the
// delivery context is canceled.
type ctxSensitiveSubscriber struct {
	recordingSubscriber
}

func (c *ctxSensitiveSubscriber) Handle(ctx context.Context, ev event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.recordingSubscriber.Handle(ctx, ev)
}

func TestPublishOutlivesCallerContext(t *testing.T) {
	sub := &ctxSensitiveSubscriber{recordingSubscriber{failures: 1, done: make(chan struct{}, 1)}}
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{sub})
	d.retryBackoff = 10 * time.Millisecond

	// Canceling right after Publish mirrors a request handler returning
	// while deliveries are still in flight; the committed event must reach
	// the subscriber anyway, retries included.
	ctx, cancel := context.WithCancel(context.Background())
	d.Publish(ctx, []event.Event{{ID: "ev-1"}})
	cancel()

	select {
	case <-sub.done:
	case <-time.After(time.Second):
		t.Fatal("delivery died with the caller's context")
	}
	if got := sub.handledIDs(); len(got) != 1 || got[0] != "ev-1" {
		t.Fatalf("handled = %v, want [ev-1]", got)
	}
}

func TestPublishGivesUpAfterRetryBudget(t *testing.T) {
	sub := &recordingSubscriber{failures: 10, done: make(chan struct{}, 1)}
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{sub})
	d.retryBackoff = time.Millisecond

	d.Publish(context.Background(), []event.Event{{ID: "ev-1"}})

	select {
	case <-sub.done:
		t.Fatal("delivery succeeded despite persistent failures")
	case <-time.After(100 * time.Millisecond):
	}
	if got := sub.handledIDs(); len(got) != 0 {
		t.Fatalf("handled = %v, want none", got)
	}
}
