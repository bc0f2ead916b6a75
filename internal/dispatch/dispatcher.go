// Package dispatch fans committed events out to subscribers. The store
// publishes here only after its transaction commits, so subscribers never
// observe an event that later rolled back.
package dispatch

import (
	"context"
	"log"
	"time"

	"agentlens.local/projects/lens-gateway/internal/event"
	"agentlens.local/projects/lens-gateway/internal/subscribers"
)

type Dispatcher struct {
	logger       *log.Logger
	subscribers  []subscribers.Subscriber
	retryCount   int
	retryBackoff time.Duration
}

func New(logger *log.Logger, subs []subscribers.Subscriber) *Dispatcher {
	return &Dispatcher{
		logger:       logger,
		subscribers:  subs,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
	}
}

// Publish delivers each event to every subscriber. Delivery is
// best-effort and asynchronous; a slow or failing subscriber never blocks
// ingestion. The events are already committed, so delivery must outlive
// the caller: cancellation of ctx does not stop in-flight handlers or
// retries, only its values carry over.
func (d *Dispatcher) Publish(ctx context.Context, events []event.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		for _, sub := range d.subscribers {
			s := sub
			e := ev
			go d.dispatchOne(ctx, s, e)
		}
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sub subscribers.Subscriber, ev event.Event) {
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := sub.Handle(ctx, ev)
		if err == nil {
			return
		}

		d.logger.Printf("subscriber=%s event_id=%s attempt=%d err=%v", sub.Name(), ev.ID, attempt, err)
		if attempt == d.retryCount {
			return
		}

		time.Sleep(d.retryBackoff)
	}
}
