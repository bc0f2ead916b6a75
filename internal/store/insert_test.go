package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agentlens.local/projects/lens-gateway/internal/event"
)

func TestInsertEventsAppendsChain(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := stampedBatch(t, "sess-1", "agent-1", 0, nil,
		infoSpecs(event.TypeSessionStarted, event.TypeToolCall, event.TypeToolResponse)...)
	inserted, err := s.InsertEvents(ctx, "acme", first)
	if err != nil {
		t.Fatalf("insert first batch: %v", err)
	}
	if inserted != 3 {
		t.Fatalf("inserted = %d, want 3", inserted)
	}

	head, err := s.GetLastEventHash(ctx, "acme", "sess-1")
	if err != nil {
		t.Fatalf("get head: %v", err)
	}
	if head == nil || *head != first[2].Hash {
		t.Fatalf("head = %v, want %q", head, first[2].Hash)
	}

	second := stampedBatch(t, "sess-1", "agent-1", 10*time.Second, head,
		infoSpecs(event.TypeLLMCall, event.TypeLLMResponse)...)
	inserted, err = s.InsertEvents(ctx, "acme", second)
	if err != nil {
		t.Fatalf("insert second batch: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("inserted = %d, want 2", inserted)
	}

	timeline, err := s.GetSessionTimeline(ctx, "acme", "sess-1")
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(timeline) != 5 {
		t.Fatalf("timeline length = %d, want 5", len(timeline))
	}
	if timeline[0].PrevHash != nil {
		t.Fatalf("first event prevHash = %v, want nil", *timeline[0].PrevHash)
	}
	for i := 1; i < len(timeline); i++ {
		if !event.VerifyLink(timeline[i], &timeline[i-1].Hash) {
			t.Fatalf("link broken at index %d", i)
		}
	}
}

func TestInsertEventsRejectsStaleHead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := stampedBatch(t, "sess-1", "agent-1", 0, nil, infoSpecs(event.TypeSessionStarted)...)
	if _, err := s.InsertEvents(ctx, "acme", first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Stamped against an empty chain while the head has advanced.
	stale := stampedBatch(t, "sess-1", "agent-1", 10*time.Second, nil, infoSpecs(event.TypeToolCall)...)
	_, err := s.InsertEvents(ctx, "acme", stale)
	if !errors.Is(err, ErrChainIntegrity) {
		t.Fatalf("err = %v, want chain integrity error", err)
	}
	var chainErr *ChainIntegrityError
	if !errors.As(err, &chainErr) {
		t.Fatalf("err = %T, want *ChainIntegrityError", err)
	}
	if chainErr.SessionID != "sess-1" || chainErr.Index != 0 {
		t.Fatalf("chain error = %+v, want session sess-1 index 0", chainErr)
	}

	// A retry stamped onto the refetched head succeeds.
	head, err := s.GetLastEventHash(ctx, "acme", "sess-1")
	if err != nil {
		t.Fatalf("get head: %v", err)
	}
	retry := stampedBatch(t, "sess-1", "agent-1", 10*time.Second, head, infoSpecs(event.TypeToolCall)...)
	if _, err := s.InsertEvents(ctx, "acme", retry); err != nil {
		t.Fatalf("retry insert: %v", err)
	}
}

func TestInsertEventsConcurrentAppendSingleWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Both batches are stamped from the same empty head and race to extend
	// the chain. The head check admits exactly one.
	batches := [][]event.Event{
		stampedBatch(t, "sess-1", "agent-1", 0, nil, infoSpecs(event.TypeSessionStarted)...),
		stampedBatch(t, "sess-1", "agent-1", time.Second, nil, infoSpecs(event.TypeToolCall)...),
	}

	errs := make(chan error, len(batches))
	var wg sync.WaitGroup
	for _, batch := range batches {
		wg.Add(1)
		b := batch
		go func() {
			defer wg.Done()
			_, err := s.InsertEvents(ctx, "acme", b)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, rejected int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrChainIntegrity):
			rejected++
		default:
			t.Fatalf("unexpected insert error: %v", err)
		}
	}
	if wins != 1 || rejected != 1 {
		t.Fatalf("wins = %d rejected = %d, want exactly one writer to advance the chain", wins, rejected)
	}

	// The loser refetches the advanced head and its retry goes through.
	head, err := s.GetLastEventHash(ctx, "acme", "sess-1")
	if err != nil {
		t.Fatalf("get head: %v", err)
	}
	retry := stampedBatch(t, "sess-1", "agent-1", 10*time.Second, head, infoSpecs(event.TypeToolError)...)
	if _, err := s.InsertEvents(ctx, "acme", retry); err != nil {
		t.Fatalf("retry insert: %v", err)
	}
	timeline, err := s.GetSessionTimeline(ctx, "acme", "sess-1")
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("timeline length = %d, want 2", len(timeline))
	}
}

func TestInsertEventsLeavesCallerBatchUntouched(t *testing.T) {
	s := openTestStore(t)

	batch := stampedBatch(t, "sess-1", "agent-1", 0, nil,
		infoSpecs(event.TypeSessionStarted, event.TypeToolCall)...)
	if _, err := s.InsertEvents(context.Background(), "acme", batch); err != nil {
		t.Fatalf("insert: %v", err)
	}
	for i, ev := range batch {
		if ev.TenantID != "" {
			t.Fatalf("event %d tenant = %q, caller's slice was modified", i, ev.TenantID)
		}
	}
}

func TestInsertEventsRejectsBrokenLinkWithinBatch(t *testing.T) {
	s := openTestStore(t)

	batch := stampedBatch(t, "sess-1", "agent-1", 0, nil,
		infoSpecs(event.TypeSessionStarted, event.TypeToolCall)...)
	wrong := "0000000000000000000000000000000000000000000000000000000000000000"
	batch[1].PrevHash = &wrong

	_, err := s.InsertEvents(context.Background(), "acme", batch)
	if !errors.Is(err, ErrChainIntegrity) {
		t.Fatalf("err = %v, want chain integrity error", err)
	}
	var chainErr *ChainIntegrityError
	if !errors.As(err, &chainErr) || chainErr.Index != 1 {
		t.Fatalf("chain error = %v, want break at index 1", err)
	}
}

func TestInsertEventsRejectsTamperedHash(t *testing.T) {
	s := openTestStore(t)

	batch := stampedBatch(t, "sess-1", "agent-1", 0, nil,
		[]eventSpec{{eventType: event.TypeCustom, payload: `{"note":"original"}`}}...)
	batch[0].Payload = []byte(`{"note":"tampered"}`)

	_, err := s.InsertEvents(context.Background(), "acme", batch)
	if !errors.Is(err, ErrChainIntegrity) {
		t.Fatalf("err = %v, want chain integrity error", err)
	}
}

func TestInsertEventsIdempotentRetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	batch := stampedBatch(t, "sess-1", "agent-1", 0, nil,
		infoSpecs(event.TypeSessionStarted, event.TypeToolCall, event.TypeToolResponse)...)
	if _, err := s.InsertEvents(ctx, "acme", batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A client retry resends the original batch extended with new events
	// stamped onto the batch's own tail.
	tail := stampedBatch(t, "sess-1", "agent-1", 10*time.Second, &batch[2].Hash,
		infoSpecs(event.TypeLLMCall, event.TypeLLMResponse)...)
	retry := append(append([]event.Event{}, batch...), tail...)

	inserted, err := s.InsertEvents(ctx, "acme", retry)
	if err != nil {
		t.Fatalf("retry insert: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("inserted = %d, want 2 (duplicates skipped)", inserted)
	}

	timeline, err := s.GetSessionTimeline(ctx, "acme", "sess-1")
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(timeline) != 5 {
		t.Fatalf("timeline length = %d, want 5", len(timeline))
	}

	// Aggregates must not double count the replayed events.
	session, err := s.GetSession(ctx, "acme", "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.EventCount != 5 {
		t.Fatalf("eventCount = %d, want 5", session.EventCount)
	}
	if session.ToolCallCount != 1 {
		t.Fatalf("toolCallCount = %d, want 1", session.ToolCallCount)
	}
}

func TestInsertEventsValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertEvents(ctx, "acme", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty batch err = %v, want validation error", err)
	}
	if _, err := s.InsertEvents(ctx, "", stampedBatch(t, "sess-1", "agent-1", 0, nil, infoSpecs(event.TypeCustom)...)); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty tenant err = %v, want validation error", err)
	}

	missingAgent := stampedBatch(t, "sess-1", "agent-1", 0, nil, infoSpecs(event.TypeCustom)...)
	missingAgent[0].AgentID = ""
	if _, err := s.InsertEvents(ctx, "acme", missingAgent); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing agent err = %v, want validation error", err)
	}

	unknownType := stampedBatch(t, "sess-1", "agent-1", 0, nil, infoSpecs(event.TypeCustom)...)
	unknownType[0].EventType = "telepathy"
	if _, err := s.InsertEvents(ctx, "acme", unknownType); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown type err = %v, want validation error", err)
	}

	mixed := append(
		stampedBatch(t, "sess-1", "agent-1", 0, nil, infoSpecs(event.TypeCustom)...),
		stampedBatch(t, "sess-2", "agent-1", 0, nil, infoSpecs(event.TypeCustom)...)...,
	)
	if _, err := s.InsertEvents(ctx, "acme", mixed); !errors.Is(err, ErrValidation) {
		t.Fatalf("mixed sessions err = %v, want validation error", err)
	}

	foreign := stampedBatch(t, "sess-1", "agent-1", 0, nil, infoSpecs(event.TypeCustom)...)
	foreign[0].TenantID = "globex"
	if _, err := s.InsertEvents(ctx, "acme", foreign); !errors.Is(err, ErrValidation) {
		t.Fatalf("foreign tenant err = %v, want validation error", err)
	}
}

func TestInsertEventsTenantIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// The same session id starts a fresh chain in each tenant.
	acme := stampedBatch(t, "sess-1", "agent-1", 0, nil,
		infoSpecs(event.TypeSessionStarted, event.TypeToolCall)...)
	if _, err := s.InsertEvents(ctx, "acme", acme); err != nil {
		t.Fatalf("acme insert: %v", err)
	}
	globex := stampedBatch(t, "sess-1", "agent-1", 0, nil, infoSpecs(event.TypeSessionStarted)...)
	if _, err := s.InsertEvents(ctx, "globex", globex); err != nil {
		t.Fatalf("globex insert: %v", err)
	}

	acmeTimeline, err := s.GetSessionTimeline(ctx, "acme", "sess-1")
	if err != nil {
		t.Fatalf("acme timeline: %v", err)
	}
	globexTimeline, err := s.GetSessionTimeline(ctx, "globex", "sess-1")
	if err != nil {
		t.Fatalf("globex timeline: %v", err)
	}
	if len(acmeTimeline) != 2 || len(globexTimeline) != 1 {
		t.Fatalf("timeline lengths = %d/%d, want 2/1", len(acmeTimeline), len(globexTimeline))
	}
	if _, err := s.GetEvent(ctx, "globex", acme[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant event read err = %v, want not found", err)
	}
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *capturingPublisher) Publish(_ context.Context, events []event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *capturingPublisher) published() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.Event{}, p.events...)
}

func TestInsertEventsPublishesOnlyCommitted(t *testing.T) {
	pub := &capturingPublisher{}
	s := openTestStore(t, WithPublisher(pub))
	ctx := context.Background()

	batch := stampedBatch(t, "sess-1", "agent-1", 0, nil,
		infoSpecs(event.TypeSessionStarted, event.TypeToolCall)...)
	if _, err := s.InsertEvents(ctx, "acme", batch); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := pub.published(); len(got) != 2 {
		t.Fatalf("published = %d events, want 2", len(got))
	}

	stale := stampedBatch(t, "sess-1", "agent-1", 10*time.Second, nil, infoSpecs(event.TypeCustom)...)
	if _, err := s.InsertEvents(ctx, "acme", stale); !errors.Is(err, ErrChainIntegrity) {
		t.Fatalf("stale insert err = %v, want chain integrity error", err)
	}
	if got := pub.published(); len(got) != 2 {
		t.Fatalf("published = %d events after failed insert, want still 2", len(got))
	}
}
