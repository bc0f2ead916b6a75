package event

import (
	"encoding/json"
	"testing"
	"time"
)

func testEvent() Event {
	return Event{
		ID:        "0194f7a0-0000-7000-8000-000000000001",
		Timestamp: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		SessionID: "sess_1",
		AgentID:   "agent_1",
		EventType: TypeToolCall,
		Severity:  SeverityInfo,
		Payload:   json.RawMessage(`{"toolName":"search","args":{"q":"hello"}}`),
		Metadata:  map[string]any{"source": "sdk"},
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	ev := testEvent()
	first, err := ComputeHash(ev)
	if err != nil {
		t.Fatalf("compute hash: %v", err)
	}
	second, err := ComputeHash(ev)
	if err != nil {
		t.Fatalf("compute hash: %v", err)
	}
	if first != second {
		t.Fatalf("hash not deterministic: %q vs %q", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}
}

func TestComputeHashFieldOrderIndependent(t *testing.T) {
	a := testEvent()
	a.Payload = json.RawMessage(`{"args":{"q":"hello"},"toolName":"search"}`)
	b := testEvent()
	b.Payload = json.RawMessage(`{"toolName":"search","args":{"q":"hello"}}`)

	hashA, err := ComputeHash(a)
	if err != nil {
		t.Fatalf("compute hash a: %v", err)
	}
	hashB, err := ComputeHash(b)
	if err != nil {
		t.Fatalf("compute hash b: %v", err)
	}
	if hashA != hashB {
		t.Fatalf("payload key order changed the hash: %q vs %q", hashA, hashB)
	}
}

func TestComputeHashSensitiveToPayload(t *testing.T) {
	a := testEvent()
	b := testEvent()
	b.Payload = json.RawMessage(`{"toolName":"search","args":{"q":"tampered"}}`)

	hashA, err := ComputeHash(a)
	if err != nil {
		t.Fatalf("compute hash a: %v", err)
	}
	hashB, err := ComputeHash(b)
	if err != nil {
		t.Fatalf("compute hash b: %v", err)
	}
	if hashA == hashB {
		t.Fatalf("payload change did not change the hash")
	}
}

func TestComputeHashIncludesPrevHash(t *testing.T) {
	a := testEvent()
	b := testEvent()
	prev := "abc123"
	b.PrevHash = &prev

	hashA, err := ComputeHash(a)
	if err != nil {
		t.Fatalf("compute hash a: %v", err)
	}
	hashB, err := ComputeHash(b)
	if err != nil {
		t.Fatalf("compute hash b: %v", err)
	}
	if hashA == hashB {
		t.Fatalf("prevHash change did not change the hash")
	}
}

func TestComputeHashInvalidPayload(t *testing.T) {
	ev := testEvent()
	ev.Payload = json.RawMessage(`{"broken`)
	if _, err := ComputeHash(ev); err == nil {
		t.Fatalf("expected error for invalid payload JSON")
	}
}

func TestVerifyLink(t *testing.T) {
	hash := "deadbeef"
	ev := testEvent()
	ev.PrevHash = &hash

	if !VerifyLink(ev, &hash) {
		t.Fatalf("expected matching link to verify")
	}
	other := "cafebabe"
	if VerifyLink(ev, &other) {
		t.Fatalf("expected mismatched link to fail")
	}
	if VerifyLink(ev, nil) {
		t.Fatalf("expected nil expectation to fail for non-nil prevHash")
	}

	first := testEvent()
	if !VerifyLink(first, nil) {
		t.Fatalf("expected nil prevHash to match nil expectation")
	}
}

func TestStampChain(t *testing.T) {
	events := []Event{testEvent(), testEvent(), testEvent()}
	events[1].ID = "0194f7a0-0000-7000-8000-000000000002"
	events[2].ID = "0194f7a0-0000-7000-8000-000000000003"

	stamped, err := StampChain(events, nil)
	if err != nil {
		t.Fatalf("stamp chain: %v", err)
	}
	if stamped[0].PrevHash != nil {
		t.Fatalf("expected first event prevHash to be nil")
	}
	for i := 1; i < len(stamped); i++ {
		if stamped[i].PrevHash == nil || *stamped[i].PrevHash != stamped[i-1].Hash {
			t.Fatalf("broken chain at index %d", i)
		}
	}
	for i, ev := range stamped {
		recomputed, err := ComputeHash(ev)
		if err != nil {
			t.Fatalf("recompute hash %d: %v", i, err)
		}
		if recomputed != ev.Hash {
			t.Fatalf("stored hash does not match recomputation at index %d", i)
		}
	}
}

func TestStampChainOntoHead(t *testing.T) {
	head := "0123456789abcdef"
	stamped, err := StampChain([]Event{testEvent()}, &head)
	if err != nil {
		t.Fatalf("stamp chain: %v", err)
	}
	if stamped[0].PrevHash == nil || *stamped[0].PrevHash != head {
		t.Fatalf("expected first event to chain onto supplied head")
	}
}

func TestEventValidate(t *testing.T) {
	ev := testEvent()
	if err := ev.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	missingSession := testEvent()
	missingSession.SessionID = ""
	if err := missingSession.Validate(); err == nil {
		t.Fatalf("expected error for missing session id")
	}

	badType := testEvent()
	badType.EventType = "bogus"
	if err := badType.Validate(); err == nil {
		t.Fatalf("expected error for unknown event type")
	}

	badSeverity := testEvent()
	badSeverity.Severity = "loud"
	if err := badSeverity.Validate(); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
}
