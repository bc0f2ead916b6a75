package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// The hash of an event is SHA-256 over a canonical JSON encoding of its
// immutable fields. Canonical means: object keys sorted lexicographically at
// every nesting level, numbers carried through verbatim from the source
// text, timestamps normalized to UTC with millisecond precision, absent
// payload/metadata encoded as empty objects, and a nil prevHash encoded as
// JSON null. The encoding is fixed; changing any part of it invalidates
// every chain written before the change.

const canonicalTimeLayout = "2006-01-02T15:04:05.000Z"

// CanonicalTimestamp returns the timestamp representation that participates
// in the hash.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Format(canonicalTimeLayout)
}

// ComputeHash returns the hex-encoded SHA-256 digest of the event's
// canonical encoding. Deterministic and side-effect free; the stored Hash
// and PrevHash fields of the argument are not consulted except for
// PrevHash, which is part of the chained material.
func ComputeHash(e Event) (string, error) {
	payload, err := canonicalValue(e.Payload)
	if err != nil {
		return "", fmt.Errorf("event %s: canonicalize payload: %w", e.ID, err)
	}
	metadata, err := canonicalMetadata(e.Metadata)
	if err != nil {
		return "", fmt.Errorf("event %s: canonicalize metadata: %w", e.ID, err)
	}

	var prev any
	if e.PrevHash != nil {
		prev = *e.PrevHash
	}

	canonical := map[string]any{
		"id":        e.ID,
		"timestamp": CanonicalTimestamp(e.Timestamp),
		"sessionId": e.SessionID,
		"agentId":   e.AgentID,
		"eventType": string(e.EventType),
		"severity":  string(e.Severity),
		"payload":   payload,
		"metadata":  metadata,
		"prevHash":  prev,
	}

	encoded, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("event %s: encode canonical form: %w", e.ID, err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyLink reports whether the event's prevHash matches the expected
// predecessor hash. A nil expected hash matches only a nil prevHash.
func VerifyLink(e Event, expectedPrevHash *string) bool {
	if e.PrevHash == nil || expectedPrevHash == nil {
		return e.PrevHash == nil && expectedPrevHash == nil
	}
	return *e.PrevHash == *expectedPrevHash
}

// StampChain recomputes PrevHash and Hash for every event in order,
// chaining the first event onto head (nil for a fresh session). Intended
// for producers and tests; the store never stamps events itself.
func StampChain(events []Event, head *string) ([]Event, error) {
	prev := head
	out := make([]Event, len(events))
	for i, ev := range events {
		ev.PrevHash = prev
		h, err := ComputeHash(ev)
		if err != nil {
			return nil, err
		}
		ev.Hash = h
		out[i] = ev
		prev = &out[i].Hash
	}
	return out, nil
}

// canonicalValue decodes raw JSON into generic form with json.Number so a
// re-encode reproduces numeric literals exactly. encoding/json sorts map
// keys on marshal, which yields the sorted-key property at every level.
func canonicalValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if v == nil {
		return map[string]any{}, nil
	}
	return v, nil
}

func canonicalMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return map[string]any{}, nil
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return canonicalValue(encoded)
}
