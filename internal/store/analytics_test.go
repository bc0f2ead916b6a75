package store

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"agentlens.local/projects/lens-gateway/internal/event"
)

func TestGetStats(t *testing.T) {
	s := openTestStore(t)
	seedQueryFixture(t, s)
	ctx := context.Background()

	stats, err := s.GetStats(ctx, "acme")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.EventCount != 6 || stats.SessionCount != 2 || stats.AgentCount != 2 {
		t.Errorf("counts = %d/%d/%d, want 6/2/2", stats.EventCount, stats.SessionCount, stats.AgentCount)
	}
	if stats.StorageBytes <= 0 {
		t.Errorf("storageBytes = %d, want > 0", stats.StorageBytes)
	}
	if stats.OldestEvent == nil || stats.NewestEvent == nil {
		t.Fatal("event bounds missing")
	}
	if !stats.OldestEvent.Equal(testBase) {
		t.Errorf("oldest = %v, want %v", stats.OldestEvent, testBase)
	}
	if stats.NewestEvent.Before(*stats.OldestEvent) {
		t.Errorf("newest %v precedes oldest %v", stats.NewestEvent, stats.OldestEvent)
	}

	empty, err := s.GetStats(ctx, "globex")
	if err != nil {
		t.Fatalf("stats for empty tenant: %v", err)
	}
	if empty.EventCount != 0 || empty.OldestEvent != nil {
		t.Errorf("empty tenant stats = %+v, want zero counts and no bounds", empty)
	}
}

func TestGetAnalyticsDayBuckets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Day one: a tool call and a failed tool. Day two: one LLM response.
	dayOne := stampedBatch(t, "sess-1", "agent-1", 0, nil,
		eventSpec{eventType: event.TypeSessionStarted},
		eventSpec{eventType: event.TypeToolCall},
		eventSpec{eventType: event.TypeToolError, severity: event.SeverityError},
	)
	if _, err := s.InsertEvents(ctx, "acme", dayOne); err != nil {
		t.Fatalf("insert day one: %v", err)
	}
	dayTwo := stampedBatch(t, "sess-1", "agent-1", 24*time.Hour, &dayOne[2].Hash,
		eventSpec{eventType: event.TypeLLMResponse, payload: `{"provider":"openai","model":"gpt-4o","costUsd":0.5,"latencyMs":800}`},
	)
	if _, err := s.InsertEvents(ctx, "acme", dayTwo); err != nil {
		t.Fatalf("insert day two: %v", err)
	}

	buckets, err := s.GetAnalytics(ctx, "acme", AnalyticsQuery{
		From:        testBase.Add(-time.Hour),
		To:          testBase.Add(48 * time.Hour),
		Granularity: GranularityDay,
	})
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("buckets = %d, want 2", len(buckets))
	}
	if buckets[0].Bucket >= buckets[1].Bucket {
		t.Errorf("buckets not ascending: %q then %q", buckets[0].Bucket, buckets[1].Bucket)
	}

	first, second := buckets[0], buckets[1]
	if first.EventCount != 3 || first.ToolCallCount != 1 || first.ErrorCount != 1 {
		t.Errorf("day one = %+v, want 3 events, 1 tool call, 1 error", first)
	}
	if second.EventCount != 1 || second.LLMCallCount != 1 {
		t.Errorf("day two = %+v, want 1 event, 1 llm call", second)
	}
	if math.Abs(second.CostUsd-0.5) > 1e-9 {
		t.Errorf("day two costUsd = %v, want 0.5", second.CostUsd)
	}
	if math.Abs(second.AvgLatencyMs-800) > 1e-9 {
		t.Errorf("day two avgLatencyMs = %v, want 800", second.AvgLatencyMs)
	}
}

func TestGetAnalyticsValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetAnalytics(ctx, "acme", AnalyticsQuery{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing range err = %v, want validation error", err)
	}
	if _, err := s.GetAnalytics(ctx, "acme", AnalyticsQuery{
		From: testBase.Add(time.Hour),
		To:   testBase,
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("reversed range err = %v, want validation error", err)
	}
	if _, err := s.GetAnalytics(ctx, "acme", AnalyticsQuery{
		From:        testBase,
		To:          testBase.Add(time.Hour),
		Granularity: "fortnight",
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad granularity err = %v, want validation error", err)
	}

	empty, err := s.GetAnalytics(ctx, "acme", AnalyticsQuery{From: testBase, To: testBase.Add(time.Hour)})
	if err != nil {
		t.Fatalf("empty analytics: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("empty analytics = %v, want empty slice", empty)
	}
}
