package logging

import (
	"context"
	"log"

	"agentlens.local/projects/lens-gateway/internal/event"
)

type Subscriber struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Subscriber {
	return &Subscriber{logger: logger}
}

func (s *Subscriber) Name() string {
	return "logging"
}

func (s *Subscriber) Handle(_ context.Context, ev event.Event) error {
	s.logger.Printf("subscriber=logging event_id=%s tenant=%s session=%s type=%s severity=%s",
		ev.ID, ev.TenantID, ev.SessionID, ev.EventType, ev.Severity)
	return nil
}
