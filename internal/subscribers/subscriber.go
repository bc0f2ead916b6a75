package subscribers

import (
	"context"

	"agentlens.local/projects/lens-gateway/internal/event"
)

type Subscriber interface {
	Name() string
	Handle(context.Context, event.Event) error
}
