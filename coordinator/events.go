package coordinator

import (
	"context"

	"github.com/absmach/flcoord/round"
)

type EventKind string

const (
	RoundStarted   EventKind = "started"
	RoundCompleted EventKind = "completed"
	RoundFailed    EventKind = "failed"
)

// EventPublisher announces round transitions to external observers.
type EventPublisher interface {
	PublishRound(ctx context.Context, kind EventKind, r round.Round) error
}

type noopPublisher struct{}

func (noopPublisher) PublishRound(context.Context, EventKind, round.Round) error {
	return nil
}
