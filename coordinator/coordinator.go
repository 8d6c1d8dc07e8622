package coordinator

import (
	"context"

	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/absmach/flcoord/round"
)

// SessionRequest asks for a new training session.
type SessionRequest struct {
	Name      string `json:"name,omitempty"`
	NumRounds uint64 `json:"num_rounds,omitempty"`
	Resume    bool   `json:"resume,omitempty"`
}

type Service interface {
	// Status reports the state of the current or last session.
	Status(ctx context.Context) (SessionStatus, error)
	// RoundHistory returns up to limit of the most recent rounds in
	// ascending order.
	RoundHistory(ctx context.Context, limit uint64) ([]round.Round, error)
	RoundDetails(ctx context.Context, number uint64) (round.Round, error)
	MetricsSummary(ctx context.Context) (round.Summary, error)

	ListParticipants(ctx context.Context) ([]registry.Participant, error)
	RegisterParticipant(ctx context.Context, id, endpoint string) (registry.Participant, error)
	DeregisterParticipant(ctx context.Context, id string) error

	StartSession(ctx context.Context, req SessionRequest) (SessionStatus, error)
	AbortSession(ctx context.Context) error
	ListCheckpoints(ctx context.Context) ([]checkpoint.Info, error)

	// Subscribe starts consuming participant liveness messages.
	Subscribe(ctx context.Context) error
}
