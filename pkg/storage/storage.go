package storage

import (
	"context"
	"io"

	"github.com/absmach/flcoord/round"
)

// MetricsStore is the append-only log of archived rounds keyed by round
// number. Append must be durable when it returns.
type MetricsStore interface {
	Append(ctx context.Context, r round.Round) error
	// Recent returns at most limit of the newest rounds in ascending order.
	Recent(ctx context.Context, limit uint64) ([]round.Round, error)
	Get(ctx context.Context, number uint64) (round.Round, error)
	Summary(ctx context.Context) (round.Summary, error)
	// LastRound returns the highest recorded round number, or 0.
	LastRound(ctx context.Context) (uint64, error)
	// Truncate drops everything but the newest keep rounds.
	Truncate(ctx context.Context, keep uint64) error
	io.Closer
}
