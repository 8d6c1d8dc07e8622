package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/absmach/flcoord/pkg/fl"
	"github.com/fxamacker/cbor/v2"
)

var (
	ErrNoActiveModel = errors.New("no active model checkpoint")
	ErrNotFound      = errors.New("checkpoint not found")
	ErrCorrupt       = errors.New("checkpoint is corrupt")
	ErrInvalidKeep   = errors.New("retention must keep at least one checkpoint")
)

// Checkpoint is the global model persisted after a successful aggregation.
type Checkpoint struct {
	Round      uint64          `json:"round_number"`
	Parameters fl.ParameterSet `json:"parameters"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Info describes a stored checkpoint without its parameters.
type Info struct {
	Round     uint64    `json:"round_number"`
	CreatedAt time.Time `json:"created_at"`
	Size      int       `json:"size"`
	Active    bool      `json:"active"`
}

// Store persists one checkpoint per round plus an active pointer. Save must
// only move the active pointer after the round checkpoint is durable.
type Store interface {
	Save(ctx context.Context, round uint64, params fl.ParameterSet) error
	LoadActive(ctx context.Context) (Checkpoint, error)
	Load(ctx context.Context, round uint64) (Checkpoint, error)
	List(ctx context.Context) ([]Info, error)
	// Prune removes the oldest checkpoints beyond keep. The active
	// checkpoint is never removed.
	Prune(ctx context.Context, keep int) error
	// Revert drops the checkpoint of round and moves the active pointer to
	// the newest checkpoint older than round, clearing it when none is left.
	Revert(ctx context.Context, round uint64) error
	io.Closer
}

type envelope struct {
	Round     uint64    `cbor:"1,keyasint"`
	CreatedAt time.Time `cbor:"2,keyasint"`
	Payload   []byte    `cbor:"3,keyasint"`
}

// Marshal encodes a checkpoint with its parameters as snappy-compressed CBOR.
func Marshal(c Checkpoint) ([]byte, error) {
	payload, err := fl.EncodeParameters(c.Parameters)
	if err != nil {
		return nil, err
	}

	return cbor.Marshal(envelope{
		Round:     c.Round,
		CreatedAt: c.CreatedAt,
		Payload:   payload,
	})
}

func Unmarshal(data []byte) (Checkpoint, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	params, err := fl.DecodeParameters(env.Payload)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return Checkpoint{
		Round:      env.Round,
		Parameters: params,
		CreatedAt:  env.CreatedAt,
	}, nil
}

func newCheckpoint(round uint64, params fl.ParameterSet) Checkpoint {
	return Checkpoint{
		Round:      round,
		Parameters: params.Clone(),
		CreatedAt:  time.Now().UTC(),
	}
}

// previousRound returns the newest round in rounds older than round.
func previousRound(rounds []uint64, round uint64) (uint64, bool) {
	var prev uint64
	found := false
	for _, r := range rounds {
		if r < round && (!found || r > prev) {
			prev, found = r, true
		}
	}

	return prev, found
}

// pruneCandidates returns the rounds to delete so that at most keep remain,
// oldest first, skipping active.
func pruneCandidates(rounds []uint64, active uint64, hasActive bool, keep int) []uint64 {
	if len(rounds) <= keep {
		return nil
	}
	excess := len(rounds) - keep
	var out []uint64
	for _, r := range rounds {
		if excess == 0 {
			break
		}
		if hasActive && r == active {
			continue
		}
		out = append(out, r)
		excess--
	}

	return out
}
