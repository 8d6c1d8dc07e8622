package coordinator

import (
	"errors"

	"github.com/absmach/flcoord/round"
)

var (
	ErrQuorumNotMet    = round.ErrQuorumNotMet
	ErrRoundCancelled  = errors.New("round cancelled")
	ErrSessionRunning  = errors.New("a training session is already running")
	ErrSessionAborted  = errors.New("training session aborted")
	ErrNoSession       = errors.New("no training session is running")
	ErrNoInitialModel  = errors.New("no initial model available")
	ErrInvalidConfig   = errors.New("invalid coordinator configuration")
	ErrStaleResult     = errors.New("result belongs to a different round")
	ErrCheckpoint      = errors.New("failed to checkpoint aggregated model")
	ErrMetricsAppend   = errors.New("failed to record round metrics")
	ErrDuplicateRound  = errors.New("round number already recorded")
	ErrNotDispatched   = errors.New("call not dispatched")
	ErrDeadlineReached = errors.New("phase deadline reached before the participant responded")
)
