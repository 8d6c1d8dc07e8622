package fl

import (
	"errors"
	"fmt"
)

var (
	ErrNoUpdates          = errors.New("no updates provided for aggregation")
	ErrOverflow           = errors.New("sample count overflow during aggregation")
	ErrStructuralMismatch = errors.New("parameter sets are not structurally identical")
	ErrInvalidWeight      = errors.New("sample count must be positive")
	ErrInvalidShape       = errors.New("tensor values do not match shape")
	ErrTrainingFailure    = errors.New("local training failed")
	ErrDecode             = errors.New("failed to decode parameters")
	ErrWasmAggregation    = errors.New("wasm aggregator failed")
)

// TrainingFailure wraps a participant-reported reason so callers can match
// it with errors.Is(err, ErrTrainingFailure).
func TrainingFailure(reason string) error {
	return fmt.Errorf("%w: %s", ErrTrainingFailure, reason)
}
