package fl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const defWasmTimeout = 30 * time.Second

var _ Aggregator = (*WasmAggregator)(nil)

type wasmUpdate struct {
	ParticipantID string       `cbor:"1,keyasint"`
	SampleCount   int64        `cbor:"2,keyasint"`
	Parameters    ParameterSet `cbor:"3,keyasint"`
}

// WasmAggregator runs a WASI module as the aggregation strategy. The module
// reads a CBOR array of updates from stdin, ordered by participant, and
// writes the aggregated CBOR parameter set to stdout.
type WasmAggregator struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	timeout  time.Duration
}

func NewWasmAggregator(ctx context.Context, wasm []byte, timeout time.Duration) (*WasmAggregator, error) {
	if timeout <= 0 {
		timeout = defWasmTimeout
	}

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	// Instantiate WASI, which implements host functions needed for TinyGo to
	// implement `panic`.
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		_ = r.Close(ctx)

		return nil, fmt.Errorf("%w: %w", ErrWasmAggregation, err)
	}

	return &WasmAggregator{
		runtime:  r,
		compiled: compiled,
		timeout:  timeout,
	}, nil
}

func (w *WasmAggregator) Aggregate(updates []WeightedParameters) (ParameterSet, error) {
	if len(updates) == 0 {
		return ParameterSet{}, ErrNoUpdates
	}

	ordered := orderUpdates(updates)
	base := ordered[0].Parameters
	in := make([]wasmUpdate, len(ordered))
	var totalSamples int64
	for i, u := range ordered {
		if u.SampleCount <= 0 {
			return ParameterSet{}, ErrInvalidWeight
		}
		if totalSamples > math.MaxInt64-u.SampleCount {
			return ParameterSet{}, ErrOverflow
		}
		totalSamples += u.SampleCount
		if u.Parameters.Validate() != nil || !base.Compatible(u.Parameters) {
			return ParameterSet{}, ErrStructuralMismatch
		}
		in[i] = wasmUpdate{ParticipantID: u.ParticipantID, SampleCount: u.SampleCount, Parameters: u.Parameters}
	}

	payload, err := cbor.Marshal(in)
	if err != nil {
		return ParameterSet{}, fmt.Errorf("%w: %w", ErrWasmAggregation, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs("aggregate").
		WithStdin(bytes.NewReader(payload)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := w.runtime.InstantiateModule(ctx, w.compiled, cfg)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 0 {
			return ParameterSet{}, fmt.Errorf("%w: %w: %s", ErrWasmAggregation, err, stderr.String())
		}
	}

	var out ParameterSet
	if err := cbor.Unmarshal(stdout.Bytes(), &out); err != nil {
		return ParameterSet{}, fmt.Errorf("%w: %w", ErrWasmAggregation, err)
	}
	if out.Validate() != nil || !base.Compatible(out) {
		return ParameterSet{}, ErrStructuralMismatch
	}

	return out, nil
}

func (w *WasmAggregator) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}
