package fl_test

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/flcoord/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptyModule is a valid wasm binary with no sections.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestNewWasmAggregatorInvalidModule(t *testing.T) {
	_, err := fl.NewWasmAggregator(context.Background(), []byte("not wasm"), time.Second)
	assert.ErrorIs(t, err, fl.ErrWasmAggregation)
}

func TestWasmAggregate(t *testing.T) {
	ctx := context.Background()
	agg, err := fl.NewWasmAggregator(ctx, emptyModule, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = agg.Close(ctx) })

	cases := []struct {
		desc    string
		updates []fl.WeightedParameters
		err     error
	}{
		{
			desc: "no updates",
			err:  fl.ErrNoUpdates,
		},
		{
			desc: "invalid weight",
			updates: []fl.WeightedParameters{
				{ParticipantID: "a", Parameters: uniform(1), SampleCount: 0},
			},
			err: fl.ErrInvalidWeight,
		},
		{
			desc: "mismatched shapes",
			updates: []fl.WeightedParameters{
				{ParticipantID: "a", Parameters: params([]float64{1, 2}, 0), SampleCount: 10},
				{ParticipantID: "b", Parameters: params([]float64{1, 2, 3}, 0), SampleCount: 10},
			},
			err: fl.ErrStructuralMismatch,
		},
		{
			desc: "module without output",
			updates: []fl.WeightedParameters{
				{ParticipantID: "a", Parameters: uniform(1), SampleCount: 10},
			},
			err: fl.ErrWasmAggregation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := agg.Aggregate(tc.updates)
			assert.ErrorIs(t, err, tc.err)
			assert.True(t, got.Empty())
		})
	}
}
