package participant_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/absmach/flcoord/participant"
	"github.com/absmach/flcoord/pkg/fl"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTrainer(seed uint64) *participant.LinearTrainer {
	ds := participant.SyntheticDataset(400, []float64{2, -1, 0.5}, 3, 0.01, seed)
	train, holdout := ds.Split(320)

	return participant.NewLinearTrainer(train, holdout, seed)
}

func TestLinearTrainerConverges(t *testing.T) {
	trainer := newTrainer(7)
	ctx := context.Background()
	params := participant.InitialLinearModel(3)

	var last fl.EvalResult
	for r := uint64(1); r <= 20; r++ {
		res, err := trainer.Fit(ctx, params, fl.FitConfig{Round: r, LocalEpochs: 5, LearningRate: 0.1, BatchSize: 32})
		require.NoError(t, err)
		assert.Equal(t, r, res.Round)
		assert.Equal(t, int64(320), res.SampleCount)
		params = res.Parameters

		last, err = trainer.Evaluate(ctx, params, fl.EvalConfig{Round: r})
		require.NoError(t, err)
	}

	assert.Equal(t, int64(80), last.SampleCount)
	assert.Less(t, last.Metrics["mse"], 0.01)
	assert.InDelta(t, 2, params.Tensors[0].Values[0], 0.05)
	assert.InDelta(t, 3, params.Tensors[1].Values[0], 0.05)
}

func TestLinearTrainerDeterministic(t *testing.T) {
	ctx := context.Background()
	cfg := fl.FitConfig{Round: 4, LocalEpochs: 2, LearningRate: 0.05, BatchSize: 16}
	params := participant.InitialLinearModel(3)

	a, err := newTrainer(11).Fit(ctx, params, cfg)
	require.NoError(t, err)
	b, err := newTrainer(11).Fit(ctx, params, cfg)
	require.NoError(t, err)
	assert.True(t, a.Parameters.Equal(b.Parameters))
	assert.True(t, participant.InitialLinearModel(3).Equal(params), "input parameters must not be mutated")
}

func TestLinearTrainerErrors(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		desc    string
		trainer *participant.LinearTrainer
		params  fl.ParameterSet
		err     error
	}{
		{
			desc:    "wrong feature count",
			trainer: newTrainer(1),
			params:  participant.InitialLinearModel(4),
			err:     fl.ErrStructuralMismatch,
		},
		{
			desc:    "no training data",
			trainer: participant.NewLinearTrainer(participant.Dataset{}, participant.Dataset{}, 1),
			params:  participant.InitialLinearModel(3),
			err:     fl.ErrTrainingFailure,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := tc.trainer.Fit(ctx, tc.params, fl.FitConfig{Round: 1, LocalEpochs: 1, LearningRate: 0.1, BatchSize: 8})
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

type failingTrainer struct{}

func (failingTrainer) Fit(context.Context, fl.ParameterSet, fl.FitConfig) (fl.FitResult, error) {
	return fl.FitResult{}, fl.TrainingFailure("cuda out of memory")
}

func (failingTrainer) Evaluate(context.Context, fl.ParameterSet, fl.EvalConfig) (fl.EvalResult, error) {
	return fl.EvalResult{}, fl.TrainingFailure("no holdout data")
}

func TestClientServerRoundTrip(t *testing.T) {
	local := newTrainer(3)
	ts := httptest.NewServer(participant.MakeHandler(participant.NewMonitor("hospital-a", local), logger, "test"))
	defer ts.Close()

	client := participant.NewClient(ts.URL+"/", ts.Client())
	ctx := context.Background()
	params := participant.InitialLinearModel(3)
	cfg := fl.FitConfig{Round: 2, LocalEpochs: 3, LearningRate: 0.1, BatchSize: 32}

	require.NoError(t, client.Health(ctx))

	remote, err := client.Fit(ctx, params, cfg)
	require.NoError(t, err)
	direct, err := local.Fit(ctx, params, cfg)
	require.NoError(t, err)
	assert.True(t, direct.Parameters.Equal(remote.Parameters))
	assert.Equal(t, direct.SampleCount, remote.SampleCount)
	assert.Equal(t, uint64(2), remote.Round)
	assert.InDelta(t, direct.Metrics["loss"], remote.Metrics["loss"], 1e-12)

	eval, err := client.Evaluate(ctx, remote.Parameters, fl.EvalConfig{Round: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(80), eval.SampleCount)
	assert.Contains(t, eval.Metrics, "mae")
}

func TestClientErrors(t *testing.T) {
	ts := httptest.NewServer(participant.MakeHandler(participant.NewMonitor("hospital-b", failingTrainer{}), logger, "test"))
	defer ts.Close()
	client := participant.NewClient(ts.URL, ts.Client())
	ctx := context.Background()

	_, err := client.Fit(ctx, participant.InitialLinearModel(2), fl.FitConfig{Round: 1})
	assert.ErrorIs(t, err, fl.ErrTrainingFailure)
	assert.Contains(t, err.Error(), "cuda out of memory")

	_, err = client.Evaluate(ctx, participant.InitialLinearModel(2), fl.EvalConfig{Round: 1})
	assert.ErrorIs(t, err, fl.ErrTrainingFailure)

	res, err := ts.Client().Post(ts.URL+"/fit", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, res.StatusCode)

	res, err = ts.Client().Post(ts.URL+"/fit", participant.ContentType, strings.NewReader("not cbor"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestTrainerFactory(t *testing.T) {
	factory := participant.NewTrainerFactory(http.DefaultClient)

	tr, err := factory(registry.Participant{ID: "a", Endpoint: "http://a:9090"})
	require.NoError(t, err)
	assert.NotNil(t, tr)

	_, err = factory(registry.Participant{ID: "b"})
	assert.Error(t, err)
}
