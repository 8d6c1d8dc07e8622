package participant_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/absmach/flcoord/participant"
	"github.com/absmach/flcoord/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor(t *testing.T) {
	mon := participant.NewMonitor("hospital-a", newTrainer(5))
	ctx := context.Background()

	status := mon.Status()
	assert.Equal(t, "hospital-a", status.ParticipantID)
	assert.False(t, status.IsTraining)
	assert.Nil(t, mon.Summary().AverageTrainingLoss)

	params := participant.InitialLinearModel(3)
	for r := uint64(1); r <= 3; r++ {
		res, err := mon.Fit(ctx, params, fl.FitConfig{Round: r, LocalEpochs: 2, LearningRate: 0.1, BatchSize: 32})
		require.NoError(t, err)
		params = res.Parameters
		_, err = mon.Evaluate(ctx, params, fl.EvalConfig{Round: r})
		require.NoError(t, err)
	}

	status = mon.Status()
	assert.Equal(t, uint64(3), status.TotalTrainings)
	assert.Equal(t, uint64(3), status.TotalEvaluations)
	assert.False(t, status.IsTraining)
	assert.Nil(t, status.CurrentTraining)

	history := mon.History(4)
	require.Len(t, history, 4)
	assert.Equal(t, participant.ActivityEvaluate, history[3].Kind)
	assert.Equal(t, uint64(3), history[3].Round)
	assert.Equal(t, participant.ActivityFit, history[2].Kind)
	assert.Equal(t, 2, history[2].LocalEpochs)
	assert.Len(t, mon.History(0), 6)

	summary := mon.Summary()
	assert.Equal(t, 3, summary.TotalTrainings)
	assert.Equal(t, 3, summary.TotalEvaluations)
	require.NotNil(t, summary.LatestTrainingLoss)
	require.NotNil(t, summary.MinEvalLoss)
	assert.Equal(t, history[2].Metrics["loss"], *summary.LatestTrainingLoss)
	assert.LessOrEqual(t, *summary.MinTrainingLoss, *summary.AverageTrainingLoss)

	info, err := mon.ModelInfo()
	require.NoError(t, err)
	assert.Equal(t, participant.ModelInfo{Features: 3, TotalParameters: 4, TrainSamples: 320, HoldoutSamples: 80}, info)
}

func TestMonitorRecordsFailures(t *testing.T) {
	mon := participant.NewMonitor("hospital-b", failingTrainer{})
	ctx := context.Background()

	_, err := mon.Fit(ctx, participant.InitialLinearModel(2), fl.FitConfig{Round: 1})
	assert.ErrorIs(t, err, fl.ErrTrainingFailure)

	history := mon.History(10)
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Error, "cuda out of memory")
	assert.False(t, mon.Status().IsTraining)
	assert.Nil(t, mon.Summary().LatestTrainingLoss)

	_, err = mon.ModelInfo()
	assert.ErrorIs(t, err, participant.ErrModelInfoUnavailable)
}

func TestMonitorKeepsNewestActivities(t *testing.T) {
	mon := participant.NewMonitor("hospital-a", newTrainer(1))
	ctx := context.Background()

	for r := uint64(1); r <= 120; r++ {
		_, err := mon.Evaluate(ctx, participant.InitialLinearModel(3), fl.EvalConfig{Round: r})
		require.NoError(t, err)
	}

	history := mon.History(1000)
	require.Len(t, history, 100)
	assert.Equal(t, uint64(21), history[0].Round)
	assert.Equal(t, uint64(120), history[99].Round)
	assert.Equal(t, uint64(120), mon.Status().TotalEvaluations)
}

func TestMonitoringEndpoints(t *testing.T) {
	mon := participant.NewMonitor("hospital-a", newTrainer(3))
	_, err := mon.Fit(context.Background(), participant.InitialLinearModel(3), fl.FitConfig{Round: 1, LearningRate: 0.1})
	require.NoError(t, err)

	ts := httptest.NewServer(participant.MakeHandler(mon, logger, "test"))
	defer ts.Close()

	noModel := httptest.NewServer(participant.MakeHandler(participant.NewMonitor("hospital-b", failingTrainer{}), logger, "test"))
	defer noModel.Close()

	cases := []struct {
		desc   string
		url    string
		status int
		field  string
	}{
		{desc: "status", url: ts.URL + "/status", status: http.StatusOK, field: "total_trainings"},
		{desc: "history", url: ts.URL + "/monitoring/history", status: http.StatusOK, field: "history"},
		{desc: "history with limit", url: ts.URL + "/monitoring/history?limit=1", status: http.StatusOK, field: "history"},
		{desc: "history with invalid limit", url: ts.URL + "/monitoring/history?limit=abc", status: http.StatusBadRequest, field: "error"},
		{desc: "history with zero limit", url: ts.URL + "/monitoring/history?limit=0", status: http.StatusBadRequest, field: "error"},
		{desc: "summary", url: ts.URL + "/monitoring/summary", status: http.StatusOK, field: "latest_training_loss"},
		{desc: "model info", url: ts.URL + "/model/info", status: http.StatusOK, field: "model"},
		{desc: "model info without describer", url: noModel.URL + "/model/info", status: http.StatusNotFound, field: "error"},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			res, err := ts.Client().Get(tc.url)
			require.NoError(t, err)
			defer res.Body.Close()
			assert.Equal(t, tc.status, res.StatusCode)

			var body map[string]any
			require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
			assert.Contains(t, body, tc.field, fmt.Sprintf("body: %v", body))
		})
	}
}
