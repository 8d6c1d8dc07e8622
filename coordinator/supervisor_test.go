package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/flcoord/coordinator"
	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/fl"
	"github.com/absmach/flcoord/pkg/storage"
	"github.com/absmach/flcoord/round"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorRun(t *testing.T) {
	h := newHarness(t, testConfig(2), map[string]*fakeTrainer{
		"a": {value: 1, samples: 10, loss: 0.5},
		"b": {value: 3, samples: 10, loss: 0.5},
	})
	sup := coordinator.NewSupervisor(testConfig(2), h.rounds, h.checkpoints, h.metrics, logger)
	ctx := context.Background()

	err := sup.Run(ctx, coordinator.Session{ID: "s1", NumRounds: 3, Initial: uniform(0)})
	require.NoError(t, err)

	status := sup.Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, uint64(3), status.CompletedRounds)
	assert.Equal(t, uint64(3), status.CurrentRound)
	assert.Empty(t, status.LastError)

	history, err := h.metrics.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, r := range history {
		assert.Equal(t, uint64(i+1), r.Number)
		assert.Equal(t, round.Completed, r.Status)
		assert.Equal(t, "s1", r.SessionID)
	}

	active, err := h.checkpoints.LoadActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), active.Round)
	assert.True(t, uniform(2).Equal(active.Parameters))
}

func TestSupervisorResume(t *testing.T) {
	h := newHarness(t, testConfig(1), map[string]*fakeTrainer{
		"a": {value: 4, samples: 10},
	})
	sup := coordinator.NewSupervisor(testConfig(1), h.rounds, h.checkpoints, h.metrics, logger)
	ctx := context.Background()

	require.NoError(t, sup.Run(ctx, coordinator.Session{ID: "first", NumRounds: 2, Initial: uniform(0)}))
	require.NoError(t, sup.Run(ctx, coordinator.Session{ID: "second", NumRounds: 2, Resume: true}))

	history, err := h.metrics.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, uint64(4), history[3].Number)
	assert.Equal(t, "second", history[3].SessionID)
}

func TestSupervisorAbortsAfterConsecutiveFailures(t *testing.T) {
	cfg := testConfig(2)
	cfg.MaxConsecutiveFailures = 2
	h := newHarness(t, cfg, map[string]*fakeTrainer{
		"a": {value: 1, samples: 10},
		"b": {err: fl.TrainingFailure("gpu lost")},
	})
	sup := coordinator.NewSupervisor(cfg, h.rounds, h.checkpoints, h.metrics, logger)
	ctx := context.Background()

	err := sup.Run(ctx, coordinator.Session{ID: "s", NumRounds: 10, Initial: uniform(0)})
	assert.ErrorIs(t, err, coordinator.ErrSessionAborted)
	assert.ErrorIs(t, err, coordinator.ErrQuorumNotMet)

	status := sup.Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, uint64(0), status.CompletedRounds)
	assert.NotEmpty(t, status.LastError)

	summary, err := h.metrics.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), summary.FailedRounds)
}

func TestSupervisorStart(t *testing.T) {
	cases := []struct {
		desc    string
		session coordinator.Session
		err     error
	}{
		{
			desc:    "missing initial model",
			session: coordinator.Session{ID: "s", NumRounds: 1},
			err:     coordinator.ErrNoInitialModel,
		},
		{
			desc:    "resume without checkpoint falls back to initial model",
			session: coordinator.Session{ID: "s", NumRounds: 1, Initial: uniform(0), Resume: true},
		},
		{
			desc:    "invalid initial model",
			session: coordinator.Session{ID: "s", NumRounds: 1, Initial: fl.ParameterSet{Tensors: []fl.Tensor{{Name: "w", Shape: []int{2}, Values: []float64{1}}}}},
			err:     fl.ErrInvalidShape,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			h := newHarness(t, testConfig(1), map[string]*fakeTrainer{
				"a": {value: 1, samples: 10},
			})
			sup := coordinator.NewSupervisor(testConfig(1), h.rounds, h.checkpoints, h.metrics, logger)

			_, err := sup.Start(context.Background(), tc.session)
			assert.ErrorIs(t, err, tc.err)
			if err == nil {
				assert.Eventually(t, func() bool { return !sup.Status().IsRunning }, 5*time.Second, 10*time.Millisecond)
			}
		})
	}
}

func TestSupervisorSingleSession(t *testing.T) {
	cfg := testConfig(1)
	cfg.RoundDeadline = time.Minute
	h := newHarness(t, cfg, map[string]*fakeTrainer{
		"a": {value: 1, samples: 10, delay: time.Minute},
	})
	sup := coordinator.NewSupervisor(cfg, h.rounds, h.checkpoints, h.metrics, logger)
	ctx := context.Background()

	status, err := sup.Start(ctx, coordinator.Session{ID: "running", NumRounds: 5, Initial: uniform(0)})
	require.NoError(t, err)
	assert.True(t, status.IsRunning)
	assert.Equal(t, uint64(5), status.TotalRounds)

	_, err = sup.Start(ctx, coordinator.Session{ID: "other", NumRounds: 1, Initial: uniform(0)})
	assert.ErrorIs(t, err, coordinator.ErrSessionRunning)

	abortCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Abort(abortCtx))

	status = sup.Status()
	assert.False(t, status.IsRunning)
	assert.Contains(t, status.LastError, coordinator.ErrSessionAborted.Error())
	assert.ErrorIs(t, sup.Abort(ctx), coordinator.ErrNoSession)
}

func TestSupervisorContinuesFromActiveCheckpointAfterArchiveFailure(t *testing.T) {
	cfg := testConfig(1)
	cfg.MaxConsecutiveFailures = 2
	checkpoints, err := checkpoint.NewFSStore(t.TempDir())
	require.NoError(t, err)
	metrics := flakyMetrics{
		MetricsStore: storage.NewInMemoryStore(),
		fail:         func(r round.Round) bool { return r.Number == 2 && r.Status == round.Completed },
	}
	trainer := newStepTrainer(nil)
	h := newHarnessWith(t, cfg, map[string]fl.LocalTrainer{"a": trainer}, checkpoints, metrics)
	sup := coordinator.NewSupervisor(cfg, h.rounds, h.checkpoints, h.metrics, logger)
	ctx := context.Background()

	require.NoError(t, sup.Run(ctx, coordinator.Session{ID: "s", NumRounds: 3, Initial: uniform(0)}))
	assert.Equal(t, uint64(2), sup.Status().CompletedRounds)

	cases := []struct {
		round uint64
		bias  float64
	}{
		{round: 1, bias: 0},
		{round: 2, bias: 1},
		{round: 3, bias: 1},
	}
	for _, tc := range cases {
		got, ok := trainer.received(tc.round)
		require.True(t, ok, "round %d was not dispatched", tc.round)
		assert.Equal(t, tc.bias, got, "round %d trained from the wrong model", tc.round)
	}

	active, err := h.checkpoints.LoadActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), active.Round)
	assert.True(t, uniform(2).Equal(active.Parameters))
	_, err = h.checkpoints.Load(ctx, 2)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestSupervisorHaltedSessionResumesFromLastCompletedRound(t *testing.T) {
	checkpoints, err := checkpoint.NewFSStore(t.TempDir())
	require.NoError(t, err)
	metrics := flakyMetrics{
		MetricsStore: storage.NewInMemoryStore(),
		fail:         func(r round.Round) bool { return r.Number == 2 && r.Status == round.Completed },
	}
	trainer := newStepTrainer(nil)
	h := newHarnessWith(t, testConfig(1), map[string]fl.LocalTrainer{"a": trainer}, checkpoints, metrics)
	sup := coordinator.NewSupervisor(testConfig(1), h.rounds, h.checkpoints, h.metrics, logger)
	ctx := context.Background()

	err = sup.Run(ctx, coordinator.Session{ID: "halted", NumRounds: 3, Initial: uniform(0)})
	assert.ErrorIs(t, err, coordinator.ErrSessionAborted)

	require.NoError(t, sup.Run(ctx, coordinator.Session{ID: "resumed", NumRounds: 1, Resume: true}))
	got, ok := trainer.received(3)
	require.True(t, ok)
	assert.Equal(t, float64(1), got)
}

func TestSupervisorCheckpointPrecedesNextDispatch(t *testing.T) {
	events := newEventLog()
	store, err := checkpoint.NewFSStore(t.TempDir())
	require.NoError(t, err)
	checkpoints := loggedCheckpoints{Store: store, events: events}
	h := newHarnessWith(t, testConfig(1), map[string]fl.LocalTrainer{"a": newStepTrainer(events)}, checkpoints, storage.NewInMemoryStore())
	sup := coordinator.NewSupervisor(testConfig(1), h.rounds, h.checkpoints, h.metrics, logger)
	ctx := context.Background()

	require.NoError(t, sup.Run(ctx, coordinator.Session{ID: "first", NumRounds: 3, Initial: uniform(0)}))
	require.NoError(t, sup.Run(ctx, coordinator.Session{ID: "second", NumRounds: 3, Resume: true}))

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.fits, 6)
	require.Len(t, events.saves, 6)
	for r := uint64(1); r < 6; r++ {
		saved, next := events.saves[r], events.fits[r+1]
		assert.Less(t, saved.seq, next.seq, "round %d dispatched before round %d was checkpointed", r+1, r)
		assert.False(t, next.at.Before(saved.at), "round %d dispatched before round %d was checkpointed", r+1, r)
	}
}
