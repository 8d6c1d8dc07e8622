package coordinator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/flcoord/coordinator"
	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/fl"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/absmach/flcoord/pkg/storage"
	"github.com/absmach/flcoord/round"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func uniform(value float64) fl.ParameterSet {
	return fl.ParameterSet{Tensors: []fl.Tensor{
		{Name: "weights", Shape: []int{2, 2}, Values: []float64{value, value, value, value}},
		{Name: "bias", Shape: []int{}, Values: []float64{value}},
	}}
}

// fakeTrainer returns a fixed model filled with value. It tracks how many
// calls run concurrently across all trainers sharing the same gauge.
type fakeTrainer struct {
	value    float64
	samples  int64
	loss     float64
	delay    time.Duration
	err      error
	stale    bool
	mismatch bool
	evalErr  error
	inFlight *concurrency
	fits     atomic.Int32
}

type concurrency struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (c *concurrency) enter() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	c.peak = max(c.peak, c.current)
}

func (c *concurrency) leave() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current--
}

func (f *fakeTrainer) Fit(ctx context.Context, _ fl.ParameterSet, cfg fl.FitConfig) (fl.FitResult, error) {
	f.fits.Add(1)
	f.inFlight.enter()
	defer f.inFlight.leave()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return fl.FitResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return fl.FitResult{}, f.err
	}

	number := cfg.Round
	if f.stale {
		number--
	}
	params := uniform(f.value)
	if f.mismatch {
		params = fl.ParameterSet{Tensors: []fl.Tensor{{Name: "weights", Shape: []int{3}, Values: []float64{1, 2, 3}}}}
	}

	return fl.FitResult{
		Round:       number,
		Parameters:  params,
		SampleCount: f.samples,
		Metrics:     map[string]float64{"loss": f.loss},
	}, nil
}

func (f *fakeTrainer) Evaluate(_ context.Context, _ fl.ParameterSet, cfg fl.EvalConfig) (fl.EvalResult, error) {
	if f.evalErr != nil {
		return fl.EvalResult{}, f.evalErr
	}

	return fl.EvalResult{
		Round:       cfg.Round,
		SampleCount: f.samples,
		Metrics:     map[string]float64{"loss": f.loss},
	}, nil
}

type harness struct {
	rounds      *coordinator.RoundCoordinator
	registry    *registry.Registry
	checkpoints checkpoint.Store
	metrics     storage.MetricsStore
}

func newHarness(t *testing.T, cfg coordinator.Config, trainers map[string]*fakeTrainer) harness {
	t.Helper()

	checkpoints, err := checkpoint.NewFSStore(t.TempDir())
	require.NoError(t, err)
	local := make(map[string]fl.LocalTrainer, len(trainers))
	for id, tr := range trainers {
		local[id] = tr
	}

	return newHarnessWith(t, cfg, local, checkpoints, storage.NewInMemoryStore())
}

func newHarnessWith(t *testing.T, cfg coordinator.Config, trainers map[string]fl.LocalTrainer, checkpoints checkpoint.Store, metrics storage.MetricsStore) harness {
	t.Helper()

	reg := registry.New()
	for id := range trainers {
		require.NoError(t, reg.Register(id, "http://"+id))
	}
	t.Cleanup(func() {
		checkpoints.Close()
		metrics.Close()
	})

	factory := func(p registry.Participant) (fl.LocalTrainer, error) {
		tr, ok := trainers[p.ID]
		if !ok {
			return nil, registry.ErrNotFound
		}

		return tr, nil
	}

	return harness{
		rounds:      coordinator.NewRoundCoordinator(cfg, reg, factory, checkpoints, metrics, logger),
		registry:    reg,
		checkpoints: checkpoints,
		metrics:     metrics,
	}
}

func testConfig(minFit int) coordinator.Config {
	cfg := coordinator.DefaultConfig()
	cfg.MinFitClients = minFit
	cfg.MinAvailableClients = minFit
	cfg.MinEvaluateClients = minFit
	cfg.RoundDeadline = 2 * time.Second
	cfg.AvailabilityTimeout = 200 * time.Millisecond

	return cfg
}

// stepTrainer adds one to every parameter it receives. It records the bias
// it was given per round and logs each fit start.
type stepTrainer struct {
	events *eventLog

	mu   sync.Mutex
	seen map[uint64]float64
}

func newStepTrainer(events *eventLog) *stepTrainer {
	return &stepTrainer{events: events, seen: make(map[uint64]float64)}
}

func (s *stepTrainer) Fit(_ context.Context, params fl.ParameterSet, cfg fl.FitConfig) (fl.FitResult, error) {
	s.events.fitStarted(cfg.Round)

	out := params.Clone()
	for i := range out.Tensors {
		for j := range out.Tensors[i].Values {
			out.Tensors[i].Values[j]++
		}
		if out.Tensors[i].Name == "bias" {
			s.mu.Lock()
			s.seen[cfg.Round] = params.Tensors[i].Values[0]
			s.mu.Unlock()
		}
	}

	return fl.FitResult{
		Round:       cfg.Round,
		Parameters:  out,
		SampleCount: 10,
		Metrics:     map[string]float64{"loss": 1},
	}, nil
}

func (s *stepTrainer) Evaluate(_ context.Context, _ fl.ParameterSet, cfg fl.EvalConfig) (fl.EvalResult, error) {
	return fl.EvalResult{Round: cfg.Round, SampleCount: 10, Metrics: map[string]float64{"loss": 1}}, nil
}

func (s *stepTrainer) received(number uint64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.seen[number]

	return v, ok
}

// eventLog orders fit starts against checkpoint writes with a shared
// sequence number and wall clock.
type eventLog struct {
	mu    sync.Mutex
	seq   int
	fits  map[uint64]event
	saves map[uint64]event
}

type event struct {
	seq int
	at  time.Time
}

func newEventLog() *eventLog {
	return &eventLog{fits: make(map[uint64]event), saves: make(map[uint64]event)}
}

func (l *eventLog) next() event {
	l.seq++

	return event{seq: l.seq, at: time.Now()}
}

func (l *eventLog) fitStarted(number uint64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.fits[number]; !ok {
		l.fits[number] = l.next()
	}
}

func (l *eventLog) saved(number uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saves[number] = l.next()
}

// loggedCheckpoints records when each Save returned.
type loggedCheckpoints struct {
	checkpoint.Store
	events *eventLog
}

func (c loggedCheckpoints) Save(ctx context.Context, number uint64, params fl.ParameterSet) error {
	err := c.Store.Save(ctx, number, params)
	if err == nil {
		c.events.saved(number)
	}

	return err
}

var errDiskFull = errors.New("disk full")

// flakyMetrics fails Append for the rounds fail selects.
type flakyMetrics struct {
	storage.MetricsStore
	fail func(round.Round) bool
}

func (m flakyMetrics) Append(ctx context.Context, r round.Round) error {
	if m.fail(r) {
		return errDiskFull
	}

	return m.MetricsStore.Append(ctx, r)
}
