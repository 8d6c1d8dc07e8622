package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/fl"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/absmach/flcoord/pkg/storage"
	"github.com/absmach/flcoord/round"
	"golang.org/x/sync/errgroup"
)

// Selector picks the participants of a round phase.
type Selector interface {
	WaitAndSelect(ctx context.Context, minAvailable int, fraction float64, timeout time.Duration) ([]registry.Participant, error)
}

// TrainerFactory resolves the trainer that reaches a participant.
type TrainerFactory func(p registry.Participant) (fl.LocalTrainer, error)

type RoundRequest struct {
	Number     uint64
	SessionID  string
	Parameters fl.ParameterSet
}

// RoundResult carries the archived round and, when it completed, the new
// global parameters.
type RoundResult struct {
	Round      round.Round
	Parameters fl.ParameterSet
}

type RoundCoordinator struct {
	cfg         Config
	selector    Selector
	trainers    TrainerFactory
	aggregator  fl.Aggregator
	checkpoints checkpoint.Store
	metrics     storage.MetricsStore
	events      EventPublisher
	logger      *slog.Logger
}

type Option func(*RoundCoordinator)

func WithEvents(p EventPublisher) Option {
	return func(rc *RoundCoordinator) {
		if p != nil {
			rc.events = p
		}
	}
}

func WithAggregator(a fl.Aggregator) Option {
	return func(rc *RoundCoordinator) {
		if a != nil {
			rc.aggregator = a
		}
	}
}

func NewRoundCoordinator(cfg Config, selector Selector, trainers TrainerFactory, checkpoints checkpoint.Store, metrics storage.MetricsStore, logger *slog.Logger, opts ...Option) *RoundCoordinator {
	rc := &RoundCoordinator{
		cfg:         cfg,
		selector:    selector,
		trainers:    trainers,
		aggregator:  fl.NewFedAvgAggregator(),
		checkpoints: checkpoints,
		metrics:     metrics,
		events:      noopPublisher{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(rc)
	}

	return rc
}

// Run drives one round from selection to archive. On failure the returned
// round is failed and the active checkpoint is the one the round started
// from. A number already in the history is rejected before any dispatch and
// leaves the archive untouched.
func (rc *RoundCoordinator) Run(ctx context.Context, req RoundRequest) (RoundResult, error) {
	r := round.New(req.Number, req.SessionID)
	if err := rc.unused(ctx, req.Number); err != nil {
		if ferr := r.Fail(err); ferr != nil {
			return RoundResult{}, ferr
		}

		return RoundResult{Round: r.Clone()}, err
	}
	currentRound.Set(float64(req.Number))
	rc.publish(ctx, RoundStarted, *r)
	rc.logger.InfoContext(ctx, "round started", slog.Uint64("round", r.Number), slog.String("session_id", r.SessionID))

	params, err := rc.execute(ctx, r, req.Parameters.Clone())
	if err != nil {
		rc.fail(ctx, r, err)

		return RoundResult{Round: r.Clone()}, err
	}

	roundTotal.WithLabelValues(string(round.Completed)).Inc()
	roundDuration.Observe(r.Duration().Seconds())
	rc.publish(ctx, RoundCompleted, *r)
	rc.logger.InfoContext(ctx, "round completed",
		slog.Uint64("round", r.Number),
		slog.Int("responded", len(r.Responded)),
		slog.Int("evaluated", len(r.Evaluated)),
		slog.Any("fit_metrics", r.FitMetrics),
		slog.Any("eval_metrics", r.EvalMetrics),
		slog.String("duration", r.Duration().String()),
	)
	rc.retain(ctx)

	return RoundResult{Round: r.Clone(), Parameters: params}, nil
}

func (rc *RoundCoordinator) execute(ctx context.Context, r *round.Round, global fl.ParameterSet) (fl.ParameterSet, error) {
	if err := ctx.Err(); err != nil {
		return fl.ParameterSet{}, fmt.Errorf("%w: %w", ErrRoundCancelled, err)
	}

	selected, err := rc.selector.WaitAndSelect(ctx, rc.cfg.selectionFloor(), rc.cfg.FractionFit, rc.cfg.AvailabilityTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return fl.ParameterSet{}, fmt.Errorf("%w: %w", ErrRoundCancelled, err)
		}

		return fl.ParameterSet{}, err
	}
	r.Invited = participantIDs(selected)
	if err := r.Transition(round.Fitting); err != nil {
		return fl.ParameterSet{}, err
	}

	fits := rc.fit(ctx, r, selected, global)
	if err := ctx.Err(); err != nil {
		return fl.ParameterSet{}, fmt.Errorf("%w: %w", ErrRoundCancelled, err)
	}
	if len(fits) < rc.cfg.MinFitClients {
		return fl.ParameterSet{}, fmt.Errorf("%w: %d of %d required fit responses", ErrQuorumNotMet, len(fits), rc.cfg.MinFitClients)
	}
	updates := make([]fl.WeightedParameters, len(fits))
	scalars := make([]fl.WeightedScalars, len(fits))
	for i, f := range fits {
		r.Responded = append(r.Responded, f.ParticipantID)
		updates[i] = fl.WeightedParameters{ParticipantID: f.ParticipantID, Parameters: f.Parameters, SampleCount: f.SampleCount}
		scalars[i] = fl.WeightedScalars{ParticipantID: f.ParticipantID, SampleCount: f.SampleCount, Metrics: f.Metrics}
	}
	if err := r.Transition(round.Aggregating); err != nil {
		return fl.ParameterSet{}, err
	}

	start := time.Now()
	aggregated, err := rc.aggregator.Aggregate(updates)
	aggregationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fl.ParameterSet{}, fmt.Errorf("aggregation failed: %w", err)
	}
	fitMetrics, err := fl.WeightedMetrics(scalars)
	if err != nil {
		return fl.ParameterSet{}, fmt.Errorf("fit metrics aggregation failed: %w", err)
	}
	r.FitMetrics = fitMetrics

	if err := rc.checkpoints.Save(ctx, r.Number, aggregated); err != nil {
		return fl.ParameterSet{}, fmt.Errorf("%w: %w", ErrCheckpoint, err)
	}
	if err := rc.finish(ctx, r, aggregated); err != nil {
		rc.revert(ctx, r.Number)

		return fl.ParameterSet{}, err
	}

	return aggregated, nil
}

// finish evaluates the checkpointed model and archives the completed round.
func (rc *RoundCoordinator) finish(ctx context.Context, r *round.Round, aggregated fl.ParameterSet) error {
	if err := r.Transition(round.Evaluating); err != nil {
		return err
	}

	// The model is durable from here on, so cancellation only cuts
	// evaluation short.
	evals := rc.evaluate(ctx, r, aggregated)
	if len(evals) > 0 {
		evalScalars := make([]fl.WeightedScalars, len(evals))
		for i, e := range evals {
			r.Evaluated = append(r.Evaluated, e.ParticipantID)
			evalScalars[i] = fl.WeightedScalars{ParticipantID: e.ParticipantID, SampleCount: e.SampleCount, Metrics: e.Metrics}
		}
		evalMetrics, err := fl.WeightedMetrics(evalScalars)
		if err != nil {
			rc.logger.WarnContext(ctx, "failed to aggregate evaluation metrics", slog.Uint64("round", r.Number), slog.String("error", err.Error()))
		} else {
			r.EvalMetrics = withRMSE(evalMetrics)
		}
	}

	done := r.Clone()
	if err := done.Complete(rc.cfg.MinFitClients); err != nil {
		return err
	}
	if err := rc.metrics.Append(context.WithoutCancel(ctx), done); err != nil {
		return fmt.Errorf("%w: %w", ErrMetricsAppend, err)
	}
	*r = done

	return nil
}

func (rc *RoundCoordinator) unused(ctx context.Context, number uint64) error {
	_, err := rc.metrics.Get(ctx, number)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %d", ErrDuplicateRound, number)
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return err
	}
}

// revert restores the active checkpoint a failed round replaced.
func (rc *RoundCoordinator) revert(ctx context.Context, number uint64) {
	if err := rc.checkpoints.Revert(context.WithoutCancel(ctx), number); err != nil {
		rc.logger.ErrorContext(ctx, "failed to revert checkpoint of failed round", slog.Uint64("round", number), slog.String("error", err.Error()))
	}
}

func (rc *RoundCoordinator) fit(ctx context.Context, r *round.Round, selected []registry.Participant, global fl.ParameterSet) []fl.FitResult {
	number := r.Number
	cfg := rc.cfg.fitConfig(number)

	results := dispatch(ctx, selected, rc.cfg.RoundDeadline, rc.cfg.MaxConcurrency, func(ctx context.Context, p registry.Participant) (fl.FitResult, error) {
		trainer, err := rc.trainers(p)
		if err != nil {
			return fl.FitResult{}, err
		}
		res, err := trainer.Fit(ctx, global.Clone(), cfg)
		if err != nil {
			return fl.FitResult{}, err
		}
		if res.Round != number {
			return fl.FitResult{}, fmt.Errorf("%w: got round %d", ErrStaleResult, res.Round)
		}
		res.ParticipantID = p.ID

		return res, nil
	})

	return collect(ctx, rc.logger, r, round.PhaseFit, selected, results, func(res fl.FitResult) (int64, map[string]float64) {
		return res.SampleCount, res.Metrics
	})
}

func (rc *RoundCoordinator) evaluate(ctx context.Context, r *round.Round, params fl.ParameterSet) []fl.EvalResult {
	if rc.cfg.FractionEvaluate == 0 || ctx.Err() != nil {
		return nil
	}

	selected, err := rc.selector.WaitAndSelect(ctx, rc.cfg.MinEvaluateClients, rc.cfg.FractionEvaluate, 0)
	if err != nil {
		rc.logger.WarnContext(ctx, "skipping evaluation", slog.Uint64("round", r.Number), slog.String("error", err.Error()))

		return nil
	}

	number := r.Number
	cfg := fl.EvalConfig{Round: number}
	results := dispatch(ctx, selected, rc.cfg.evaluateDeadline(), rc.cfg.MaxConcurrency, func(ctx context.Context, p registry.Participant) (fl.EvalResult, error) {
		trainer, err := rc.trainers(p)
		if err != nil {
			return fl.EvalResult{}, err
		}
		res, err := trainer.Evaluate(ctx, params.Clone(), cfg)
		if err != nil {
			return fl.EvalResult{}, err
		}
		if res.Round != number {
			return fl.EvalResult{}, fmt.Errorf("%w: got round %d", ErrStaleResult, res.Round)
		}
		if res.SampleCount <= 0 {
			return fl.EvalResult{}, fl.ErrInvalidWeight
		}
		res.ParticipantID = p.ID

		return res, nil
	})

	evals := collect(ctx, rc.logger, r, round.PhaseEvaluate, selected, results, func(res fl.EvalResult) (int64, map[string]float64) {
		return res.SampleCount, res.Metrics
	})
	if len(evals) < rc.cfg.MinEvaluateClients {
		rc.logger.WarnContext(ctx, "evaluation shortfall",
			slog.Uint64("round", r.Number),
			slog.Int("evaluated", len(evals)),
			slog.Int("min_evaluate_clients", rc.cfg.MinEvaluateClients),
		)
	}

	return evals
}

func (rc *RoundCoordinator) fail(ctx context.Context, r *round.Round, cause error) {
	if err := r.Fail(cause); err != nil {
		rc.logger.ErrorContext(ctx, "failed to mark round failed", slog.Uint64("round", r.Number), slog.String("error", err.Error()))
	}
	roundTotal.WithLabelValues(string(round.Failed)).Inc()
	roundDuration.Observe(r.Duration().Seconds())

	archived := r.Clone()
	if err := rc.metrics.Append(context.WithoutCancel(ctx), archived); err != nil {
		rc.logger.WarnContext(ctx, "failed to record failed round", slog.Uint64("round", r.Number), slog.String("error", err.Error()))
	}
	rc.publish(ctx, RoundFailed, archived)
	rc.logger.WarnContext(ctx, "round failed",
		slog.Uint64("round", r.Number),
		slog.Int("invited", len(r.Invited)),
		slog.Int("responded", len(r.Responded)),
		slog.String("error", cause.Error()),
	)
}

func (rc *RoundCoordinator) retain(ctx context.Context) {
	if rc.cfg.CheckpointRetention > 0 {
		if err := rc.checkpoints.Prune(ctx, rc.cfg.CheckpointRetention); err != nil {
			rc.logger.WarnContext(ctx, "failed to prune checkpoints", slog.String("error", err.Error()))
		}
	}
	if rc.cfg.MetricsRetention > 0 {
		if err := rc.metrics.Truncate(ctx, rc.cfg.MetricsRetention); err != nil {
			rc.logger.WarnContext(ctx, "failed to truncate round history", slog.String("error", err.Error()))
		}
	}
}

func (rc *RoundCoordinator) publish(ctx context.Context, kind EventKind, r round.Round) {
	if err := rc.events.PublishRound(ctx, kind, r); err != nil {
		rc.logger.WarnContext(ctx, "failed to publish round event",
			slog.String("event", string(kind)),
			slog.Uint64("round", r.Number),
			slog.String("error", err.Error()),
		)
	}
}

type callResult[T any] struct {
	value    T
	err      error
	duration time.Duration
}

// dispatch calls every participant concurrently and waits until all calls
// returned, the phase timeout elapsed or ctx is cancelled. Cancellation stops
// new dispatches; calls already in flight keep running until the phase
// deadline and their late results are dropped.
func dispatch[T any](ctx context.Context, participants []registry.Participant, timeout time.Duration, limit int, call func(context.Context, registry.Participant) (T, error)) map[string]callResult[T] {
	phaseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadline, _ := phaseCtx.Deadline()

	type keyed struct {
		id  string
		res callResult[T]
	}
	results := make(chan keyed, len(participants))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, p := range participants {
			if phaseCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				if phaseCtx.Err() != nil {
					results <- keyed{id: p.ID, res: callResult[T]{err: ErrNotDispatched}}

					return nil
				}
				callCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
				defer cancel()

				start := time.Now()
				v, err := call(callCtx, p)
				results <- keyed{id: p.ID, res: callResult[T]{value: v, err: err, duration: time.Since(start)}}

				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-phaseCtx.Done():
	}

	out := make(map[string]callResult[T], len(participants))
	for len(results) > 0 {
		k := <-results
		out[k.id] = k.res
	}

	return out
}

// collect records one outcome per selected participant and returns the
// successful results in selection order.
func collect[T any](ctx context.Context, logger *slog.Logger, r *round.Round, phase round.Phase, selected []registry.Participant, results map[string]callResult[T], info func(T) (int64, map[string]float64)) []T {
	var ok []T
	for _, p := range selected {
		outcome := round.ParticipantOutcome{ParticipantID: p.ID, Phase: phase}
		res, found := results[p.ID]
		switch {
		case !found:
			err := ErrDeadlineReached
			if ctx.Err() != nil {
				err = ErrRoundCancelled
			}
			outcome.Error = err.Error()
		case res.err != nil:
			outcome.Error = res.err.Error()
			outcome.Duration = res.duration
		default:
			outcome.SampleCount, outcome.Metrics = info(res.value)
			outcome.Duration = res.duration
			ok = append(ok, res.value)
		}
		r.Record(outcome)

		label := "success"
		if !outcome.Succeeded() {
			label = "failure"
			logger.WarnContext(ctx, "participant call failed",
				slog.Uint64("round", r.Number),
				slog.String("phase", string(phase)),
				slog.String("participant_id", p.ID),
				slog.String("error", outcome.Error),
			)
		}
		participantCalls.WithLabelValues(string(phase), label).Inc()
	}

	return ok
}

// withRMSE adds rmse derived from a mean squared error loss when a
// participant did not report it.
func withRMSE(m map[string]float64) map[string]float64 {
	if loss, ok := m["loss"]; ok && loss >= 0 {
		if _, ok := m["rmse"]; !ok {
			m["rmse"] = math.Sqrt(loss)
		}
	}

	return m
}

func participantIDs(ps []registry.Participant) []string {
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}

	return ids
}
