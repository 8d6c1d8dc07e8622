package participant

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/absmach/flcoord/pkg/fl"
)

const (
	maxActivities   = 100
	DefHistoryLimit = 20
)

var ErrModelInfoUnavailable = errors.New("trainer does not describe its model")

type ActivityKind string

const (
	ActivityFit      ActivityKind = "training"
	ActivityEvaluate ActivityKind = "evaluation"
)

// Activity is one fit or evaluate call the participant served.
type Activity struct {
	Round           uint64             `json:"round_number"`
	Kind            ActivityKind       `json:"type"`
	SampleCount     int64              `json:"num_samples,omitempty"`
	LocalEpochs     int                `json:"local_epochs,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Error           string             `json:"error,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	DurationSeconds float64            `json:"duration_seconds"`
}

type MonitorStatus struct {
	ParticipantID    string    `json:"participant_id"`
	CurrentTraining  *Activity `json:"current_training,omitempty"`
	TotalTrainings   uint64    `json:"total_trainings"`
	TotalEvaluations uint64    `json:"total_evaluations"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
	IsTraining       bool      `json:"is_training"`
}

// MonitorSummary aggregates the loss of the retained activities. Loss fields
// are nil when no successful activity of that kind reported a loss.
type MonitorSummary struct {
	ParticipantID       string   `json:"participant_id"`
	TotalTrainings      int      `json:"total_trainings"`
	TotalEvaluations    int      `json:"total_evaluations"`
	AverageTrainingLoss *float64 `json:"average_training_loss,omitempty"`
	AverageEvalLoss     *float64 `json:"average_eval_loss,omitempty"`
	MinTrainingLoss     *float64 `json:"min_training_loss,omitempty"`
	MinEvalLoss         *float64 `json:"min_eval_loss,omitempty"`
	LatestTrainingLoss  *float64 `json:"latest_training_loss,omitempty"`
	LatestEvalLoss      *float64 `json:"latest_eval_loss,omitempty"`
}

type ModelInfo struct {
	Features        int `json:"features"`
	TotalParameters int `json:"total_parameters"`
	TrainSamples    int `json:"train_samples"`
	HoldoutSamples  int `json:"holdout_samples"`
}

type modelDescriber interface {
	ModelInfo() ModelInfo
}

var _ fl.LocalTrainer = (*Monitor)(nil)

// Monitor wraps a local trainer and keeps the most recent calls it served.
type Monitor struct {
	id      string
	trainer fl.LocalTrainer
	started time.Time

	mu         sync.Mutex
	current    *Activity
	activities []Activity
	fits       uint64
	evals      uint64
}

func NewMonitor(id string, trainer fl.LocalTrainer) *Monitor {
	return &Monitor{
		id:      id,
		trainer: trainer,
		started: time.Now(),
	}
}

func (m *Monitor) Fit(ctx context.Context, params fl.ParameterSet, cfg fl.FitConfig) (fl.FitResult, error) {
	a := Activity{
		Round:       cfg.Round,
		Kind:        ActivityFit,
		LocalEpochs: cfg.LocalEpochs,
		StartedAt:   time.Now().UTC(),
	}
	m.mu.Lock()
	m.fits++
	current := a
	m.current = &current
	m.mu.Unlock()

	res, err := m.trainer.Fit(ctx, params, cfg)
	if err != nil {
		a.Error = err.Error()
	} else {
		a.SampleCount = res.SampleCount
		a.Metrics = maps.Clone(res.Metrics)
	}
	m.record(a)

	return res, err
}

func (m *Monitor) Evaluate(ctx context.Context, params fl.ParameterSet, cfg fl.EvalConfig) (fl.EvalResult, error) {
	a := Activity{
		Round:     cfg.Round,
		Kind:      ActivityEvaluate,
		StartedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.evals++
	m.mu.Unlock()

	res, err := m.trainer.Evaluate(ctx, params, cfg)
	if err != nil {
		a.Error = err.Error()
	} else {
		a.SampleCount = res.SampleCount
		a.Metrics = maps.Clone(res.Metrics)
	}
	m.record(a)

	return res, err
}

func (m *Monitor) record(a Activity) {
	a.DurationSeconds = time.Since(a.StartedAt).Seconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	if a.Kind == ActivityFit && m.current != nil && m.current.Round == a.Round {
		m.current = nil
	}
	m.activities = append(m.activities, a)
	if len(m.activities) > maxActivities {
		m.activities = slices.Clone(m.activities[len(m.activities)-maxActivities:])
	}
}

func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MonitorStatus{
		ParticipantID:    m.id,
		TotalTrainings:   m.fits,
		TotalEvaluations: m.evals,
		UptimeSeconds:    time.Since(m.started).Seconds(),
		IsTraining:       m.current != nil,
	}
	if m.current != nil {
		current := *m.current
		s.CurrentTraining = &current
	}

	return s
}

// History returns at most limit of the newest activities, oldest first.
func (m *Monitor) History(limit int) []Activity {
	if limit <= 0 {
		limit = DefHistoryLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := max(len(m.activities)-limit, 0)

	return slices.Clone(m.activities[start:])
}

func (m *Monitor) Summary() MonitorSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MonitorSummary{ParticipantID: m.id}
	var fitLosses, evalLosses []float64
	for _, a := range m.activities {
		switch a.Kind {
		case ActivityFit:
			s.TotalTrainings++
		case ActivityEvaluate:
			s.TotalEvaluations++
		}
		loss, ok := a.Metrics["loss"]
		if a.Error != "" || !ok {
			continue
		}
		if a.Kind == ActivityFit {
			fitLosses = append(fitLosses, loss)
		} else {
			evalLosses = append(evalLosses, loss)
		}
	}
	s.AverageTrainingLoss, s.MinTrainingLoss, s.LatestTrainingLoss = lossStats(fitLosses)
	s.AverageEvalLoss, s.MinEvalLoss, s.LatestEvalLoss = lossStats(evalLosses)

	return s
}

func (m *Monitor) ModelInfo() (ModelInfo, error) {
	d, ok := m.trainer.(modelDescriber)
	if !ok {
		return ModelInfo{}, ErrModelInfoUnavailable
	}

	return d.ModelInfo(), nil
}

func lossStats(losses []float64) (avg, low, latest *float64) {
	if len(losses) == 0 {
		return nil, nil, nil
	}
	var sum float64
	for _, l := range losses {
		sum += l
	}
	mean := sum / float64(len(losses))
	minimum := slices.Min(losses)
	last := losses[len(losses)-1]

	return &mean, &minimum, &last
}
