package round

import (
	"errors"
	"maps"
	"slices"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid round state transition")
	ErrQuorumNotMet      = errors.New("fewer fit responses than the configured quorum")
)

type Status string

const (
	Pending     Status = "pending"
	Fitting     Status = "fitting"
	Aggregating Status = "aggregating"
	Evaluating  Status = "evaluating"
	Completed   Status = "completed"
	Failed      Status = "failed"
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

var transitions = map[Status][]Status{
	Pending:     {Fitting, Failed},
	Fitting:     {Aggregating, Failed},
	Aggregating: {Evaluating, Failed},
	Evaluating:  {Completed, Failed},
	Completed:   {},
	Failed:      {},
}

func ValidTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}

	return slices.Contains(allowed, to)
}

type Phase string

const (
	PhaseFit      Phase = "fit"
	PhaseEvaluate Phase = "evaluate"
)

// ParticipantOutcome is the per-participant record of one phase call.
type ParticipantOutcome struct {
	ParticipantID string             `json:"participant_id"`
	Phase         Phase              `json:"phase"`
	SampleCount   int64              `json:"sample_count,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	Error         string             `json:"error,omitempty"`
	Duration      time.Duration      `json:"duration"`
}

func (o ParticipantOutcome) Succeeded() bool {
	return o.Error == ""
}

type Round struct {
	Number       uint64               `json:"round_number"`
	SessionID    string               `json:"session_id,omitempty"`
	Status       Status               `json:"status"`
	StartedAt    time.Time            `json:"started_at"`
	EndedAt      time.Time            `json:"ended_at,omitzero"`
	Invited      []string             `json:"invited,omitempty"`
	Responded    []string             `json:"responded,omitempty"`
	Evaluated    []string             `json:"evaluated,omitempty"`
	Participants []ParticipantOutcome `json:"participants,omitempty"`
	FitMetrics   map[string]float64   `json:"fit_metrics,omitempty"`
	EvalMetrics  map[string]float64   `json:"eval_metrics,omitempty"`
	Error        string               `json:"error,omitempty"`
}

func New(number uint64, sessionID string) *Round {
	return &Round{
		Number:    number,
		SessionID: sessionID,
		Status:    Pending,
		StartedAt: time.Now().UTC(),
	}
}

// Transition moves the round to the next status. Entering a terminal status
// stamps EndedAt.
func (r *Round) Transition(to Status) error {
	if !ValidTransition(r.Status, to) {
		return ErrInvalidTransition
	}
	r.Status = to
	if to.Terminal() && r.EndedAt.IsZero() {
		r.EndedAt = time.Now().UTC()
	}

	return nil
}

// Complete finishes an evaluating round, refusing when fewer than minFit
// participants responded to the fit phase.
func (r *Round) Complete(minFit int) error {
	if len(r.Responded) < minFit {
		return ErrQuorumNotMet
	}

	return r.Transition(Completed)
}

// Fail moves a non-terminal round to failed and records the cause.
func (r *Round) Fail(cause error) error {
	if err := r.Transition(Failed); err != nil {
		return err
	}
	if cause != nil {
		r.Error = cause.Error()
	}

	return nil
}

func (r *Round) Record(o ParticipantOutcome) {
	r.Participants = append(r.Participants, o)
}

func (r *Round) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return time.Since(r.StartedAt)
	}

	return r.EndedAt.Sub(r.StartedAt)
}

// Loss returns the aggregated loss of the round, preferring the fit phase.
func (r Round) Loss() (float64, bool) {
	if v, ok := r.FitMetrics["loss"]; ok {
		return v, true
	}
	v, ok := r.EvalMetrics["loss"]

	return v, ok
}

// Clone returns a deep copy suitable for archiving.
func (r Round) Clone() Round {
	out := r
	out.Invited = slices.Clone(r.Invited)
	out.Responded = slices.Clone(r.Responded)
	out.Evaluated = slices.Clone(r.Evaluated)
	out.FitMetrics = maps.Clone(r.FitMetrics)
	out.EvalMetrics = maps.Clone(r.EvalMetrics)
	if r.Participants != nil {
		out.Participants = make([]ParticipantOutcome, len(r.Participants))
		for i, p := range r.Participants {
			p.Metrics = maps.Clone(p.Metrics)
			out.Participants[i] = p
		}
	}

	return out
}
