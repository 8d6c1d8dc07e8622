package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/fl"
	"github.com/absmach/flcoord/pkg/storage"
)

// Session describes one training run of consecutive rounds.
type Session struct {
	ID        string
	Name      string
	NumRounds uint64
	Initial   fl.ParameterSet
	// Resume continues from the active checkpoint when one exists.
	Resume bool
}

type SessionStatus struct {
	SessionID       string    `json:"session_id,omitempty"`
	Name            string    `json:"name,omitempty"`
	CurrentRound    uint64    `json:"current_round"`
	TotalRounds     uint64    `json:"total_rounds"`
	CompletedRounds uint64    `json:"completed_rounds"`
	IsRunning       bool      `json:"is_running"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
}

// RoundRunner executes a single round.
type RoundRunner interface {
	Run(ctx context.Context, req RoundRequest) (RoundResult, error)
}

// Supervisor runs sessions one at a time, round after round.
type Supervisor struct {
	cfg         Config
	rounds      RoundRunner
	checkpoints checkpoint.Store
	metrics     storage.MetricsStore
	logger      *slog.Logger

	mu     sync.Mutex
	status SessionStatus
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(cfg Config, rounds RoundRunner, checkpoints checkpoint.Store, metrics storage.MetricsStore, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		rounds:      rounds,
		checkpoints: checkpoints,
		metrics:     metrics,
		logger:      logger,
	}
}

// Run executes the session and blocks until it ends.
func (s *Supervisor) Run(ctx context.Context, sess Session) error {
	runCtx, params, first, err := s.begin(ctx, sess)
	if err != nil {
		return err
	}

	return s.loop(runCtx, sess, params, first)
}

// Start validates and launches the session in the background.
func (s *Supervisor) Start(ctx context.Context, sess Session) (SessionStatus, error) {
	runCtx, params, first, err := s.begin(context.WithoutCancel(ctx), sess)
	if err != nil {
		return SessionStatus{}, err
	}
	go func() {
		if err := s.loop(runCtx, sess, params, first); err != nil {
			s.logger.Warn("training session ended with error", slog.String("session_id", sess.ID), slog.String("error", err.Error()))
		}
	}()

	return s.Status(), nil
}

func (s *Supervisor) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Abort cancels the running session and waits for its current round to end.
func (s *Supervisor) Abort(ctx context.Context) error {
	s.mu.Lock()
	if !s.status.IsRunning {
		s.mu.Unlock()

		return ErrNoSession
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) begin(ctx context.Context, sess Session) (context.Context, fl.ParameterSet, uint64, error) {
	if sess.NumRounds == 0 {
		sess.NumRounds = s.cfg.NumRounds
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsRunning {
		return nil, fl.ParameterSet{}, 0, ErrSessionRunning
	}

	params, err := s.initialParameters(ctx, sess)
	if err != nil {
		return nil, fl.ParameterSet{}, 0, err
	}
	last, err := s.metrics.LastRound(ctx)
	if err != nil {
		return nil, fl.ParameterSet{}, 0, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.status = SessionStatus{
		SessionID:   sess.ID,
		Name:        sess.Name,
		TotalRounds: sess.NumRounds,
		IsRunning:   true,
		StartedAt:   time.Now(),
	}

	return runCtx, params, last + 1, nil
}

func (s *Supervisor) initialParameters(ctx context.Context, sess Session) (fl.ParameterSet, error) {
	if sess.Resume {
		cp, err := s.checkpoints.LoadActive(ctx)
		switch {
		case err == nil:
			s.logger.InfoContext(ctx, "resuming from active checkpoint", slog.Uint64("round", cp.Round))

			return cp.Parameters, nil
		case !errors.Is(err, checkpoint.ErrNoActiveModel):
			return fl.ParameterSet{}, err
		}
	}
	if sess.Initial.Empty() {
		return fl.ParameterSet{}, ErrNoInitialModel
	}
	if err := sess.Initial.Validate(); err != nil {
		return fl.ParameterSet{}, err
	}

	return sess.Initial.Clone(), nil
}

func (s *Supervisor) loop(ctx context.Context, sess Session, params fl.ParameterSet, first uint64) (err error) {
	total := s.Status().TotalRounds
	defer func() {
		s.mu.Lock()
		s.status.IsRunning = false
		if err != nil {
			s.status.LastError = err.Error()
		}
		s.cancel()
		close(s.done)
		s.mu.Unlock()
	}()

	s.logger.InfoContext(ctx, "training session started",
		slog.String("session_id", sess.ID),
		slog.String("name", sess.Name),
		slog.Uint64("first_round", first),
		slog.Uint64("num_rounds", total),
	)

	failures := 0
	for i := range total {
		number := first + i
		s.mu.Lock()
		s.status.CurrentRound = number
		s.mu.Unlock()

		res, err := s.rounds.Run(ctx, RoundRequest{Number: number, SessionID: sess.ID, Parameters: params})
		if err != nil {
			if errors.Is(err, ErrRoundCancelled) || ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrSessionAborted, err)
			}
			failures++
			s.mu.Lock()
			s.status.LastError = err.Error()
			s.mu.Unlock()
			if failures >= s.cfg.MaxConsecutiveFailures {
				return fmt.Errorf("%w after %d consecutive failed rounds: %w", ErrSessionAborted, failures, err)
			}

			continue
		}

		failures = 0
		params = res.Parameters
		s.mu.Lock()
		s.status.CompletedRounds++
		s.mu.Unlock()
	}

	s.logger.InfoContext(ctx, "training session finished", slog.String("session_id", sess.ID), slog.Uint64("rounds", total))

	return nil
}
