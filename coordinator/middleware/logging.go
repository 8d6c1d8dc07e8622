package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/flcoord/coordinator"
	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/absmach/flcoord/round"
)

var _ coordinator.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    coordinator.Service
}

func Logging(logger *slog.Logger, svc coordinator.Service) coordinator.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) Status(ctx context.Context) (resp coordinator.SessionStatus, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("session",
				slog.String("id", resp.SessionID),
				slog.Uint64("current_round", resp.CurrentRound),
				slog.Bool("running", resp.IsRunning),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get status failed", args...)

			return
		}
		lm.logger.Info("Get status completed successfully", args...)
	}(time.Now())

	return lm.svc.Status(ctx)
}

func (lm *loggingMiddleware) RoundHistory(ctx context.Context, limit uint64) (resp []round.Round, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("limit", limit),
			slog.Int("count", len(resp)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get round history failed", args...)

			return
		}
		lm.logger.Info("Get round history completed successfully", args...)
	}(time.Now())

	return lm.svc.RoundHistory(ctx, limit)
}

func (lm *loggingMiddleware) RoundDetails(ctx context.Context, number uint64) (resp round.Round, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.Uint64("number", number),
				slog.String("status", string(resp.Status)),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get round details failed", args...)

			return
		}
		lm.logger.Info("Get round details completed successfully", args...)
	}(time.Now())

	return lm.svc.RoundDetails(ctx, number)
}

func (lm *loggingMiddleware) MetricsSummary(ctx context.Context) (resp round.Summary, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("total_rounds", resp.TotalRounds),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get metrics summary failed", args...)

			return
		}
		lm.logger.Info("Get metrics summary completed successfully", args...)
	}(time.Now())

	return lm.svc.MetricsSummary(ctx)
}

func (lm *loggingMiddleware) ListParticipants(ctx context.Context) (resp []registry.Participant, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("count", len(resp)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List participants failed", args...)

			return
		}
		lm.logger.Info("List participants completed successfully", args...)
	}(time.Now())

	return lm.svc.ListParticipants(ctx)
}

func (lm *loggingMiddleware) RegisterParticipant(ctx context.Context, id, endpoint string) (resp registry.Participant, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("participant",
				slog.String("id", id),
				slog.String("endpoint", endpoint),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Register participant failed", args...)

			return
		}
		lm.logger.Info("Register participant completed successfully", args...)
	}(time.Now())

	return lm.svc.RegisterParticipant(ctx, id, endpoint)
}

func (lm *loggingMiddleware) DeregisterParticipant(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("participant",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Deregister participant failed", args...)

			return
		}
		lm.logger.Info("Deregister participant completed successfully", args...)
	}(time.Now())

	return lm.svc.DeregisterParticipant(ctx, id)
}

func (lm *loggingMiddleware) StartSession(ctx context.Context, req coordinator.SessionRequest) (resp coordinator.SessionStatus, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("session",
				slog.String("id", resp.SessionID),
				slog.String("name", resp.Name),
				slog.Uint64("num_rounds", resp.TotalRounds),
				slog.Bool("resume", req.Resume),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Start session failed", args...)

			return
		}
		lm.logger.Info("Start session completed successfully", args...)
	}(time.Now())

	return lm.svc.StartSession(ctx, req)
}

func (lm *loggingMiddleware) AbortSession(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Abort session failed", args...)

			return
		}
		lm.logger.Info("Abort session completed successfully", args...)
	}(time.Now())

	return lm.svc.AbortSession(ctx)
}

func (lm *loggingMiddleware) ListCheckpoints(ctx context.Context) (resp []checkpoint.Info, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("count", len(resp)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List checkpoints failed", args...)

			return
		}
		lm.logger.Info("List checkpoints completed successfully", args...)
	}(time.Now())

	return lm.svc.ListCheckpoints(ctx)
}

func (lm *loggingMiddleware) Subscribe(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Subscribe to participant topics failed", args...)

			return
		}
		lm.logger.Info("Subscribe to participant topics completed successfully", args...)
	}(time.Now())

	return lm.svc.Subscribe(ctx)
}
