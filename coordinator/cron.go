package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/flcoord/pkg/cron"
)

const defaultCronCheckInterval = time.Minute

// CronScheduler starts a training session every time its schedule fires.
type CronScheduler interface {
	Start(ctx context.Context) error
	Stop()
	NextRun() time.Time
}

type cronScheduler struct {
	schedule      *cron.Schedule
	service       Service
	request       SessionRequest
	logger        *slog.Logger
	checkInterval time.Duration
	now           func() time.Time

	mu       sync.Mutex
	nextRun  time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewCronScheduler(schedule *cron.Schedule, service Service, req SessionRequest, logger *slog.Logger) CronScheduler {
	return &cronScheduler{
		schedule:      schedule,
		service:       service,
		request:       req,
		logger:        logger,
		checkInterval: defaultCronCheckInterval,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

func (cs *cronScheduler) Start(ctx context.Context) error {
	cs.setNextRun(cs.schedule.Next(cs.now()))

	ticker := time.NewTicker(cs.checkInterval)
	defer ticker.Stop()

	cs.logger.Info("cron scheduler started",
		slog.String("schedule", cs.schedule.String()),
		slog.Time("next_run", cs.NextRun()),
	)

	for {
		select {
		case <-ctx.Done():
			cs.logger.Info("cron scheduler stopping")

			return ctx.Err()
		case <-cs.stopChan:
			cs.logger.Info("cron scheduler stopped")

			return nil
		case <-ticker.C:
			cs.tick(ctx)
		}
	}
}

func (cs *cronScheduler) Stop() {
	cs.stopOnce.Do(func() { close(cs.stopChan) })
}

func (cs *cronScheduler) NextRun() time.Time {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.nextRun
}

func (cs *cronScheduler) tick(ctx context.Context) {
	now := cs.now()
	next := cs.NextRun()
	if next.IsZero() || next.After(now) {
		return
	}
	cs.setNextRun(cs.schedule.Next(now))

	status, err := cs.service.StartSession(ctx, cs.request)
	switch {
	case errors.Is(err, ErrSessionRunning):
		cs.logger.Warn("skipping scheduled session, previous session still running", slog.Time("next_run", cs.NextRun()))
	case err != nil:
		cs.logger.Error("failed to start scheduled session", slog.String("error", err.Error()))
	default:
		cs.logger.Info("scheduled session started",
			slog.String("session_id", status.SessionID),
			slog.String("name", status.Name),
			slog.Time("next_run", cs.NextRun()),
		)
	}
}

func (cs *cronScheduler) setNextRun(t time.Time) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.nextRun = t
}
