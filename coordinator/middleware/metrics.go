package middleware

import (
	"context"
	"time"

	"github.com/absmach/flcoord/coordinator"
	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/absmach/flcoord/round"
	"github.com/go-kit/kit/metrics"
)

var _ coordinator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     coordinator.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc coordinator.Service) coordinator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) observe(method string, begin time.Time) {
	mm.counter.With("method", method).Add(1)
	mm.latency.With("method", method).Observe(time.Since(begin).Seconds())
}

func (mm *metricsMiddleware) Status(ctx context.Context) (coordinator.SessionStatus, error) {
	defer mm.observe("status", time.Now())

	return mm.svc.Status(ctx)
}

func (mm *metricsMiddleware) RoundHistory(ctx context.Context, limit uint64) ([]round.Round, error) {
	defer mm.observe("round-history", time.Now())

	return mm.svc.RoundHistory(ctx, limit)
}

func (mm *metricsMiddleware) RoundDetails(ctx context.Context, number uint64) (round.Round, error) {
	defer mm.observe("round-details", time.Now())

	return mm.svc.RoundDetails(ctx, number)
}

func (mm *metricsMiddleware) MetricsSummary(ctx context.Context) (round.Summary, error) {
	defer mm.observe("metrics-summary", time.Now())

	return mm.svc.MetricsSummary(ctx)
}

func (mm *metricsMiddleware) ListParticipants(ctx context.Context) ([]registry.Participant, error) {
	defer mm.observe("list-participants", time.Now())

	return mm.svc.ListParticipants(ctx)
}

func (mm *metricsMiddleware) RegisterParticipant(ctx context.Context, id, endpoint string) (registry.Participant, error) {
	defer mm.observe("register-participant", time.Now())

	return mm.svc.RegisterParticipant(ctx, id, endpoint)
}

func (mm *metricsMiddleware) DeregisterParticipant(ctx context.Context, id string) error {
	defer mm.observe("deregister-participant", time.Now())

	return mm.svc.DeregisterParticipant(ctx, id)
}

func (mm *metricsMiddleware) StartSession(ctx context.Context, req coordinator.SessionRequest) (coordinator.SessionStatus, error) {
	defer mm.observe("start-session", time.Now())

	return mm.svc.StartSession(ctx, req)
}

func (mm *metricsMiddleware) AbortSession(ctx context.Context) error {
	defer mm.observe("abort-session", time.Now())

	return mm.svc.AbortSession(ctx)
}

func (mm *metricsMiddleware) ListCheckpoints(ctx context.Context) ([]checkpoint.Info, error) {
	defer mm.observe("list-checkpoints", time.Now())

	return mm.svc.ListCheckpoints(ctx)
}

func (mm *metricsMiddleware) Subscribe(ctx context.Context) error {
	defer mm.observe("subscribe", time.Now())

	return mm.svc.Subscribe(ctx)
}
