package middleware

import (
	"context"

	"github.com/absmach/flcoord/coordinator"
	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/absmach/flcoord/round"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ coordinator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    coordinator.Service
}

func Tracing(tracer trace.Tracer, svc coordinator.Service) coordinator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Status(ctx context.Context) (coordinator.SessionStatus, error) {
	ctx, span := tm.tracer.Start(ctx, "status")
	defer span.End()

	return tm.svc.Status(ctx)
}

func (tm *tracing) RoundHistory(ctx context.Context, limit uint64) ([]round.Round, error) {
	ctx, span := tm.tracer.Start(ctx, "round-history", trace.WithAttributes(
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.RoundHistory(ctx, limit)
}

func (tm *tracing) RoundDetails(ctx context.Context, number uint64) (round.Round, error) {
	ctx, span := tm.tracer.Start(ctx, "round-details", trace.WithAttributes(
		attribute.Int64("round", int64(number)),
	))
	defer span.End()

	return tm.svc.RoundDetails(ctx, number)
}

func (tm *tracing) MetricsSummary(ctx context.Context) (round.Summary, error) {
	ctx, span := tm.tracer.Start(ctx, "metrics-summary")
	defer span.End()

	return tm.svc.MetricsSummary(ctx)
}

func (tm *tracing) ListParticipants(ctx context.Context) ([]registry.Participant, error) {
	ctx, span := tm.tracer.Start(ctx, "list-participants")
	defer span.End()

	return tm.svc.ListParticipants(ctx)
}

func (tm *tracing) RegisterParticipant(ctx context.Context, id, endpoint string) (registry.Participant, error) {
	ctx, span := tm.tracer.Start(ctx, "register-participant", trace.WithAttributes(
		attribute.String("id", id),
		attribute.String("endpoint", endpoint),
	))
	defer span.End()

	return tm.svc.RegisterParticipant(ctx, id, endpoint)
}

func (tm *tracing) DeregisterParticipant(ctx context.Context, id string) error {
	ctx, span := tm.tracer.Start(ctx, "deregister-participant", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.DeregisterParticipant(ctx, id)
}

func (tm *tracing) StartSession(ctx context.Context, req coordinator.SessionRequest) (coordinator.SessionStatus, error) {
	ctx, span := tm.tracer.Start(ctx, "start-session", trace.WithAttributes(
		attribute.String("name", req.Name),
		attribute.Int64("num_rounds", int64(req.NumRounds)),
		attribute.Bool("resume", req.Resume),
	))
	defer span.End()

	return tm.svc.StartSession(ctx, req)
}

func (tm *tracing) AbortSession(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "abort-session")
	defer span.End()

	return tm.svc.AbortSession(ctx)
}

func (tm *tracing) ListCheckpoints(ctx context.Context) ([]checkpoint.Info, error) {
	ctx, span := tm.tracer.Start(ctx, "list-checkpoints")
	defer span.End()

	return tm.svc.ListCheckpoints(ctx)
}

func (tm *tracing) Subscribe(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "subscribe")
	defer span.End()

	return tm.svc.Subscribe(ctx)
}
