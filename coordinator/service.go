package coordinator

import (
	"context"
	"log/slog"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/fl"
	"github.com/absmach/flcoord/pkg/mqtt"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/absmach/flcoord/pkg/storage"
	"github.com/absmach/flcoord/round"
	"github.com/google/uuid"
)

const defHistoryLimit = 10

var namegen = namegenerator.NewGenerator()

type service struct {
	supervisor  *Supervisor
	registry    *registry.Registry
	metrics     storage.MetricsStore
	checkpoints checkpoint.Store
	initial     fl.ParameterSet
	pubsub      mqtt.PubSub
	baseTopic   string
	logger      *slog.Logger
}

// NewService exposes a supervisor and its stores. pubsub may be nil when
// liveness is only tracked through the HTTP API.
func NewService(sup *Supervisor, reg *registry.Registry, metrics storage.MetricsStore, checkpoints checkpoint.Store, initial fl.ParameterSet, pubsub mqtt.PubSub, baseTopic string, logger *slog.Logger) Service {
	return &service{
		supervisor:  sup,
		registry:    reg,
		metrics:     metrics,
		checkpoints: checkpoints,
		initial:     initial,
		pubsub:      pubsub,
		baseTopic:   baseTopic,
		logger:      logger,
	}
}

func (svc *service) Status(_ context.Context) (SessionStatus, error) {
	return svc.supervisor.Status(), nil
}

func (svc *service) RoundHistory(ctx context.Context, limit uint64) ([]round.Round, error) {
	if limit == 0 {
		limit = defHistoryLimit
	}

	return svc.metrics.Recent(ctx, limit)
}

func (svc *service) RoundDetails(ctx context.Context, number uint64) (round.Round, error) {
	return svc.metrics.Get(ctx, number)
}

func (svc *service) MetricsSummary(ctx context.Context) (round.Summary, error) {
	return svc.metrics.Summary(ctx)
}

func (svc *service) ListParticipants(_ context.Context) ([]registry.Participant, error) {
	return svc.registry.List(), nil
}

func (svc *service) RegisterParticipant(_ context.Context, id, endpoint string) (registry.Participant, error) {
	if err := svc.registry.Register(id, endpoint); err != nil {
		return registry.Participant{}, err
	}

	return svc.registry.Get(id)
}

func (svc *service) DeregisterParticipant(_ context.Context, id string) error {
	return svc.registry.Deregister(id)
}

func (svc *service) StartSession(ctx context.Context, req SessionRequest) (SessionStatus, error) {
	name := req.Name
	if name == "" {
		name = namegen.Generate()
	}

	return svc.supervisor.Start(ctx, Session{
		ID:        uuid.NewString(),
		Name:      name,
		NumRounds: req.NumRounds,
		Initial:   svc.initial,
		Resume:    req.Resume,
	})
}

func (svc *service) AbortSession(ctx context.Context) error {
	return svc.supervisor.Abort(ctx)
}

func (svc *service) ListCheckpoints(ctx context.Context) ([]checkpoint.Info, error) {
	return svc.checkpoints.List(ctx)
}

func (svc *service) Subscribe(ctx context.Context) error {
	if svc.pubsub == nil {
		return nil
	}

	return Subscribe(ctx, svc.baseTopic, svc.pubsub, svc.registry, svc.logger)
}
