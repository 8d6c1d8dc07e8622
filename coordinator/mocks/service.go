package mocks

import (
	"context"

	"github.com/absmach/flcoord/coordinator"
	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/absmach/flcoord/round"
	"github.com/stretchr/testify/mock"
)

var _ coordinator.Service = (*Service)(nil)

// Service is a mock implementation of coordinator.Service.
type Service struct {
	mock.Mock
}

func (m *Service) Status(ctx context.Context) (coordinator.SessionStatus, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.SessionStatus), args.Error(1)
}

func (m *Service) RoundHistory(ctx context.Context, limit uint64) ([]round.Round, error) {
	args := m.Called(ctx, limit)

	return args.Get(0).([]round.Round), args.Error(1)
}

func (m *Service) RoundDetails(ctx context.Context, number uint64) (round.Round, error) {
	args := m.Called(ctx, number)

	return args.Get(0).(round.Round), args.Error(1)
}

func (m *Service) MetricsSummary(ctx context.Context) (round.Summary, error) {
	args := m.Called(ctx)

	return args.Get(0).(round.Summary), args.Error(1)
}

func (m *Service) ListParticipants(ctx context.Context) ([]registry.Participant, error) {
	args := m.Called(ctx)

	return args.Get(0).([]registry.Participant), args.Error(1)
}

func (m *Service) RegisterParticipant(ctx context.Context, id, endpoint string) (registry.Participant, error) {
	args := m.Called(ctx, id, endpoint)

	return args.Get(0).(registry.Participant), args.Error(1)
}

func (m *Service) DeregisterParticipant(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *Service) StartSession(ctx context.Context, req coordinator.SessionRequest) (coordinator.SessionStatus, error) {
	args := m.Called(ctx, req)

	return args.Get(0).(coordinator.SessionStatus), args.Error(1)
}

func (m *Service) AbortSession(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *Service) ListCheckpoints(ctx context.Context) ([]checkpoint.Info, error) {
	args := m.Called(ctx)

	return args.Get(0).([]checkpoint.Info), args.Error(1)
}

func (m *Service) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
