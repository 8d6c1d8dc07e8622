package mocks

import (
	"github.com/absmach/flcoord/pkg/sdk"
	"github.com/stretchr/testify/mock"
)

var _ sdk.SDK = (*SDK)(nil)

// SDK is a mock implementation of sdk.SDK.
type SDK struct {
	mock.Mock
}

func (m *SDK) Status() (sdk.SessionStatus, error) {
	args := m.Called()

	return args.Get(0).(sdk.SessionStatus), args.Error(1)
}

func (m *SDK) RoundHistory(limit uint64) (sdk.RoundPage, error) {
	args := m.Called(limit)

	return args.Get(0).(sdk.RoundPage), args.Error(1)
}

func (m *SDK) Round(number uint64) (sdk.Round, error) {
	args := m.Called(number)

	return args.Get(0).(sdk.Round), args.Error(1)
}

func (m *SDK) Summary() (sdk.Summary, error) {
	args := m.Called()

	return args.Get(0).(sdk.Summary), args.Error(1)
}

func (m *SDK) Participants() (sdk.ParticipantPage, error) {
	args := m.Called()

	return args.Get(0).(sdk.ParticipantPage), args.Error(1)
}

func (m *SDK) RegisterParticipant(id, endpoint string) (sdk.Participant, error) {
	args := m.Called(id, endpoint)

	return args.Get(0).(sdk.Participant), args.Error(1)
}

func (m *SDK) DeregisterParticipant(id string) error {
	args := m.Called(id)

	return args.Error(0)
}

func (m *SDK) StartSession(req sdk.SessionRequest) (sdk.SessionStatus, error) {
	args := m.Called(req)

	return args.Get(0).(sdk.SessionStatus), args.Error(1)
}

func (m *SDK) AbortSession() error {
	args := m.Called()

	return args.Error(0)
}

func (m *SDK) Checkpoints() ([]sdk.Checkpoint, error) {
	args := m.Called()

	return args.Get(0).([]sdk.Checkpoint), args.Error(1)
}
