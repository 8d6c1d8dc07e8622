package api

import (
	"net/http"

	"github.com/absmach/flcoord/coordinator"
	"github.com/absmach/flcoord/pkg/checkpoint"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/absmach/flcoord/round"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*statusResponse)(nil)
	_ supermq.Response = (*historyResponse)(nil)
	_ supermq.Response = (*roundResponse)(nil)
	_ supermq.Response = (*summaryResponse)(nil)
	_ supermq.Response = (*participantResponse)(nil)
	_ supermq.Response = (*listParticipantsResponse)(nil)
	_ supermq.Response = (*abortResponse)(nil)
	_ supermq.Response = (*listCheckpointsResponse)(nil)
)

type statusResponse struct {
	coordinator.SessionStatus
	started bool
}

func (s statusResponse) Code() int {
	if s.started {
		return http.StatusAccepted
	}

	return http.StatusOK
}

func (s statusResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s statusResponse) Empty() bool {
	return false
}

type historyResponse struct {
	Total  int           `json:"total"`
	Rounds []round.Round `json:"rounds"`
}

func (h historyResponse) Code() int {
	return http.StatusOK
}

func (h historyResponse) Headers() map[string]string {
	return map[string]string{}
}

func (h historyResponse) Empty() bool {
	return false
}

type roundResponse struct {
	round.Round
}

func (r roundResponse) Code() int {
	return http.StatusOK
}

func (r roundResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r roundResponse) Empty() bool {
	return false
}

type summaryResponse struct {
	round.Summary
}

func (s summaryResponse) Code() int {
	return http.StatusOK
}

func (s summaryResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s summaryResponse) Empty() bool {
	return false
}

type participantResponse struct {
	registry.Participant
	created bool
	deleted bool
}

func (p participantResponse) Code() int {
	if p.created {
		return http.StatusCreated
	}
	if p.deleted {
		return http.StatusNoContent
	}

	return http.StatusOK
}

func (p participantResponse) Headers() map[string]string {
	if p.created {
		return map[string]string{
			"Location": "/participants/" + p.ID,
		}
	}

	return map[string]string{}
}

func (p participantResponse) Empty() bool {
	return p.deleted
}

type listParticipantsResponse struct {
	Total        int                    `json:"total"`
	Participants []registry.Participant `json:"participants"`
}

func (l listParticipantsResponse) Code() int {
	return http.StatusOK
}

func (l listParticipantsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listParticipantsResponse) Empty() bool {
	return false
}

type abortResponse struct{}

func (a abortResponse) Code() int {
	return http.StatusNoContent
}

func (a abortResponse) Headers() map[string]string {
	return map[string]string{}
}

func (a abortResponse) Empty() bool {
	return true
}

type listCheckpointsResponse struct {
	Checkpoints []checkpoint.Info `json:"checkpoints"`
}

func (l listCheckpointsResponse) Code() int {
	return http.StatusOK
}

func (l listCheckpointsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listCheckpointsResponse) Empty() bool {
	return false
}
