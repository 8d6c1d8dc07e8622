package api

import (
	"errors"

	"github.com/absmach/flcoord/coordinator"
	"github.com/absmach/flcoord/pkg/api"
	apiutil "github.com/absmach/supermq/api/http/util"
)

var (
	errInvalidRound = errors.New("round number must be a positive integer")
	errLimitSize    = errors.New("limit exceeds maximum")
)

type emptyReq struct{}

type entityReq struct {
	id string
}

func (e *entityReq) validate() error {
	if e.id == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type historyReq struct {
	limit uint64
}

func (h *historyReq) validate() error {
	if h.limit > api.MaxLimitSize {
		return errLimitSize
	}

	return nil
}

type roundReq struct {
	number uint64
}

func (r *roundReq) validate() error {
	if r.number == 0 {
		return errInvalidRound
	}

	return nil
}

type participantReq struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
}

func (p *participantReq) validate() error {
	if p.ID == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type sessionReq struct {
	coordinator.SessionRequest
}

func (s *sessionReq) validate() error {
	return nil
}
