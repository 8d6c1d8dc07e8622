package api

import (
	"context"
	"errors"

	"github.com/absmach/flcoord/coordinator"
	pkgerrors "github.com/absmach/flcoord/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func statusEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		status, err := svc.Status(ctx)
		if err != nil {
			return statusResponse{}, err
		}

		return statusResponse{SessionStatus: status}, nil
	}
}

func roundHistoryEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(historyReq)
		if !ok {
			return historyResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return historyResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		rounds, err := svc.RoundHistory(ctx, req.limit)
		if err != nil {
			return historyResponse{}, err
		}

		return historyResponse{
			Total:  len(rounds),
			Rounds: rounds,
		}, nil
	}
}

func roundDetailsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(roundReq)
		if !ok {
			return roundResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return roundResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		r, err := svc.RoundDetails(ctx, req.number)
		if err != nil {
			return roundResponse{}, err
		}

		return roundResponse{Round: r}, nil
	}
}

func metricsSummaryEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		summary, err := svc.MetricsSummary(ctx)
		if err != nil {
			return summaryResponse{}, err
		}

		return summaryResponse{Summary: summary}, nil
	}
}

func listParticipantsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		participants, err := svc.ListParticipants(ctx)
		if err != nil {
			return listParticipantsResponse{}, err
		}

		return listParticipantsResponse{
			Total:        len(participants),
			Participants: participants,
		}, nil
	}
}

func registerParticipantEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(participantReq)
		if !ok {
			return participantResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return participantResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		p, err := svc.RegisterParticipant(ctx, req.ID, req.Endpoint)
		if err != nil {
			return participantResponse{}, err
		}

		return participantResponse{
			Participant: p,
			created:     true,
		}, nil
	}
}

func deregisterParticipantEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return participantResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return participantResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.DeregisterParticipant(ctx, req.id); err != nil {
			return participantResponse{}, err
		}

		return participantResponse{deleted: true}, nil
	}
}

func startSessionEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(sessionReq)
		if !ok {
			return statusResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return statusResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		status, err := svc.StartSession(ctx, req.SessionRequest)
		if err != nil {
			return statusResponse{}, err
		}

		return statusResponse{
			SessionStatus: status,
			started:       true,
		}, nil
	}
}

func abortSessionEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		if err := svc.AbortSession(ctx); err != nil {
			return abortResponse{}, err
		}

		return abortResponse{}, nil
	}
}

func listCheckpointsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		infos, err := svc.ListCheckpoints(ctx)
		if err != nil {
			return listCheckpointsResponse{}, err
		}

		return listCheckpointsResponse{Checkpoints: infos}, nil
	}
}
