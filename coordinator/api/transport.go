package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/absmach/flcoord/coordinator"
	"github.com/absmach/flcoord/pkg/api"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func MakeHandler(svc coordinator.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Get("/status", otelhttp.NewHandler(kithttp.NewServer(
		statusEndpoint(svc),
		decodeEmptyReq,
		api.EncodeResponse,
		opts...,
	), "status").ServeHTTP)

	mux.Get("/summary", otelhttp.NewHandler(kithttp.NewServer(
		metricsSummaryEndpoint(svc),
		decodeEmptyReq,
		api.EncodeResponse,
		opts...,
	), "metrics-summary").ServeHTTP)

	mux.Route("/rounds", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			roundHistoryEndpoint(svc),
			decodeHistoryReq,
			api.EncodeResponse,
			opts...,
		), "round-history").ServeHTTP)
		r.Get("/{round}", otelhttp.NewHandler(kithttp.NewServer(
			roundDetailsEndpoint(svc),
			decodeRoundReq,
			api.EncodeResponse,
			opts...,
		), "round-details").ServeHTTP)
	})

	mux.Route("/participants", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listParticipantsEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "list-participants").ServeHTTP)
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			registerParticipantEndpoint(svc),
			decodeParticipantReq,
			api.EncodeResponse,
			opts...,
		), "register-participant").ServeHTTP)
		r.Delete("/{participantID}", otelhttp.NewHandler(kithttp.NewServer(
			deregisterParticipantEndpoint(svc),
			decodeEntityReq("participantID"),
			api.EncodeResponse,
			opts...,
		), "deregister-participant").ServeHTTP)
	})

	mux.Route("/sessions", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			startSessionEndpoint(svc),
			decodeSessionReq,
			api.EncodeResponse,
			opts...,
		), "start-session").ServeHTTP)
		r.Post("/abort", otelhttp.NewHandler(kithttp.NewServer(
			abortSessionEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "abort-session").ServeHTTP)
	})

	mux.Get("/checkpoints", otelhttp.NewHandler(kithttp.NewServer(
		listCheckpointsEndpoint(svc),
		decodeEmptyReq,
		api.EncodeResponse,
		opts...,
	), "list-checkpoints").ServeHTTP)

	mux.Get("/health", supermq.Health("flcoord", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeEmptyReq(_ context.Context, _ *http.Request) (any, error) {
	return emptyReq{}, nil
}

func decodeEntityReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		return entityReq{
			id: chi.URLParam(r, key),
		}, nil
	}
}

func decodeHistoryReq(_ context.Context, r *http.Request) (any, error) {
	l, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return historyReq{limit: l}, nil
}

func decodeRoundReq(_ context.Context, r *http.Request) (any, error) {
	n, err := strconv.ParseUint(chi.URLParam(r, "round"), 10, 64)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, errInvalidRound)
	}

	return roundReq{number: n}, nil
}

func decodeParticipantReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	var req participantReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}

func decodeSessionReq(_ context.Context, r *http.Request) (any, error) {
	var req sessionReq
	if r.ContentLength == 0 {
		return req, nil
	}
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}
