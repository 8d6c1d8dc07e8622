package participant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/absmach/flcoord/pkg/fl"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-kit/kit/endpoint"
	kithttp "github.com/go-kit/kit/transport/http"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxRequestSize = 512 << 20

var (
	errUnsupportedContentType = errors.New("unsupported content type")
	errInvalidLimit           = errors.New("limit must be between 1 and 100")
)

// MakeHandler serves the monitored trainer to the coordinator over CBOR and
// its monitoring views as JSON.
func MakeHandler(trainer *Monitor, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(encodeError(logger)),
	}

	mux.Post("/fit", otelhttp.NewHandler(kithttp.NewServer(
		fitEndpoint(trainer),
		decodeFitReq,
		encodeResponse,
		opts...,
	), "fit").ServeHTTP)

	mux.Post("/evaluate", otelhttp.NewHandler(kithttp.NewServer(
		evaluateEndpoint(trainer),
		decodeEvalReq,
		encodeResponse,
		opts...,
	), "evaluate").ServeHTTP)

	jsonOpts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(encodeJSONError(logger)),
	}

	mux.Get("/status", otelhttp.NewHandler(kithttp.NewServer(
		func(context.Context, any) (any, error) { return trainer.Status(), nil },
		decodeEmptyReq,
		kithttp.EncodeJSONResponse,
		jsonOpts...,
	), "status").ServeHTTP)

	mux.Route("/monitoring", func(r chi.Router) {
		r.Get("/history", otelhttp.NewHandler(kithttp.NewServer(
			historyEndpoint(trainer),
			decodeHistoryReq,
			kithttp.EncodeJSONResponse,
			jsonOpts...,
		), "monitoring-history").ServeHTTP)
		r.Get("/summary", otelhttp.NewHandler(kithttp.NewServer(
			func(context.Context, any) (any, error) { return trainer.Summary(), nil },
			decodeEmptyReq,
			kithttp.EncodeJSONResponse,
			jsonOpts...,
		), "monitoring-summary").ServeHTTP)
	})

	mux.Get("/model/info", otelhttp.NewHandler(kithttp.NewServer(
		modelInfoEndpoint(trainer),
		decodeEmptyReq,
		kithttp.EncodeJSONResponse,
		jsonOpts...,
	), "model-info").ServeHTTP)

	mux.Get("/health", supermq.Health("flcoord-participant", instanceID))

	return mux
}

func fitEndpoint(trainer fl.LocalTrainer) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(FitRequest)
		if !ok {
			return nil, fl.ErrDecode
		}
		params, err := fl.DecodeParameters(req.Parameters)
		if err != nil {
			return nil, err
		}

		res, err := trainer.Fit(ctx, params, fl.FitConfig{
			Round:        req.Round,
			LocalEpochs:  req.LocalEpochs,
			LearningRate: req.LearningRate,
			BatchSize:    req.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		data, err := fl.EncodeParameters(res.Parameters)
		if err != nil {
			return nil, err
		}

		return FitResponse{
			Round:       res.Round,
			Parameters:  data,
			SampleCount: res.SampleCount,
			Metrics:     res.Metrics,
		}, nil
	}
}

func evaluateEndpoint(trainer fl.LocalTrainer) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(EvalRequest)
		if !ok {
			return nil, fl.ErrDecode
		}
		params, err := fl.DecodeParameters(req.Parameters)
		if err != nil {
			return nil, err
		}

		res, err := trainer.Evaluate(ctx, params, fl.EvalConfig{Round: req.Round})
		if err != nil {
			return nil, err
		}

		return EvalResponse{
			Round:       res.Round,
			SampleCount: res.SampleCount,
			Metrics:     res.Metrics,
		}, nil
	}
}

type historyRes struct {
	ParticipantID string     `json:"participant_id"`
	History       []Activity `json:"history"`
}

type modelInfoRes struct {
	ParticipantID string    `json:"participant_id"`
	Model         ModelInfo `json:"model"`
}

func historyEndpoint(mon *Monitor) endpoint.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		limit, ok := request.(uint64)
		if !ok {
			return nil, apiutil.ErrValidation
		}

		return historyRes{
			ParticipantID: mon.Status().ParticipantID,
			History:       mon.History(int(limit)),
		}, nil
	}
}

func modelInfoEndpoint(mon *Monitor) endpoint.Endpoint {
	return func(context.Context, any) (any, error) {
		info, err := mon.ModelInfo()
		if err != nil {
			return nil, err
		}

		return modelInfoRes{ParticipantID: mon.Status().ParticipantID, Model: info}, nil
	}
}

func decodeEmptyReq(context.Context, *http.Request) (any, error) {
	return nil, nil
}

func decodeHistoryReq(_ context.Context, r *http.Request) (any, error) {
	limit, err := apiutil.ReadNumQuery[uint64](r, "limit", DefHistoryLimit)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}
	if limit == 0 || limit > maxActivities {
		return nil, errors.Join(apiutil.ErrValidation, errInvalidLimit)
	}

	return limit, nil
}

func decodeFitReq(_ context.Context, r *http.Request) (any, error) {
	var req FitRequest
	if err := decodeCBOR(r, &req); err != nil {
		return nil, err
	}

	return req, nil
}

func decodeEvalReq(_ context.Context, r *http.Request) (any, error) {
	var req EvalRequest
	if err := decodeCBOR(r, &req); err != nil {
		return nil, err
	}

	return req, nil
}

func decodeCBOR(r *http.Request, v any) error {
	if !strings.Contains(r.Header.Get("Content-Type"), ContentType) {
		return errUnsupportedContentType
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(data, v); err != nil {
		return errors.Join(fl.ErrDecode, err)
	}

	return nil
}

func encodeResponse(_ context.Context, w http.ResponseWriter, response any) error {
	data, err := cbor.Marshal(response)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(data)

	return err
}

func encodeJSONError(logger *slog.Logger) kithttp.ErrorEncoder {
	return func(ctx context.Context, err error, w http.ResponseWriter) {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, apiutil.ErrValidation):
			status = http.StatusBadRequest
		case errors.Is(err, ErrModelInfoUnavailable):
			status = http.StatusNotFound
		}
		logger.WarnContext(ctx, "participant monitoring request failed", slog.Int("status", status), slog.String("error", err.Error()))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
	}
}

func encodeError(logger *slog.Logger) kithttp.ErrorEncoder {
	return func(ctx context.Context, err error, w http.ResponseWriter) {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, errUnsupportedContentType):
			status = http.StatusUnsupportedMediaType
		case errors.Is(err, fl.ErrDecode), errors.Is(err, fl.ErrStructuralMismatch), errors.Is(err, fl.ErrInvalidShape):
			status = http.StatusBadRequest
		case errors.Is(err, fl.ErrTrainingFailure):
			status = http.StatusUnprocessableEntity
		}
		logger.WarnContext(ctx, "participant request failed", slog.Int("status", status), slog.String("error", err.Error()))

		data, merr := cbor.Marshal(ErrorResponse{Reason: err.Error()})
		if merr != nil {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(status)
		_, _ = w.Write(data)
	}
}
