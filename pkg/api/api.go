package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/absmach/flcoord/coordinator"
	"github.com/absmach/flcoord/pkg/checkpoint"
	pkgerrors "github.com/absmach/flcoord/pkg/errors"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
)

const (
	LimitKey = "limit"
	DefLimit = 10

	ContentType = "application/json"

	MaxLimitSize = 1000
)

type errorRes struct {
	Err string `json:"error"`
}

func EncodeResponse(_ context.Context, w http.ResponseWriter, response any) error {
	if ar, ok := response.(supermq.Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return json.NewEncoder(w).Encode(response)
}

func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(StatusCode(err))

	if err := json.NewEncoder(w).Encode(errorRes{Err: err.Error()}); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// StatusCode maps domain errors onto HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, apiutil.ErrValidation),
		errors.Is(err, pkgerrors.ErrInvalidKey),
		errors.Is(err, registry.ErrEmptyID),
		errors.Is(err, coordinator.ErrNoInitialModel):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrNotFound),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, checkpoint.ErrNotFound),
		errors.Is(err, checkpoint.ErrNoActiveModel):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrSessionRunning),
		errors.Is(err, coordinator.ErrNoSession),
		errors.Is(err, pkgerrors.ErrEntityExists):
		return http.StatusConflict
	case errors.Is(err, apiutil.ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, registry.ErrInsufficientParticipants):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
