package storage

import (
	"errors"

	pkgerrors "github.com/absmach/flcoord/pkg/errors"
)

var (
	ErrRoundExists = pkgerrors.ErrEntityExists
	ErrNotFound    = pkgerrors.ErrNotFound
	ErrRetention   = pkgerrors.ErrRetention
	ErrInvalidKey  = pkgerrors.ErrInvalidKey
	ErrUnsupported = errors.New("unsupported storage type")
)
