package participant

import "errors"

const ContentType = "application/cbor"

var ErrUnexpectedStatus = errors.New("unexpected response status")

// FitRequest carries the global model, encoded with fl.EncodeParameters.
type FitRequest struct {
	Round        uint64  `cbor:"1,keyasint"`
	Parameters   []byte  `cbor:"2,keyasint"`
	LocalEpochs  int     `cbor:"3,keyasint"`
	LearningRate float64 `cbor:"4,keyasint"`
	BatchSize    int     `cbor:"5,keyasint"`
}

type FitResponse struct {
	Round       uint64             `cbor:"1,keyasint"`
	Parameters  []byte             `cbor:"2,keyasint"`
	SampleCount int64              `cbor:"3,keyasint"`
	Metrics     map[string]float64 `cbor:"4,keyasint,omitempty"`
}

type EvalRequest struct {
	Round      uint64 `cbor:"1,keyasint"`
	Parameters []byte `cbor:"2,keyasint"`
}

type EvalResponse struct {
	Round       uint64             `cbor:"1,keyasint"`
	SampleCount int64              `cbor:"2,keyasint"`
	Metrics     map[string]float64 `cbor:"3,keyasint,omitempty"`
}

// ErrorResponse is returned with any non-2xx status.
type ErrorResponse struct {
	Reason string `cbor:"1,keyasint"`
}
