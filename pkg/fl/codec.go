package fl

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
)

// EncodeParameters serializes a parameter set as snappy-compressed CBOR.
func EncodeParameters(ps ParameterSet) ([]byte, error) {
	raw, err := cbor.Marshal(ps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}

	return snappy.Encode(nil, raw), nil
}

// DecodeParameters reverses EncodeParameters and validates tensor shapes.
func DecodeParameters(data []byte) (ParameterSet, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return ParameterSet{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	var ps ParameterSet
	if err := cbor.Unmarshal(raw, &ps); err != nil {
		return ParameterSet{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := ps.Validate(); err != nil {
		return ParameterSet{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return ps, nil
}
