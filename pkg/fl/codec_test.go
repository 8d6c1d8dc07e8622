package fl_test

import (
	"testing"

	"github.com/absmach/flcoord/pkg/fl"
	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeParameters(t *testing.T) {
	in := params([]float64{0.1, -2.5, 3e-9}, 7)

	data, err := fl.EncodeParameters(in)
	require.NoError(t, err)

	out, err := fl.DecodeParameters(data)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}

func TestDecodeParameters(t *testing.T) {
	badShape, err := cbor.Marshal(fl.ParameterSet{Tensors: []fl.Tensor{{Name: "w", Shape: []int{4}, Values: []float64{1}}}})
	require.NoError(t, err)

	cases := []struct {
		desc string
		data []byte
	}{
		{
			desc: "not snappy",
			data: []byte{0xff, 0xff, 0xff},
		},
		{
			desc: "not cbor",
			data: snappy.Encode(nil, []byte("plain text")),
		},
		{
			desc: "values inconsistent with shape",
			data: snappy.Encode(nil, badShape),
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := fl.DecodeParameters(tc.data)
			assert.ErrorIs(t, err, fl.ErrDecode)
		})
	}
}
