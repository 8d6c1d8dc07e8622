package fl

import (
	"context"
	"slices"
)

// Tensor is a named, flattened array of model weights with shape metadata.
type Tensor struct {
	Name   string    `json:"name"   cbor:"1,keyasint"`
	Shape  []int     `json:"shape"  cbor:"2,keyasint"`
	Values []float64 `json:"values" cbor:"3,keyasint"`
}

// Size returns the number of elements the tensor shape describes.
func (t Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}

	return n
}

// ParameterSet is an ordered list of tensors holding model weights.
type ParameterSet struct {
	Tensors []Tensor `json:"tensors" cbor:"1,keyasint"`
}

// NewParameterSet builds a parameter set, validating that every tensor's
// values match its shape.
func NewParameterSet(tensors ...Tensor) (ParameterSet, error) {
	ps := ParameterSet{Tensors: tensors}
	if err := ps.Validate(); err != nil {
		return ParameterSet{}, err
	}

	return ps.Clone(), nil
}

func (ps ParameterSet) Validate() error {
	for _, t := range ps.Tensors {
		for _, d := range t.Shape {
			if d < 0 {
				return ErrInvalidShape
			}
		}
		if len(t.Values) != t.Size() {
			return ErrInvalidShape
		}
	}

	return nil
}

// Compatible reports whether both sets have the same tensor names and shapes
// in the same order.
func (ps ParameterSet) Compatible(other ParameterSet) bool {
	if len(ps.Tensors) != len(other.Tensors) {
		return false
	}
	for i := range ps.Tensors {
		a, b := ps.Tensors[i], other.Tensors[i]
		if a.Name != b.Name || !slices.Equal(a.Shape, b.Shape) || len(a.Values) != len(b.Values) {
			return false
		}
	}

	return true
}

// Equal reports exact structural and element-wise equality.
func (ps ParameterSet) Equal(other ParameterSet) bool {
	if !ps.Compatible(other) {
		return false
	}
	for i := range ps.Tensors {
		if !slices.Equal(ps.Tensors[i].Values, other.Tensors[i].Values) {
			return false
		}
	}

	return true
}

func (ps ParameterSet) Clone() ParameterSet {
	if ps.Tensors == nil {
		return ParameterSet{}
	}
	out := ParameterSet{Tensors: make([]Tensor, len(ps.Tensors))}
	for i, t := range ps.Tensors {
		out.Tensors[i] = Tensor{
			Name:   t.Name,
			Shape:  slices.Clone(t.Shape),
			Values: slices.Clone(t.Values),
		}
	}

	return out
}

func (ps ParameterSet) NumElements() int {
	n := 0
	for _, t := range ps.Tensors {
		n += len(t.Values)
	}

	return n
}

func (ps ParameterSet) Empty() bool {
	return len(ps.Tensors) == 0
}

// FitConfig is the per-round training configuration sent to participants.
type FitConfig struct {
	Round        uint64  `json:"round_number"  cbor:"1,keyasint"`
	LocalEpochs  int     `json:"local_epochs"  cbor:"2,keyasint"`
	LearningRate float64 `json:"learning_rate" cbor:"3,keyasint"`
	BatchSize    int     `json:"batch_size"    cbor:"4,keyasint"`
}

type EvalConfig struct {
	Round uint64 `json:"round_number" cbor:"1,keyasint"`
}

// FitResult is what a participant returns after local training.
type FitResult struct {
	ParticipantID string             `json:"participant_id"`
	Round         uint64             `json:"round_number"`
	Parameters    ParameterSet       `json:"parameters"`
	SampleCount   int64              `json:"sample_count"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
}

type EvalResult struct {
	ParticipantID string             `json:"participant_id"`
	Round         uint64             `json:"round_number"`
	SampleCount   int64              `json:"sample_count"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
}

// LocalTrainer is the participant-side capability the coordinator drives.
// Fit must be safe to retry from the same parameters.
type LocalTrainer interface {
	Fit(ctx context.Context, params ParameterSet, cfg FitConfig) (FitResult, error)
	Evaluate(ctx context.Context, params ParameterSet, cfg EvalConfig) (EvalResult, error)
}

// WeightedParameters is a single aggregation input.
type WeightedParameters struct {
	ParticipantID string
	Parameters    ParameterSet
	SampleCount   int64
}

// WeightedScalars is a single input to scalar metric aggregation.
type WeightedScalars struct {
	ParticipantID string
	SampleCount   int64
	Metrics       map[string]float64
}

type Aggregator interface {
	Aggregate(updates []WeightedParameters) (ParameterSet, error)
}
