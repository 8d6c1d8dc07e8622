package fl

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

type FedAvgAggregator struct{}

func NewFedAvgAggregator() Aggregator {
	return &FedAvgAggregator{}
}

// Aggregate computes the sample-weighted mean of every tensor element.
// Inputs are summed in ascending participant order so that the result does
// not depend on the order updates arrived in. Each element is the weighted
// sum divided by the total sample count, so it can differ from an algebraic
// rewrite such as (a+b)/2 in the last unit of precision.
func (f *FedAvgAggregator) Aggregate(updates []WeightedParameters) (ParameterSet, error) {
	if len(updates) == 0 {
		return ParameterSet{}, ErrNoUpdates
	}

	ordered := orderUpdates(updates)
	base := ordered[0].Parameters

	var totalSamples int64
	for _, u := range ordered {
		if u.SampleCount <= 0 {
			return ParameterSet{}, ErrInvalidWeight
		}
		if totalSamples > math.MaxInt64-u.SampleCount {
			return ParameterSet{}, ErrOverflow
		}
		totalSamples += u.SampleCount

		if err := u.Parameters.Validate(); err != nil {
			return ParameterSet{}, ErrStructuralMismatch
		}
		if !base.Compatible(u.Parameters) {
			return ParameterSet{}, ErrStructuralMismatch
		}
	}

	if len(ordered) == 1 {
		return base.Clone(), nil
	}

	out := ParameterSet{Tensors: make([]Tensor, len(base.Tensors))}
	for t, tensor := range base.Tensors {
		sum := make([]float64, len(tensor.Values))
		for _, u := range ordered {
			floats.AddScaled(sum, float64(u.SampleCount), u.Parameters.Tensors[t].Values)
		}
		den := float64(totalSamples)
		for i := range sum {
			sum[i] /= den
		}
		out.Tensors[t] = Tensor{
			Name:   tensor.Name,
			Shape:  slices.Clone(tensor.Shape),
			Values: sum,
		}
	}

	return out, nil
}

// WeightedMetrics returns the sample-weighted mean of each scalar metric.
// A metric only contributes from the inputs that report it.
func WeightedMetrics(inputs []WeightedScalars) (map[string]float64, error) {
	ordered := slices.Clone(inputs)
	slices.SortStableFunc(ordered, func(a, b WeightedScalars) int {
		return cmp.Compare(a.ParticipantID, b.ParticipantID)
	})

	sums := make(map[string]float64)
	weights := make(map[string]float64)
	for _, in := range ordered {
		if in.SampleCount <= 0 {
			return nil, ErrInvalidWeight
		}
		keys := make([]string, 0, len(in.Metrics))
		for k := range in.Metrics {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		w := float64(in.SampleCount)
		for _, k := range keys {
			v := in.Metrics[k]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sums[k] += w * v
			weights[k] += w
		}
	}

	out := make(map[string]float64, len(sums))
	for k, s := range sums {
		out[k] = s / weights[k]
	}

	return out, nil
}

func orderUpdates(updates []WeightedParameters) []WeightedParameters {
	ordered := slices.Clone(updates)
	slices.SortStableFunc(ordered, func(a, b WeightedParameters) int {
		return cmp.Compare(a.ParticipantID, b.ParticipantID)
	})

	return ordered
}
