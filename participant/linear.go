package participant

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/absmach/flcoord/pkg/fl"
	"gonum.org/v1/gonum/floats"
)

const (
	weightsTensor = "weights"
	biasTensor    = "bias"
)

// Dataset is a dense regression dataset held in memory.
type Dataset struct {
	Features [][]float64
	Targets  []float64
}

func (d Dataset) Len() int {
	return len(d.Targets)
}

// SyntheticDataset draws n samples of y = weights·x + bias + noise with x
// uniform in [-1, 1).
func SyntheticDataset(n int, weights []float64, bias, noise float64, seed uint64) Dataset {
	rng := rand.New(rand.NewPCG(seed, uint64(n)))
	ds := Dataset{
		Features: make([][]float64, n),
		Targets:  make([]float64, n),
	}
	for i := range n {
		x := make([]float64, len(weights))
		for j := range x {
			x[j] = rng.Float64()*2 - 1
		}
		ds.Features[i] = x
		ds.Targets[i] = floats.Dot(weights, x) + bias + rng.NormFloat64()*noise
	}

	return ds
}

// Split returns the first n samples and the rest.
func (d Dataset) Split(n int) (Dataset, Dataset) {
	n = min(max(n, 0), d.Len())

	return Dataset{Features: d.Features[:n], Targets: d.Targets[:n]},
		Dataset{Features: d.Features[n:], Targets: d.Targets[n:]}
}

// InitialLinearModel returns an all-zero model for the given feature count.
func InitialLinearModel(features int) fl.ParameterSet {
	return fl.ParameterSet{Tensors: []fl.Tensor{
		{Name: weightsTensor, Shape: []int{features}, Values: make([]float64, features)},
		{Name: biasTensor, Shape: []int{}, Values: []float64{0}},
	}}
}

var _ fl.LocalTrainer = (*LinearTrainer)(nil)

// LinearTrainer fits a linear regression model with mini-batch gradient
// descent on mean squared error.
type LinearTrainer struct {
	train   Dataset
	holdout Dataset
	seed    uint64
}

func NewLinearTrainer(train, holdout Dataset, seed uint64) *LinearTrainer {
	return &LinearTrainer{train: train, holdout: holdout, seed: seed}
}

func (lt *LinearTrainer) Fit(ctx context.Context, params fl.ParameterSet, cfg fl.FitConfig) (fl.FitResult, error) {
	n := lt.train.Len()
	if n == 0 {
		return fl.FitResult{}, fl.TrainingFailure("no training data")
	}
	w, b, err := lt.unpack(params)
	if err != nil {
		return fl.FitResult{}, err
	}

	epochs := max(cfg.LocalEpochs, 1)
	batch := cfg.BatchSize
	if batch <= 0 || batch > n {
		batch = n
	}

	// Seeded by round so that a retried fit yields the same update.
	rng := rand.New(rand.NewPCG(lt.seed, cfg.Round))
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	grad := make([]float64, len(w))

	var (
		totalLoss float64
		batches   int
	)
	for range epochs {
		if err := ctx.Err(); err != nil {
			return fl.FitResult{}, err
		}
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

		for start := 0; start < n; start += batch {
			end := min(start+batch, n)
			for i := range grad {
				grad[i] = 0
			}
			var gradB, loss float64
			for _, i := range order[start:end] {
				x := lt.train.Features[i]
				diff := floats.Dot(w, x) + b - lt.train.Targets[i]
				loss += diff * diff
				floats.AddScaled(grad, 2*diff, x)
				gradB += 2 * diff
			}
			m := float64(end - start)
			floats.AddScaled(w, -cfg.LearningRate/m, grad)
			b -= cfg.LearningRate * gradB / m

			totalLoss += loss / m
			batches++
		}
	}

	avg := totalLoss / float64(batches)
	if math.IsNaN(avg) || math.IsInf(avg, 0) || math.IsNaN(b) || math.IsInf(b, 0) {
		return fl.FitResult{}, fl.TrainingFailure("training diverged")
	}

	return fl.FitResult{
		Round:       cfg.Round,
		Parameters:  pack(w, b),
		SampleCount: int64(n),
		Metrics:     map[string]float64{"loss": avg},
	}, nil
}

func (lt *LinearTrainer) Evaluate(ctx context.Context, params fl.ParameterSet, cfg fl.EvalConfig) (fl.EvalResult, error) {
	n := lt.holdout.Len()
	if n == 0 {
		return fl.EvalResult{}, fl.TrainingFailure("no holdout data")
	}
	if err := ctx.Err(); err != nil {
		return fl.EvalResult{}, err
	}
	w, b, err := lt.unpack(params)
	if err != nil {
		return fl.EvalResult{}, err
	}

	var sq, abs float64
	for i, x := range lt.holdout.Features {
		diff := floats.Dot(w, x) + b - lt.holdout.Targets[i]
		sq += diff * diff
		abs += math.Abs(diff)
	}
	mse := sq / float64(n)

	return fl.EvalResult{
		Round:       cfg.Round,
		SampleCount: int64(n),
		Metrics: map[string]float64{
			"loss": mse,
			"mse":  mse,
			"mae":  abs / float64(n),
		},
	}, nil
}

func (lt *LinearTrainer) ModelInfo() ModelInfo {
	features := lt.features()

	return ModelInfo{
		Features:        features,
		TotalParameters: features + 1,
		TrainSamples:    lt.train.Len(),
		HoldoutSamples:  lt.holdout.Len(),
	}
}

func (lt *LinearTrainer) features() int {
	switch {
	case lt.train.Len() > 0:
		return len(lt.train.Features[0])
	case lt.holdout.Len() > 0:
		return len(lt.holdout.Features[0])
	default:
		return 0
	}
}

// unpack copies the weights out of params so the caller's set is untouched.
func (lt *LinearTrainer) unpack(params fl.ParameterSet) ([]float64, float64, error) {
	if !InitialLinearModel(lt.features()).Compatible(params) {
		return nil, 0, fl.ErrStructuralMismatch
	}
	w := make([]float64, len(params.Tensors[0].Values))
	copy(w, params.Tensors[0].Values)

	return w, params.Tensors[1].Values[0], nil
}

func pack(w []float64, b float64) fl.ParameterSet {
	return fl.ParameterSet{Tensors: []fl.Tensor{
		{Name: weightsTensor, Shape: []int{len(w)}, Values: w},
		{Name: biasTensor, Shape: []int{}, Values: []float64{b}},
	}}
}
