package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/absmach/flcoord/pkg/fl"
	"github.com/absmach/flcoord/round"
)

// Config is the coordinator-level training configuration. Defaults follow
// a three-institution deployment.
type Config struct {
	NumRounds              uint64        `env:"FLCOORD_NUM_ROUNDS"               envDefault:"10"`
	MinFitClients          int           `env:"FLCOORD_MIN_FIT_CLIENTS"          envDefault:"3"`
	MinEvaluateClients     int           `env:"FLCOORD_MIN_EVALUATE_CLIENTS"     envDefault:"3"`
	MinAvailableClients    int           `env:"FLCOORD_MIN_AVAILABLE_CLIENTS"    envDefault:"3"`
	FractionFit            float64       `env:"FLCOORD_FRACTION_FIT"             envDefault:"1.0"`
	FractionEvaluate       float64       `env:"FLCOORD_FRACTION_EVALUATE"        envDefault:"1.0"`
	LocalEpochs            int           `env:"FLCOORD_LOCAL_EPOCHS"             envDefault:"5"`
	BatchSize              int           `env:"FLCOORD_BATCH_SIZE"               envDefault:"32"`
	LearningRate           float64       `env:"FLCOORD_LEARNING_RATE"            envDefault:"0.001"`
	RoundDeadline          time.Duration `env:"FLCOORD_ROUND_DEADLINE"           envDefault:"300s"`
	EvaluateDeadline       time.Duration `env:"FLCOORD_EVALUATE_DEADLINE"        envDefault:"0s"`
	AvailabilityTimeout    time.Duration `env:"FLCOORD_AVAILABILITY_TIMEOUT"     envDefault:"60s"`
	MaxConcurrency         int           `env:"FLCOORD_MAX_CONCURRENCY"          envDefault:"0"`
	MaxConsecutiveFailures int           `env:"FLCOORD_MAX_CONSECUTIVE_FAILURES" envDefault:"1"`
	MetricsRetention       uint64        `env:"FLCOORD_METRICS_RETENTION"        envDefault:"0"`
	CheckpointRetention    int           `env:"FLCOORD_CHECKPOINT_RETENTION"     envDefault:"0"`
}

func DefaultConfig() Config {
	return Config{
		NumRounds:              10,
		MinFitClients:          3,
		MinEvaluateClients:     3,
		MinAvailableClients:    3,
		FractionFit:            1.0,
		FractionEvaluate:       1.0,
		LocalEpochs:            5,
		BatchSize:              32,
		LearningRate:           0.001,
		RoundDeadline:          300 * time.Second,
		AvailabilityTimeout:    60 * time.Second,
		MaxConsecutiveFailures: 1,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MinFitClients < 1 {
		errs = append(errs, errors.New("min_fit_clients must be at least 1"))
	}
	if c.MinEvaluateClients < 0 || c.MinAvailableClients < 0 {
		errs = append(errs, errors.New("client minimums must not be negative"))
	}
	if c.FractionFit <= 0 || c.FractionFit > 1 {
		errs = append(errs, errors.New("fraction_fit must be within (0, 1]"))
	}
	if c.FractionEvaluate < 0 || c.FractionEvaluate > 1 {
		errs = append(errs, errors.New("fraction_evaluate must be within [0, 1]"))
	}
	if c.LocalEpochs < 1 || c.BatchSize < 1 || c.LearningRate <= 0 {
		errs = append(errs, errors.New("local_epochs, batch_size and learning_rate must be positive"))
	}
	if c.RoundDeadline <= 0 {
		errs = append(errs, errors.New("round_deadline must be positive"))
	}
	if c.MaxConcurrency < 0 {
		errs = append(errs, errors.New("max_concurrency must not be negative"))
	}
	if c.MaxConsecutiveFailures < 1 {
		errs = append(errs, errors.New("max_consecutive_failures must be at least 1"))
	}
	if c.MetricsRetention != 0 && c.MetricsRetention < round.MinRetention {
		errs = append(errs, fmt.Errorf("metrics_retention must be 0 or at least %d", round.MinRetention))
	}
	if c.CheckpointRetention < 0 {
		errs = append(errs, errors.New("checkpoint_retention must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

func (c Config) fitConfig(number uint64) fl.FitConfig {
	return fl.FitConfig{
		Round:        number,
		LocalEpochs:  c.LocalEpochs,
		LearningRate: c.LearningRate,
		BatchSize:    c.BatchSize,
	}
}

// selectionFloor is the number of available participants a fit round waits
// for before dispatching.
func (c Config) selectionFloor() int {
	return max(c.MinAvailableClients, c.MinFitClients)
}

func (c Config) evaluateDeadline() time.Duration {
	if c.EvaluateDeadline > 0 {
		return c.EvaluateDeadline
	}

	return c.RoundDeadline
}
