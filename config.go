package flcoord

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/absmach/flcoord/coordinator"
	"github.com/absmach/flcoord/participant"
	"github.com/absmach/flcoord/pkg/fl"
	"github.com/pelletier/go-toml"
)

const filePermission = 0o644

var errNoModel = errors.New("model section must define features or tensors")

type Config struct {
	Coordinator  CoordinatorConfig   `toml:"coordinator"`
	Training     TrainingConfig      `toml:"training"`
	Model        ModelConfig         `toml:"model"`
	Participants []ParticipantConfig `toml:"participants"`
}

type CoordinatorConfig struct {
	URL string `toml:"url"`
}

// TrainingConfig overrides the environment configuration. Zero values leave
// the environment value in place. Durations use time.ParseDuration syntax.
type TrainingConfig struct {
	NumRounds              uint64  `toml:"num_rounds,omitempty"`
	MinFitClients          int     `toml:"min_fit_clients,omitempty"`
	MinEvaluateClients     int     `toml:"min_evaluate_clients,omitempty"`
	MinAvailableClients    int     `toml:"min_available_clients,omitempty"`
	FractionFit            float64 `toml:"fraction_fit,omitempty"`
	FractionEvaluate       float64 `toml:"fraction_evaluate,omitempty"`
	LocalEpochs            int     `toml:"local_epochs,omitempty"`
	BatchSize              int     `toml:"batch_size,omitempty"`
	LearningRate           float64 `toml:"learning_rate,omitempty"`
	RoundDeadline          string  `toml:"round_deadline,omitempty"`
	AvailabilityTimeout    string  `toml:"availability_timeout,omitempty"`
	MaxConsecutiveFailures int     `toml:"max_consecutive_failures,omitempty"`
}

type ModelConfig struct {
	// Features builds a linear model with a weight vector and a scalar bias.
	Features int           `toml:"features,omitempty"`
	Tensors  []TensorConfig `toml:"tensors,omitempty"`
}

type TensorConfig struct {
	Name  string  `toml:"name"`
	Shape []int   `toml:"shape"`
	Fill  float64 `toml:"fill"`
}

type ParticipantConfig struct {
	ID       string `toml:"id"`
	Endpoint string `toml:"endpoint"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func SaveConfig(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, filePermission); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Apply returns base with every non-zero override from t.
func (t TrainingConfig) Apply(base coordinator.Config) (coordinator.Config, error) {
	cfg := base
	if t.NumRounds > 0 {
		cfg.NumRounds = t.NumRounds
	}
	if t.MinFitClients > 0 {
		cfg.MinFitClients = t.MinFitClients
	}
	if t.MinEvaluateClients > 0 {
		cfg.MinEvaluateClients = t.MinEvaluateClients
	}
	if t.MinAvailableClients > 0 {
		cfg.MinAvailableClients = t.MinAvailableClients
	}
	if t.FractionFit > 0 {
		cfg.FractionFit = t.FractionFit
	}
	if t.FractionEvaluate > 0 {
		cfg.FractionEvaluate = t.FractionEvaluate
	}
	if t.LocalEpochs > 0 {
		cfg.LocalEpochs = t.LocalEpochs
	}
	if t.BatchSize > 0 {
		cfg.BatchSize = t.BatchSize
	}
	if t.LearningRate > 0 {
		cfg.LearningRate = t.LearningRate
	}
	if t.MaxConsecutiveFailures > 0 {
		cfg.MaxConsecutiveFailures = t.MaxConsecutiveFailures
	}

	var err error
	if cfg.RoundDeadline, err = parseDuration(t.RoundDeadline, cfg.RoundDeadline); err != nil {
		return base, fmt.Errorf("invalid round_deadline: %w", err)
	}
	if cfg.AvailabilityTimeout, err = parseDuration(t.AvailabilityTimeout, cfg.AvailabilityTimeout); err != nil {
		return base, fmt.Errorf("invalid availability_timeout: %w", err)
	}

	return cfg, nil
}

// InitialParameters builds the parameter set a fresh session starts from.
func (m ModelConfig) InitialParameters() (fl.ParameterSet, error) {
	if len(m.Tensors) > 0 {
		tensors := make([]fl.Tensor, len(m.Tensors))
		for i, tc := range m.Tensors {
			t := fl.Tensor{Name: tc.Name, Shape: tc.Shape}
			if t.Size() < 0 {
				return fl.ParameterSet{}, fl.ErrInvalidShape
			}
			t.Values = make([]float64, t.Size())
			for j := range t.Values {
				t.Values[j] = tc.Fill
			}
			tensors[i] = t
		}

		return fl.NewParameterSet(tensors...)
	}
	if m.Features > 0 {
		return participant.InitialLinearModel(m.Features), nil
	}

	return fl.ParameterSet{}, errNoModel
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}

	return time.ParseDuration(s)
}
