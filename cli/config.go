package cli

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/flcoord"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var errParticipantFormat = errors.New("participants must be written as id=endpoint")

type configAnswers struct {
	url           string
	rounds        string
	minFitClients string
	deadline      string
	features      string
	participants  string
}

func NewConfigCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "config [init]",
		Short: "Coordinator configuration",
		Long:  `Generate the coordinator TOML configuration file.`,
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create configuration file",
		Long: `Interactively create the coordinator configuration file.

Examples:
  flcoord-cli config init --file config.toml`,
		Run: func(cmd *cobra.Command, args []string) {
			a := configAnswers{
				url:           "http://localhost:7070",
				rounds:        "10",
				minFitClients: "3",
				deadline:      "300s",
				features:      "3",
			}

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Coordinator URL").
						Value(&a.url).
						Validate(validateURL),
					huh.NewInput().
						Title("Number of rounds").
						Value(&a.rounds).
						Validate(validatePositive),
					huh.NewInput().
						Title("Minimum fit participants").
						Value(&a.minFitClients).
						Validate(validatePositive),
					huh.NewInput().
						Title("Round deadline").
						Value(&a.deadline).
						Validate(validateDuration),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Model features").
						Description("Size of the linear model weight vector").
						Value(&a.features).
						Validate(validatePositive),
					huh.NewText().
						Title("Participants").
						Description("One id=endpoint pair per line").
						Value(&a.participants).
						Validate(func(s string) error {
							_, err := parseParticipants(s)

							return err
						}),
				),
			)
			if err := form.Run(); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			cfg, err := a.config()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			if err := flcoord.SaveConfig(path, cfg); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, "Successfully created "+path)
		},
	}
	initCmd.Flags().StringVarP(&path, "file", "f", "config.toml", "Configuration file path")

	cmd.AddCommand(initCmd)

	return cmd
}

func (a configAnswers) config() (flcoord.Config, error) {
	rounds, err := strconv.ParseUint(a.rounds, 10, 64)
	if err != nil {
		return flcoord.Config{}, fmt.Errorf("invalid number of rounds: %w", err)
	}
	minFit, err := strconv.Atoi(a.minFitClients)
	if err != nil {
		return flcoord.Config{}, fmt.Errorf("invalid minimum fit participants: %w", err)
	}
	features, err := strconv.Atoi(a.features)
	if err != nil {
		return flcoord.Config{}, fmt.Errorf("invalid model features: %w", err)
	}
	if err := validateDuration(a.deadline); err != nil {
		return flcoord.Config{}, err
	}
	participants, err := parseParticipants(a.participants)
	if err != nil {
		return flcoord.Config{}, err
	}

	return flcoord.Config{
		Coordinator: flcoord.CoordinatorConfig{URL: a.url},
		Training: flcoord.TrainingConfig{
			NumRounds:     rounds,
			MinFitClients: minFit,
			RoundDeadline: a.deadline,
		},
		Model:        flcoord.ModelConfig{Features: features},
		Participants: participants,
	}, nil
}

func parseParticipants(s string) ([]flcoord.ParticipantConfig, error) {
	var out []flcoord.ParticipantConfig
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, endpoint, ok := strings.Cut(line, "=")
		id, endpoint = strings.TrimSpace(id), strings.TrimSpace(endpoint)
		if !ok || id == "" || endpoint == "" {
			return nil, fmt.Errorf("%w: %q", errParticipantFormat, line)
		}
		if err := validateURL(endpoint); err != nil {
			return nil, err
		}
		out = append(out, flcoord.ParticipantConfig{ID: id, Endpoint: endpoint})
	}

	return out, nil
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid url %q", s)
	}

	return nil
}

func validatePositive(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if n < 1 {
		return errors.New("value must be positive")
	}

	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.New("duration must be positive")
	}

	return nil
}
