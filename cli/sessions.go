package cli

import (
	"github.com/absmach/flcoord/pkg/sdk"
	"github.com/spf13/cobra"
)

func NewSessionsCmd() *cobra.Command {
	var req sdk.SessionRequest

	cmd := &cobra.Command{
		Use:   "sessions [start|abort]",
		Short: "Training sessions",
		Long:  `Start and abort training sessions.`,
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start session",
		Long: `Start a training session in the background.

Examples:
  # Run the configured number of rounds from the initial model
  flcoord-cli sessions start

  # Continue from the active checkpoint for five more rounds
  flcoord-cli sessions start --rounds 5 --resume`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			s, err := fsdk.StartSession(req)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, s)
		},
	}
	startCmd.Flags().StringVarP(&req.Name, "name", "n", "", "Session name")
	startCmd.Flags().Uint64VarP(&req.NumRounds, "rounds", "r", 0, "Number of rounds, 0 uses the coordinator default")
	startCmd.Flags().BoolVar(&req.Resume, "resume", false, "Resume from the active checkpoint")

	abortCmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort session",
		Long:  `Cancel the running session and wait for it to stop.`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := fsdk.AbortSession(); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, "session aborted")
		},
	}

	cmd.AddCommand(startCmd, abortCmd)

	return cmd
}
