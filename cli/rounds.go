package cli

import (
	"strconv"

	"github.com/absmach/flcoord/pkg/sdk"
	"github.com/spf13/cobra"
)

var (
	defLimit uint64 = 10
	limit    uint64

	fsdk sdk.SDK
)

func SetSDK(s sdk.SDK) {
	fsdk = s
}

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Session status",
		Long:  `Show the state of the current or last training session.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			s, err := fsdk.Status()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, s)
		},
	}
}

func NewRoundsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rounds [list|view|summary]",
		Short: "Training rounds",
		Long:  `List past rounds, view round details and the metrics summary.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List rounds",
		Long: `List the most recent rounds in ascending order.

Examples:
  flcoord-cli rounds list --limit 5`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fsdk.RoundHistory(limit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}
	listCmd.Flags().Uint64VarP(&limit, "limit", "l", defLimit, "Maximum number of rounds")

	viewCmd := &cobra.Command{
		Use:   "view <round>",
		Short: "View round",
		Long:  `View a round with per-participant outcomes.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			number, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			r, err := fsdk.Round(number)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, r)
		},
	}

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Metrics summary",
		Long:  `Show loss statistics over completed rounds.`,
		Run: func(cmd *cobra.Command, args []string) {
			s, err := fsdk.Summary()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, s)
		},
	}

	checkpointsCmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List checkpoints",
		Long:  `List stored model checkpoints and mark the active one.`,
		Run: func(cmd *cobra.Command, args []string) {
			cps, err := fsdk.Checkpoints()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, cps)
		},
	}

	cmd.AddCommand(listCmd, viewCmd, summaryCmd, checkpointsCmd)

	return cmd
}
