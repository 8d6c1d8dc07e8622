package cli

import "github.com/spf13/cobra"

func NewParticipantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "participants [list|register|deregister]",
		Short: "Participants manager",
		Long:  `List, register and deregister training participants.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List participants",
		Long:  `List registered participants and their availability.`,
		Run: func(cmd *cobra.Command, args []string) {
			page, err := fsdk.Participants()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	registerCmd := &cobra.Command{
		Use:   "register <id> <endpoint>",
		Short: "Register participant",
		Long: `Register a participant or refresh an existing one.

Examples:
  flcoord-cli participants register hospital-a http://10.0.0.5:9090`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			p, err := fsdk.RegisterParticipant(args[0], args[1])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, p)
		},
	}

	deregisterCmd := &cobra.Command{
		Use:   "deregister <id>",
		Short: "Deregister participant",
		Long:  `Mark a participant unavailable for future rounds.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := fsdk.DeregisterParticipant(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	cmd.AddCommand(listCmd, registerCmd, deregisterCmd)

	return cmd
}
