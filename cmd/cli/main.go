package main

import (
	"log"

	"github.com/absmach/flcoord/cli"
	"github.com/absmach/flcoord/pkg/sdk"
	"github.com/spf13/cobra"
)

const (
	defCoordinatorURL  = "http://localhost:7070"
	defTLSVerification    = false
)

func main() {
	var (
		coordinatorURL  string
		tlsVerification bool
	)

	rootCmd := &cobra.Command{
		Use:   "flcoord-cli",
		Short: "Federated learning coordinator CLI",
		Long:  `flcoord-cli is a command line interface for the federated learning coordinator.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				CoordinatorURL:  coordinatorURL,
				TLSVerification: tlsVerification,
			}
			s := sdk.NewSDK(sdkConf)
			cli.SetSDK(s)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&coordinatorURL, "url", "u", defCoordinatorURL, "Coordinator URL")
	rootCmd.PersistentFlags().BoolVar(&tlsVerification, "tls-verify", defTLSVerification, "Verify TLS certificates")

	rootCmd.AddCommand(
		cli.NewStatusCmd(),
		cli.NewRoundsCmd(),
		cli.NewParticipantsCmd(),
		cli.NewSessionsCmd(),
		cli.NewConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
