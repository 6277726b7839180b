package commands

import (
	"fmt"
	"rakuraku-calendar/lib/scrapers/rakuraku"

	"github.com/spf13/cobra"
)

var loginEntry string

func init() {
	loginCmd.Flags().StringVar(&loginEntry, "entry", "", "The title or calendar id of the entry to use.")
	loginCmd.MarkFlagRequired("entry")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login --entry <title>",
	Short: "Checks that an entry's credentials are accepted by the portal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		entry, err := cfg.FindEntry(loginEntry)
		if err != nil {
			return err
		}

		client, err := rakuraku.NewClient(cfg.ClientOptions(entry))
		if err != nil {
			return err
		}
		defer client.Close()

		err = client.Authenticate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", entry.Username)
		return nil
	},
}
