package commands

import (
	"fmt"

	random "github.com/mazen160/go-random"
	"github.com/spf13/cobra"
)

var tokenLength int

func init() {
	tokenCmd.Flags().IntVar(&tokenLength, "length", 32, "The number of characters in the token.")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token [--length <n>]",
	Short: "Prints a random token to use as access_token in the config.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenLength < 16 {
			return fmt.Errorf("--length must be at least 16")
		}
		token, err := random.String(tokenLength)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
