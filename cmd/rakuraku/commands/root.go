package commands

import (
	"context"
	"fmt"
	"os"
	"rakuraku-calendar/lib/configutil"
	"rakuraku-calendar/lib/telemetry"
	"rakuraku-calendar/services/host"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "rakuraku",
	Short: "rakuraku turns the menu deliveries of a Yoshikei Rakuraku account into calendars.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "The config file, json5 or yaml.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readConfig() (host.Config, error) {
	cfg, err := configutil.ReadConfig[host.Config](configPath)
	if err != nil {
		return host.Config{}, fmt.Errorf("read config %s: %w", configPath, err)
	}
	cfg.Normalize()
	return cfg, nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
