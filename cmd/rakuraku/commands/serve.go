package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"rakuraku-calendar/lib/serviceutil"
	"rakuraku-calendar/lib/telemetry"
	"rakuraku-calendar/services/host"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keeps every configured calendar refreshed and serves them over http.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tel, err := telemetry.SetupFromEnv(ctx, "rakuraku")
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("no telemetry.json5 found, traces and metrics are disabled")
		} else if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
			defer cancel()
			err := tel.Shutdown(shutdownCtx)
			if err != nil {
				slog.Warn("failed to shutdown telemetry", "err", err)
			}
		}()
		telemetry.InstrumentPerfStats(ctx)

		cfg, err := readConfig()
		if err != nil {
			return err
		}

		service, err := host.New(cfg)
		if err != nil {
			return err
		}
		defer service.Close()

		err = service.Start(ctx)
		if err != nil {
			return err
		}
		return serviceutil.StartHttpServer(ctx, cfg.ListenPort, service.Handler())
	},
}
