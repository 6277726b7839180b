package commands

import (
	"fmt"
	"log/slog"
	"rakuraku-calendar/lib/restyutil"
	"rakuraku-calendar/lib/scrapers/rakuraku"
	"rakuraku-calendar/lib/timezone"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	eventsEntry string
	eventsStart string
	eventsEnd   string
	eventsDump  string
)

func init() {
	eventsCmd.Flags().StringVar(&eventsEntry, "entry", "", "The title or calendar id of the entry to use.")
	eventsCmd.Flags().StringVar(&eventsStart, "start", "", "The first day to fetch as YYYY-MM-DD, defaults to today.")
	eventsCmd.Flags().StringVar(&eventsEnd, "end", "", "The day after the last day to fetch as YYYY-MM-DD, defaults to the end of the horizon.")
	eventsCmd.Flags().StringVar(&eventsDump, "dump", "", "A directory to dump every http exchange into, needs -v. <dev_state> expands to dev/.state.")
	eventsCmd.MarkFlagRequired("entry")
	rootCmd.AddCommand(eventsCmd)
}

func parseDateFlag(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	return timezone.ParseIsoDate(value)
}

var eventsCmd = &cobra.Command{
	Use:   "events --entry <title> [--start YYYY-MM-DD] [--end YYYY-MM-DD] [--dump <dir>]",
	Short: "Fetches the deliveries of an entry once and prints them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		entry, err := cfg.FindEntry(eventsEntry)
		if err != nil {
			return err
		}

		today := timezone.Today()
		start, err := parseDateFlag(eventsStart, today)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		end, err := parseDateFlag(eventsEnd, today.AddDate(0, 0, cfg.HorizonDays))
		if err != nil {
			return fmt.Errorf("--end: %w", err)
		}

		opts := cfg.ClientOptions(entry)
		if eventsDump != "" {
			output, err := restyutil.NewFilesystemOutput(eventsDump)
			if err != nil {
				return err
			}
			opts.DumpOutput = output
		}
		client, err := rakuraku.NewClient(opts)
		if err != nil {
			return err
		}
		defer client.Close()

		slog.Info("fetching events", "entry", entry.Title, "start", start.Format(timezone.IsoDate), "end", end.Format(timezone.IsoDate))
		events, err := client.GetEvents(cmd.Context(), start, end)
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Date", "Course", "Item", "Recipe"})
		for _, e := range events {
			t.AppendRow(table.Row{e.Start.Format(timezone.IsoDate), e.Location, e.Summary, e.Description})
		}
		t.AppendFooter(table.Row{"", "", "Total", len(events)})
		t.Render()
		return nil
	},
}
