package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/turnstile/internal/sink"
	"github.com/andresmejia3/turnstile/internal/store"
	"github.com/andresmejia3/turnstile/internal/types"
	"github.com/andresmejia3/turnstile/internal/utils"
	"github.com/spf13/cobra"
)

const dayLayout = "2006-01-02"

var eventsOpts struct {
	Identity string
	Day      string
	Limit    int
	CSV      bool
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded attendance events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		f, err := eventFilter(eventsOpts.Identity, eventsOpts.Day, eventsOpts.Limit, time.Local)
		if err != nil {
			utils.ShowError("Invalid filter", err, nil)
			return err
		}
		if eventsOpts.CSV {
			return runEventsCSV(eventsOpts.Day, f)
		}
		return runEvents(cmd.Context(), f)
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsOpts.Identity, "identity", "", "Only events of this identity")
	eventsCmd.Flags().StringVar(&eventsOpts.Day, "date", "", "Only events of this local day (YYYY-MM-DD)")
	eventsCmd.Flags().IntVarP(&eventsOpts.Limit, "limit", "n", 0, "Maximum number of events (0 = all)")
	eventsCmd.Flags().BoolVar(&eventsOpts.CSV, "csv", false, "Read the day's CSV file instead of the database (requires --date)")
	rootCmd.AddCommand(eventsCmd)
}

// eventFilter turns the command flags into a store filter. day selects one local calendar day.
func eventFilter(identity, day string, limit int, loc *time.Location) (store.EventFilter, error) {
	f := store.EventFilter{Identity: identity, Limit: limit}
	if limit < 0 {
		return f, fmt.Errorf("limit must be >= 0, got %d", limit)
	}
	if day != "" {
		start, err := time.ParseInLocation(dayLayout, day, loc)
		if err != nil {
			return f, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", day, err)
		}
		f.Since = start
		f.Until = start.AddDate(0, 0, 1)
	}
	return f, nil
}

func runEvents(ctx context.Context, f store.EventFilter) error {
	events, err := DB.ListEvents(ctx, f)
	if err != nil {
		utils.ShowError("Failed to list events", err, nil)
		return err
	}
	return printEvents(os.Stdout, events)
}

// runEventsCSV reads the CSV sink's file for the day and applies the rest of f in memory.
func runEventsCSV(day string, f store.EventFilter) error {
	if day == "" {
		err := fmt.Errorf("--csv needs --date")
		utils.ShowError("Invalid filter", err, nil)
		return err
	}
	csv, err := sink.NewCSV(Cfg.Sinks.CSVDir, time.Local)
	if err != nil {
		utils.ShowError("Failed to open CSV directory", err, nil)
		return err
	}
	defer csv.Close()

	all, err := sink.ReadCSV(csv.PathFor(f.Since), time.Local)
	if err != nil {
		utils.ShowError("Failed to read attendance CSV", err, nil)
		return err
	}
	return printEvents(os.Stdout, filterEvents(all, f))
}

func filterEvents(events []types.AttendanceEvent, f store.EventFilter) []types.AttendanceEvent {
	var out []types.AttendanceEvent
	for _, ev := range events {
		if f.Identity != "" && ev.IdentityID != f.Identity {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func printEvents(dst io.Writer, events []types.AttendanceEvent) error {
	if len(events) == 0 {
		fmt.Fprintln(dst, "No attendance events found.")
		return nil
	}

	w := tabwriter.NewWriter(dst, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tTIMESTAMP\tSESSION")
	fmt.Fprintln(w, "----\t------\t---------\t-------")
	for _, ev := range events {
		session := ev.SessionID
		if len(session) > 8 {
			session = session[:8]
		}
		if session == "" {
			session = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.IdentityID, ev.Status, ev.Time.Local().Format("2006-01-02 15:04:05"), session)
	}
	return w.Flush()
}
