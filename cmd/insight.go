package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-goals/internal/forecast"
	"github.com/sells-group/crm-goals/internal/model"
)

var goalForecastCmd = &cobra.Command{
	Use:   "forecast <goal-id>",
	Short: "Forecast goal completion from progress history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		proj, err := svc.GetForecast(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "goal forecast")
		}
		if proj == nil {
			return eris.Errorf("goal %s not found", args[0])
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return printJSON(proj)
		}
		formatForecast(os.Stdout, proj)
		return nil
	},
}

var goalHistoryCmd = &cobra.Command{
	Use:   "history <goal-id>",
	Short: "Show a goal's progress snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snaps, err := svc.GetProgressHistory(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "goal history")
		}
		if len(snaps) == 0 {
			fmt.Fprintln(os.Stderr, "No snapshots recorded.")
			return nil
		}
		formatHistory(os.Stdout, snaps)
		return nil
	},
}

var goalAuditCmd = &cobra.Command{
	Use:   "audit <goal-id>",
	Short: "Show a goal's audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := svc.GetAuditTrail(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "goal audit")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No audit entries recorded.")
			return nil
		}
		formatAudit(os.Stdout, entries)
		return nil
	},
}

func init() {
	goalForecastCmd.Flags().Bool("json", false, "emit the full projection as JSON")

	goalCmd.AddCommand(goalForecastCmd)
	goalCmd.AddCommand(goalHistoryCmd)
	goalCmd.AddCommand(goalAuditCmd)
}

func formatForecast(out io.Writer, p *forecast.Projection) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Status:\t%s (%s confidence, %d data points)\n", p.Status, p.Confidence, p.DataPoints)
	_, _ = fmt.Fprintf(w, "Progress:\t%.1f / %.1f (%.1f%%)\n", p.CurrentProgress, p.TargetValue, p.ProgressPercentage)
	_, _ = fmt.Fprintf(w, "Daily velocity:\t%.2f\n", p.DailyVelocity)
	_, _ = fmt.Fprintf(w, "Weekly velocity:\t%.2f\n", p.WeeklyVelocity)
	_, _ = fmt.Fprintf(w, "Required daily velocity:\t%.2f\n", p.RequiredVelocity)
	_, _ = fmt.Fprintf(w, "Days remaining:\t%d\n", p.DaysRemaining)
	if p.EstimatedCompletion != nil {
		_, _ = fmt.Fprintf(w, "Estimated completion:\t%s\n", p.EstimatedCompletion.Format("2006-01-02"))
	}
	if p.Message != "" {
		_, _ = fmt.Fprintf(w, "Note:\t%s\n", p.Message)
	}
	_ = w.Flush()
}

func formatHistory(out io.Writer, snaps []model.ProgressSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TAKEN\tPROGRESS\tTARGET\tPCT\tSOURCE\tBY")
	for _, s := range snaps {
		by := s.CreatedBy
		if by == "" {
			by = "system"
		}
		_, _ = fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f%%\t%s\t%s\n",
			s.TakenAt.Format("2006-01-02 15:04"),
			s.ProgressValue,
			s.TargetValue,
			s.ProgressPercentage,
			s.Source,
			by,
		)
	}
	_ = w.Flush()
}

func formatAudit(out io.Writer, entries []model.AuditEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHANGED\tEVENT\tBEFORE\tAFTER\tBY")
	for _, e := range entries {
		by := e.ChangedBy
		if by == "" {
			by = "system"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.ChangedAt.Format("2006-01-02 15:04"),
			e.EventType,
			e.BeforeValue,
			e.AfterValue,
			by,
		)
	}
	_ = w.Flush()
}
