package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-goals/internal/analytics"
	"github.com/sells-group/crm-goals/internal/model"
	"github.com/sells-group/crm-goals/internal/store"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show goal analytics and insights",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ownerType, _ := cmd.Flags().GetString("owner-type")
		ownerID, _ := cmd.Flags().GetString("owner")
		status, _ := cmd.Flags().GetString("status")

		report, err := svc.GetAnalytics(ctx, store.GoalFilter{
			OwnerType: model.OwnerType(ownerType),
			OwnerID:   ownerID,
			Status:    model.GoalStatus(status),
		})
		if err != nil {
			return eris.Wrap(err, "analytics")
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return printJSON(report)
		}
		formatAnalytics(os.Stdout, report)
		return nil
	},
}

func init() {
	analyticsCmd.Flags().String("owner-type", "", "scope to an owner type (individual adds peer comparison)")
	analyticsCmd.Flags().String("owner", "", "scope to an owner id")
	analyticsCmd.Flags().String("status", "", "scope to a status")
	analyticsCmd.Flags().Bool("json", false, "emit the full report as JSON")
	rootCmd.AddCommand(analyticsCmd)
}

func formatAnalytics(out io.Writer, r *analytics.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total goals:\t%d\n", r.TotalGoals)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", r.CompletedGoals)
	_, _ = fmt.Fprintf(w, "Active:\t%d\n", r.ActiveGoals)
	_, _ = fmt.Fprintf(w, "Cancelled:\t%d\n", r.CancelledGoals)
	_, _ = fmt.Fprintf(w, "Completion rate:\t%.1f%%\n", r.OverallCompletionRate)
	_, _ = fmt.Fprintf(w, "Average progress:\t%.1f%%\n", r.AverageProgress)
	_, _ = fmt.Fprintf(w, "Average velocity:\t%.2f pct/day (%d points)\n", r.AverageVelocity, r.VelocityDataPoints)

	if r.TeamAverageCompletionRate != nil {
		_, _ = fmt.Fprintf(w, "Team avg completion:\t%.1f%%\n", *r.TeamAverageCompletionRate)
	}
	if r.CompanyAverageCompletionRate != nil {
		_, _ = fmt.Fprintf(w, "Company avg completion:\t%.1f%%\n", *r.CompanyAverageCompletionRate)
	}

	if len(r.TypeBreakdown) > 0 {
		_, _ = fmt.Fprintln(w, "\nTYPE\tGOALS\tCOMPLETED\tRATE\tAVG PROGRESS")
		for _, t := range r.TypeBreakdown {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\t%.1f%%\n",
				t.Type, t.TotalGoals, t.CompletedGoals, t.CompletionRate, t.AverageProgress)
		}
	}

	if len(r.CompletionRateTrend) > 0 {
		_, _ = fmt.Fprintln(w, "\nMONTH\tGOALS\tCOMPLETED\tRATE")
		for _, p := range r.CompletionRateTrend {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\n",
				p.Month, p.TotalGoals, p.CompletedGoals, p.CompletionRate)
		}
	}

	if !r.HasSufficientData {
		_, _ = fmt.Fprintf(w, "\nNote: only %d days of history; trends need 30+ days.\n", r.DaysOfHistory)
	}
	_ = w.Flush()
}
