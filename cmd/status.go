package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-goals/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show goal subsystem health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		lookback, _ := cmd.Flags().GetInt("lookback-hours")
		snap, err := monitoring.NewCollector(st).Collect(ctx, lookback)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return printJSON(snap)
		}
		formatStatus(os.Stdout, snap)

		alerts := monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap)
		for _, a := range alerts {
			fmt.Fprintf(os.Stderr, "ALERT [%s] %s\n", a.Severity, a.Message)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("lookback-hours", 24, "window for staleness and snapshot volume")
	statusCmd.Flags().Bool("json", false, "emit the snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}

func formatStatus(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Goals:\t%d total / %d active / %d draft / %d completed / %d cancelled\n",
		s.TotalGoals, s.ActiveGoals, s.DraftGoals, s.CompletedGoals, s.CancelledGoals)
	_, _ = fmt.Fprintf(w, "Failed calculations:\t%d\n", s.FailedCalculations)
	_, _ = fmt.Fprintf(w, "Never calculated:\t%d\n", s.NeverCalculated)
	_, _ = fmt.Fprintf(w, "Stale calculations:\t%d (older than %dh)\n", s.StaleCalculations, s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Manual overrides:\t%d\n", s.ManualOverrides)
	_, _ = fmt.Fprintf(w, "Overdue active goals:\t%d\n", s.OverdueActive)
	_, _ = fmt.Fprintf(w, "Snapshots (last %dh):\t%d\n", s.LookbackHours, s.SnapshotVolume)
	_ = w.Flush()
}
