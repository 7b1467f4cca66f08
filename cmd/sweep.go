package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-goals/internal/calc"
	"github.com/sells-group/crm-goals/internal/monitoring"
	"github.com/sells-group/crm-goals/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the reconciliation sweep over auto-calculated goals",
	Long:  "Recalculates every active auto-calculated goal. Runs once by default; with --loop, repeats on the configured interval until interrupted and runs the alert checker alongside.",
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

		src, err := initFacts(st)
		if err != nil {
			return err
		}
		sweeper := sweep.New(st, calc.New(st, src), cfg.Sweep)

		loop, _ := cmd.Flags().GetBool("loop")
		if !loop {
			n, err := sweeper.RunOnce(ctx)
			if err != nil {
				return eris.Wrap(err, "sweep")
			}
			fmt.Printf("recalculated %d goals\n", n)
			return nil
		}

		runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(runCtx)

		sweeper.Run(runCtx)
		return nil
	},
}

func init() {
	sweepCmd.Flags().Bool("loop", false, "run continuously on the configured interval")
	rootCmd.AddCommand(sweepCmd)
}
