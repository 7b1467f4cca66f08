package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"go.uber.org/zap"
)

var goalAdjustCmd = &cobra.Command{
	Use:   "adjust <goal-id> <progress>",
	Short: "Manually override a goal's progress (requires --reason)",
	Long:  "Sets progress to an operator-supplied value and switches the goal to manual calculation, exempting it from automatic recalculation until reset-auto.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		progress, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return eris.Wrap(err, "parse progress")
		}
		reason, _ := cmd.Flags().GetString("reason")

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		g, err := svc.ManualAdjustProgress(ctx, args[0], progress, reason, actorEmail)
		if err != nil {
			return eris.Wrap(err, "goal adjust")
		}
		return printJSON(g)
	},
}

var goalResetAutoCmd = &cobra.Command{
	Use:   "reset-auto <goal-id>",
	Short: "Return a manually adjusted goal to automatic calculation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		g, err := svc.ResetToAuto(ctx, args[0], actorEmail)
		if err != nil {
			return eris.Wrap(err, "goal reset-auto")
		}
		return printJSON(g)
	},
}

var goalRecalcCmd = &cobra.Command{
	Use:   "recalc [goal-id]",
	Short: "Recalculate one goal, or all active auto-calculated goals",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if len(args) == 1 {
			g, err := svc.RecalculateProgress(ctx, args[0], actorEmail)
			if err != nil {
				return eris.Wrap(err, "goal recalc")
			}
			return printJSON(g)
		}

		n, err := svc.RecalculateAll(ctx)
		if err != nil {
			return eris.Wrap(err, "goal recalc")
		}
		fmt.Printf("recalculated %d goals\n", n)
		return nil
	},
}

var goalSetProgressCmd = &cobra.Command{
	Use:   "set-progress <goal-id> <progress>",
	Short: "Set a goal's raw progress value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		progress, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return eris.Wrap(err, "parse progress")
		}

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		g, err := svc.UpdateProgress(ctx, args[0], progress, actorEmail)
		if err != nil {
			return eris.Wrap(err, "goal set-progress")
		}
		zap.L().Info("progress updated", zap.String("goal_id", g.ID), zap.Float64("progress", g.Progress))
		return printJSON(g)
	},
}

func init() {
	goalAdjustCmd.Flags().String("reason", "", "justification for the override (required)")
	_ = goalAdjustCmd.MarkFlagRequired("reason")

	goalCmd.AddCommand(goalAdjustCmd)
	goalCmd.AddCommand(goalResetAutoCmd)
	goalCmd.AddCommand(goalRecalcCmd)
	goalCmd.AddCommand(goalSetProgressCmd)
}
