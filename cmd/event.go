package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event <entity-type> [entity-id]",
	Short: "Signal a CRM entity change and recalculate affected goals",
	Long:  "Entity types: deal (moves revenue and deals goals), activity, task. This is the event-driven trigger; the sweep is the scheduled fallback.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entityID := ""
		if len(args) == 2 {
			entityID = args[1]
		}

		n, err := svc.RecalculateForEntity(ctx, args[0], entityID)
		if err != nil {
			return eris.Wrap(err, "event")
		}
		fmt.Printf("recalculated %d goals for %s change\n", n, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
}
