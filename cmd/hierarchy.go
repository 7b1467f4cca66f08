package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-goals/internal/hierarchy"
)

var goalLinkCmd = &cobra.Command{
	Use:   "link <child-id> <parent-id>",
	Short: "Link a goal under a parent goal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		g, err := svc.LinkToParent(ctx, args[0], args[1], actorEmail)
		if err != nil {
			return eris.Wrap(err, "goal link")
		}
		return printJSON(g)
	},
}

var goalUnlinkCmd = &cobra.Command{
	Use:   "unlink <goal-id>",
	Short: "Remove a goal's parent link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		g, err := svc.UnlinkFromParent(ctx, args[0], actorEmail)
		if err != nil {
			return eris.Wrap(err, "goal unlink")
		}
		return printJSON(g)
	},
}

var goalHierarchyCmd = &cobra.Command{
	Use:   "hierarchy <goal-id>",
	Short: "Show a goal's position in the hierarchy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		view, err := svc.GetHierarchy(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "goal hierarchy")
		}
		if view == nil {
			return eris.Errorf("goal %s not found", args[0])
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return printJSON(view)
		}
		formatHierarchy(os.Stdout, view)
		return nil
	},
}

func init() {
	goalHierarchyCmd.Flags().Bool("json", false, "emit the full projection as JSON")

	goalCmd.AddCommand(goalLinkCmd)
	goalCmd.AddCommand(goalUnlinkCmd)
	goalCmd.AddCommand(goalHierarchyCmd)
}

func formatHierarchy(out io.Writer, view *hierarchy.View) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Goal:\t%s (%s)\n", view.Goal.Name, truncateID(view.Goal.ID))
	_, _ = fmt.Fprintf(w, "Depth:\t%d\n", view.Depth)

	for i := len(view.Ancestors) - 1; i >= 0; i-- {
		a := view.Ancestors[i]
		_, _ = fmt.Fprintf(w, "Ancestor:\t%s (%s, %s)\n", a.Name, truncateID(a.ID), a.OwnerType)
	}
	for _, c := range view.Children {
		_, _ = fmt.Fprintf(w, "Child:\t%s (%s) %.1f\n", c.Name, truncateID(c.ID), c.Progress)
	}
	if view.AggregatedChildProgress != nil {
		_, _ = fmt.Fprintf(w, "Child progress total:\t%.1f\n", *view.AggregatedChildProgress)
	}
	if view.AggregatedChildTarget != nil {
		_, _ = fmt.Fprintf(w, "Child target total:\t%.1f\n", *view.AggregatedChildTarget)
	}
	_, _ = fmt.Fprintf(w, "Descendants:\t%d\n", len(view.Descendants))
	_ = w.Flush()
}
