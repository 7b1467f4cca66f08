package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-goals/internal/goal"
	"github.com/sells-group/crm-goals/internal/model"
	"github.com/sells-group/crm-goals/internal/store"
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Manage goals",
	Long:  "Commands for creating, listing, and driving the lifecycle of goals.",
}

// -- goal create --

var goalCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a goal (starts in draft)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		goalType, _ := cmd.Flags().GetString("type")
		ownerType, _ := cmd.Flags().GetString("owner-type")
		ownerID, _ := cmd.Flags().GetString("owner")
		description, _ := cmd.Flags().GetString("description")
		timeframe, _ := cmd.Flags().GetString("timeframe")
		recurring, _ := cmd.Flags().GetBool("recurring")
		manual, _ := cmd.Flags().GetBool("manual")
		parentID, _ := cmd.Flags().GetString("parent")

		p := goal.CreateParams{
			Name:         args[0],
			Description:  description,
			Type:         model.GoalType(goalType),
			Timeframe:    model.Timeframe(timeframe),
			Recurring:    recurring,
			OwnerType:    model.OwnerType(ownerType),
			OwnerID:      ownerID,
			ParentGoalID: parentID,
		}
		if manual {
			p.Source = model.SourceManual
		}

		if cmd.Flags().Changed("target") {
			target, _ := cmd.Flags().GetFloat64("target")
			p.TargetValue = &target
		}
		if p.StartDate, err = dateFlag(cmd, "start"); err != nil {
			return err
		}
		if p.EndDate, err = dateFlag(cmd, "end"); err != nil {
			return err
		}

		g, err := svc.Create(ctx, p, actorEmail)
		if err != nil {
			return eris.Wrap(err, "goal create")
		}
		return printJSON(g)
	},
}

// -- goal list --

var goalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		ownerType, _ := cmd.Flags().GetString("owner-type")
		ownerID, _ := cmd.Flags().GetString("owner")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		goals, err := svc.List(ctx, store.GoalFilter{
			Status:    model.GoalStatus(status),
			OwnerType: model.OwnerType(ownerType),
			OwnerID:   ownerID,
			Source:    model.CalculationSource(source),
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "goal list")
		}

		if len(goals) == 0 {
			fmt.Fprintln(os.Stderr, "No goals found.")
			return nil
		}
		formatGoalList(os.Stdout, goals)
		return nil
	},
}

// -- goal show --

var goalShowCmd = &cobra.Command{
	Use:   "show <goal-id>",
	Short: "Show full details of a goal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		g, err := svc.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "goal show")
		}
		if g == nil {
			return eris.Errorf("goal %s not found", args[0])
		}
		return printJSON(g)
	},
}

// -- lifecycle transitions --

var goalActivateCmd = &cobra.Command{
	Use:   "activate <goal-id>",
	Short: "Move a draft goal to active",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionRunE("goal activate", (*goal.Service).Activate),
}

var goalCompleteCmd = &cobra.Command{
	Use:   "complete <goal-id>",
	Short: "Close a goal as achieved",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionRunE("goal complete", (*goal.Service).Complete),
}

var goalCancelCmd = &cobra.Command{
	Use:   "cancel <goal-id>",
	Short: "Close a goal without completing it",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionRunE("goal cancel", (*goal.Service).Cancel),
}

var goalDeleteCmd = &cobra.Command{
	Use:   "delete <goal-id>",
	Short: "Delete a goal (refused while children exist)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := svc.Delete(ctx, args[0], actorEmail); err != nil {
			return eris.Wrap(err, "goal delete")
		}
		fmt.Printf("goal %s deleted\n", args[0])
		return nil
	},
}

func transitionRunE(what string, op func(*goal.Service, context.Context, string, string) (*model.Goal, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		g, err := op(svc, ctx, args[0], actorEmail)
		if err != nil {
			return eris.Wrap(err, what)
		}
		return printJSON(g)
	}
}

func init() {
	goalCreateCmd.Flags().String("type", "revenue", "goal type (revenue, deals, activities, tasks)")
	goalCreateCmd.Flags().String("owner-type", "individual", "owner scope (company, team, individual)")
	goalCreateCmd.Flags().String("owner", "", "owner id (defaults to acting user for individual goals)")
	goalCreateCmd.Flags().String("description", "", "goal description")
	goalCreateCmd.Flags().Float64("target", 0, "target value")
	goalCreateCmd.Flags().String("timeframe", "custom", "timeframe (this_week, this_month, this_quarter, this_year, custom)")
	goalCreateCmd.Flags().Bool("recurring", false, "goal recurs each timeframe")
	goalCreateCmd.Flags().Bool("manual", false, "progress is entered manually instead of auto-calculated")
	goalCreateCmd.Flags().String("parent", "", "parent goal id to link under")
	goalCreateCmd.Flags().String("start", "", "start date (YYYY-MM-DD)")
	goalCreateCmd.Flags().String("end", "", "end date (YYYY-MM-DD)")

	goalListCmd.Flags().String("status", "", "filter by status (draft, active, completed, cancelled)")
	goalListCmd.Flags().String("owner-type", "", "filter by owner scope")
	goalListCmd.Flags().String("owner", "", "filter by owner id")
	goalListCmd.Flags().String("source", "", "filter by calculation source (auto_calculated, manual)")
	goalListCmd.Flags().Int("limit", 50, "max number of goals to display")

	goalCmd.AddCommand(goalCreateCmd)
	goalCmd.AddCommand(goalListCmd)
	goalCmd.AddCommand(goalShowCmd)
	goalCmd.AddCommand(goalActivateCmd)
	goalCmd.AddCommand(goalCompleteCmd)
	goalCmd.AddCommand(goalCancelCmd)
	goalCmd.AddCommand(goalDeleteCmd)
	rootCmd.AddCommand(goalCmd)
}

// dateFlag parses an optional YYYY-MM-DD flag.
func dateFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, eris.Wrapf(err, "parse --%s", name)
	}
	return &t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatGoalList writes a tabular list of goals to w.
func formatGoalList(out io.Writer, goals []model.Goal) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tTYPE\tOWNER\tSTATUS\tPROGRESS\tSOURCE")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t-----\t------\t--------\t------")

	for _, g := range goals {
		name := g.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		progress := fmt.Sprintf("%.1f", g.Progress)
		if g.TargetValue != nil {
			progress = fmt.Sprintf("%.1f/%.1f (%.0f%%)", g.Progress, *g.TargetValue, g.ProgressPercentage())
		}
		flag := ""
		if g.CalculationFailed {
			flag = " !"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s%s\n",
			truncateID(g.ID),
			name,
			g.Type,
			g.OwnerType,
			g.Status,
			progress,
			g.CalculationSource,
			flag,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
