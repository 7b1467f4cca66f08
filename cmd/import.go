package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-goals/internal/seed"
)

var importFilePath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load users, CRM facts, and goals from a YAML fixture",
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

		fixture, err := seed.Load(importFilePath)
		if err != nil {
			return err
		}

		counts, err := seed.Apply(ctx, st, fixture)
		if err != nil {
			return eris.Wrap(err, "import")
		}
		fmt.Printf("imported %d users, %d deals, %d activities, %d goals (%d links)\n",
			counts.Users, counts.Deals, counts.Activities, counts.Goals, counts.Links)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVarP(&importFilePath, "file", "f", "", "path to YAML fixture (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
