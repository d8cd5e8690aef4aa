package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/propscope/comp-engine/internal/model"
	"github.com/propscope/comp-engine/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect run artifact history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List run artifacts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		fingerprint, _ := cmd.Flags().GetString("fingerprint")
		limit, _ := cmd.Flags().GetInt("limit")

		artifacts, err := st.ListArtifacts(ctx, store.ArtifactFilter{
			Status:      model.RunStatus(status),
			Fingerprint: fingerprint,
			Limit:       limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(artifacts) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tSTATUS\tCOMPARABLES\tFETCHES\tELAPSED MS\tCREATED")
		for _, a := range artifacts {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				a.RunID, a.Meta.Status, len(a.Comparables), a.Meta.FetchCount,
				a.Meta.ElapsedMs, a.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run artifact as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		artifact, err := st.GetArtifact(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(artifact)
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (success|partial|failed)")
	runsListCmd.Flags().String("fingerprint", "", "filter by request fingerprint")
	runsListCmd.Flags().Int("limit", 50, "max artifacts to list")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
