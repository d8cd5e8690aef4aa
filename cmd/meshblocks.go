package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/propscope/comp-engine/internal/meshblock"
	"github.com/propscope/comp-engine/internal/model"
)

var meshblocksPath string

var meshblocksCmd = &cobra.Command{
	Use:   "meshblocks",
	Short: "Inspect the mesh block boundary dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := meshblocksPath
		if path == "" {
			path = cfg.MeshBlocks.Path
		}
		if path == "" {
			return eris.New("meshblocks: no dataset path given and meshblocks.path not configured")
		}

		dataset, err := meshblock.Load(path, meshblock.FieldNames{
			ID:       cfg.MeshBlocks.IDField,
			Category: cfg.MeshBlocks.CategoryField,
			Suburb:   cfg.MeshBlocks.SuburbField,
		})
		if err != nil {
			return eris.Wrap(err, "meshblocks: load")
		}

		counts := dataset.CountsByCategory()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "dataset\t%s\n", path)
		fmt.Fprintf(w, "blocks\t%d\n", dataset.Len())
		for _, cat := range model.Categories() {
			fmt.Fprintf(w, "  %s\t%d\n", cat, counts[cat])
		}
		return w.Flush()
	},
}

func init() {
	meshblocksCmd.Flags().StringVar(&meshblocksPath, "path", "", "dataset path (default meshblocks.path from config)")
	rootCmd.AddCommand(meshblocksCmd)
}
