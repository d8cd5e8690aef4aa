package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propscope/comp-engine/internal/etl"
	"github.com/propscope/comp-engine/internal/model"
)

var (
	runLat      float64
	runLon      float64
	runRadius   float64
	runLimit    int
	runFilters  []string
	runFields   []string
	runBeds     float64
	runBaths    float64
	runCars     float64
	runLandArea float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run comparable analysis for a single subject property",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		filters, err := parseFilters(runFilters)
		if err != nil {
			return err
		}

		subject := etl.Subject{
			Location:   model.Location{Lat: runLat, Lon: runLon},
			Attributes: subjectAttributes(cmd),
		}
		req := model.SearchRequest{
			Center:       subject.Location,
			RadiusMeters: runRadius,
			Filters:      filters,
			Fields:       runFields,
			Limit:        runLimit,
		}

		artifact, err := env.Orchestrator.Run(ctx, subject, req)
		if err != nil && artifact == nil {
			return eris.Wrap(err, "run")
		}
		if err != nil {
			zap.L().Warn("run finished with errors",
				zap.String("run_id", artifact.RunID),
				zap.String("status", string(artifact.Meta.Status)),
				zap.Error(err),
			)
		}

		return emitArtifact(os.Stdout, artifact, err)
	},
}

// emitArtifact prints the artifact and then surfaces the run error, so
// a partial or failed run still reports its output but exits non-zero.
func emitArtifact(w io.Writer, artifact *model.RunArtifact, runErr error) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		return err
	}
	if runErr != nil {
		return eris.Wrap(runErr, "run")
	}
	return nil
}

// subjectAttributes collects only the profile flags the caller actually
// set, so unset attributes stay missing instead of scoring as zero.
func subjectAttributes(cmd *cobra.Command) map[string]any {
	attrs := make(map[string]any)
	for flag, value := range map[string]float64{
		"beds":      runBeds,
		"baths":     runBaths,
		"cars":      runCars,
		"land-area": runLandArea,
	} {
		if cmd.Flags().Changed(flag) {
			attrs[strings.ReplaceAll(flag, "-", "_")] = value
		}
	}
	return attrs
}

func parseFilters(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(raw))
	for _, f := range raw {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" || v == "" {
			return nil, eris.Errorf("invalid filter %q, expected key=value", f)
		}
		filters[k] = v
	}
	return filters, nil
}

func init() {
	runCmd.Flags().Float64Var(&runLat, "lat", 0, "subject latitude (required)")
	runCmd.Flags().Float64Var(&runLon, "lon", 0, "subject longitude (required)")
	runCmd.Flags().Float64Var(&runRadius, "radius", 5000, "search radius in meters")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max candidate properties (0 = provider default)")
	runCmd.Flags().StringArrayVar(&runFilters, "filter", nil, "candidate filter as key=value, repeatable")
	runCmd.Flags().StringArrayVar(&runFields, "field", nil, "attribute to request, repeatable (default all)")
	runCmd.Flags().Float64Var(&runBeds, "beds", 0, "subject bedroom count")
	runCmd.Flags().Float64Var(&runBaths, "baths", 0, "subject bathroom count")
	runCmd.Flags().Float64Var(&runCars, "cars", 0, "subject car space count")
	runCmd.Flags().Float64Var(&runLandArea, "land-area", 0, "subject land area in square meters")
	_ = runCmd.MarkFlagRequired("lat")
	_ = runCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(runCmd)
}
