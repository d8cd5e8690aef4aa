package main

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propscope/comp-engine/internal/etl"
	"github.com/propscope/comp-engine/internal/model"
)

var (
	batchCSV    string
	batchRadius float64
	batchLimit  int
	batchOutput string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run comparable analysis for subjects from a CSV file",
	Long: `Reads subjects from a CSV with header columns: id, lat, lon and
optional beds, baths, cars, land_area. Runs the pipeline for each subject
over a bounded worker pool; identical requests share one upstream fetch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		subjects, err := parseSubjectsCSV(batchCSV)
		if err != nil {
			return err
		}
		if batchLimit > 0 && len(subjects) > batchLimit {
			subjects = subjects[:batchLimit]
		}
		if len(subjects) == 0 {
			return eris.New("batch: no subjects in csv")
		}

		jobs := make([]etl.Job, len(subjects))
		for i, s := range subjects {
			jobs[i] = etl.Job{
				Subject: s,
				Request: model.SearchRequest{
					Center:       s.Location,
					RadiusMeters: batchRadius,
				},
			}
		}

		runner := etl.NewRunner(env.Orchestrator, cfg.Pool.Workers)
		results, err := runner.RunAll(ctx, jobs)
		if err != nil {
			return eris.Wrap(err, "batch")
		}

		var succeeded, partial, failed int
		for _, res := range results {
			switch {
			case res.Err == nil:
				succeeded++
			case res.Artifact != nil && res.Artifact.Meta.Status == model.RunStatusPartial:
				partial++
			default:
				failed++
			}
		}
		zap.L().Info("batch complete",
			zap.Int("subjects", len(results)),
			zap.Int("succeeded", succeeded),
			zap.Int("partial", partial),
			zap.Int("failed", failed),
		)

		return writeBatchResults(results, batchOutput)
	},
}

// parseSubjectsCSV reads subject rows. Unknown columns become subject
// attributes when they parse as numbers.
func parseSubjectsCSV(path string) ([]etl.Subject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: open csv")
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "batch: read csv header")
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"lat", "lon"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("batch: csv missing %q column", required)
		}
	}

	var subjects []etl.Subject
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "batch: read csv row")
		}

		lat, err := strconv.ParseFloat(row[col["lat"]], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "batch: row %d lat", len(subjects)+1)
		}
		lon, err := strconv.ParseFloat(row[col["lon"]], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "batch: row %d lon", len(subjects)+1)
		}

		s := etl.Subject{Location: model.Location{Lat: lat, Lon: lon}}
		attrs := make(map[string]any)
		for name, i := range col {
			if name == "lat" || name == "lon" || i >= len(row) || row[i] == "" {
				continue
			}
			if name == "id" {
				s.ID = row[i]
				continue
			}
			if v, err := strconv.ParseFloat(row[i], 64); err == nil {
				attrs[name] = v
			} else {
				attrs[name] = row[i]
			}
		}
		if len(attrs) > 0 {
			s.Attributes = attrs
		}
		subjects = append(subjects, s)
	}
	return subjects, nil
}

func writeBatchResults(results []etl.JobResult, path string) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrap(err, "batch: create output")
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	type row struct {
		Subject  etl.Subject        `json:"subject"`
		Artifact *model.RunArtifact `json:"artifact,omitempty"`
		Error    string             `json:"error,omitempty"`
	}
	rows := make([]row, len(results))
	for i, res := range results {
		rows[i] = row{Subject: res.Job.Subject, Artifact: res.Artifact}
		if res.Err != nil {
			rows[i].Error = res.Err.Error()
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func init() {
	batchCmd.Flags().StringVar(&batchCSV, "csv", "", "subjects CSV path (required)")
	batchCmd.Flags().Float64Var(&batchRadius, "radius", 5000, "search radius in meters")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max subjects to process (0 = all)")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "write results JSON to file instead of stdout")
	_ = batchCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(batchCmd)
}
