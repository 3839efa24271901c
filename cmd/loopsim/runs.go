package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/loopsim/internal/config"
	"github.com/san-kum/loopsim/internal/control"
	"github.com/san-kum/loopsim/internal/metrics"
	"github.com/san-kum/loopsim/internal/optim"
	"github.com/san-kum/loopsim/internal/sim"
	"github.com/san-kum/loopsim/internal/storage"
	"github.com/san-kum/loopsim/internal/tuninglog"
)

var (
	sweepKp     []float64
	sweepTi     []float64
	sweepTd     []float64
	sweepScore  string
	tuningLimit int
	tuningBest  bool
	outFile     string
)

// storeFor resolves the storage directory from the config and --data.
func storeFor(cmd *cobra.Command) (*storage.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return storage.New(cfg.Storage.Dir), nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st, err := storeFor(cmd)
	if err != nil {
		return err
	}
	runs, err := st.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tCTRL\tSTEPS\tSTATE\tSP\tIAE")
	for _, run := range runs {
		iae := "-"
		if v, ok := run.Metrics["iae"]; ok {
			iae = strconv.FormatFloat(v, 'f', 1, 64)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%.1f\t%s\n",
			run.ID,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Controller,
			run.Steps,
			run.State,
			run.Setpoint,
			iae,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	st, err := storeFor(cmd)
	if err != nil {
		return err
	}
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	h, err := st.LoadHistory(runID)
	if err != nil {
		return err
	}
	if h.Len() < 2 {
		return fmt.Errorf("no data to plot")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run: %s\n", meta.ID)
	fmt.Fprintf(out, "controller: %s\n", meta.Controller)
	fmt.Fprintf(out, "samples: %d\n\n", h.Len())

	fmt.Fprintln(out, asciigraph.PlotMany([][]float64{h.Values, h.Setpoints},
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.SeriesColors(asciigraph.Green, asciigraph.Yellow),
		asciigraph.Caption("process value / setpoint"),
	))
	fmt.Fprintln(out)
	fmt.Fprintln(out, asciigraph.Plot(h.Outputs,
		asciigraph.Height(6),
		asciigraph.Width(80),
		asciigraph.Caption("controller output (%)"),
	))
	return nil
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st, err := storeFor(cmd)
	if err != nil {
		return err
	}
	h, err := st.LoadHistory(args[0])
	if err != nil {
		return err
	}
	if outFile == "" {
		return storage.WriteCSV(cmd.OutOrStdout(), h)
	}

	f, err := os.Create(outFile)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := storage.WriteCSV(f, h); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "exported %d rows to %s\n", h.Len(), outFile)
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st, err := storeFor(cmd)
	if err != nil {
		return err
	}
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	h, err := st.LoadHistory(args[0])
	if err != nil {
		return err
	}
	if outFile == "" {
		return storage.ExportStored(cmd.OutOrStdout(), meta, h)
	}

	f, err := os.Create(outFile)
	if err != nil {
		return err
	}
	defer f.Close()
	return storage.ExportStored(f, meta, h)
}

func showTuning(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	tl, err := openTuning(cfg)
	if err != nil {
		return err
	}
	defer tl.Close()

	var records []tuninglog.Record
	if tuningBest {
		best, err := tl.Best(cmd.Context())
		if err != nil {
			return err
		}
		if best != nil {
			records = append(records, *best)
		}
	} else {
		records, err = tl.List(cmd.Context(), tuningLimit)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "no tuning records")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tLABEL\tCTRL\tKP\tTI\tTD\tOVERSHOOT\tSETTLING\tIAE")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.3g\t%.3g\t%.3g\t%s\t%s\t%s\n",
			r.ID,
			r.RecordedAt.Format("2006-01-02 15:04:05"),
			r.Label,
			r.Controller,
			r.Kp, r.Ti, r.Td,
			optional(r.Overshoot),
			optional(r.SettlingTime),
			optional(r.IAE),
		)
	}
	return w.Flush()
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// sweepGrid builds the grid from the gain flags; an empty list leaves that
// gain at its configured value.
func sweepGrid(kps, tis, tds []float64) (*optim.GridSearch, error) {
	var names []string
	var ranges [][]float64
	for _, axis := range []struct {
		name   string
		values []float64
	}{{"kp", kps}, {"ti", tis}, {"td", tds}} {
		if len(axis.values) > 0 {
			names = append(names, axis.name)
			ranges = append(ranges, axis.values)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("sweep needs at least one of --kps, --tis, --tds")
	}
	return optim.NewGridSearch(names, ranges)
}

var sweepScores = map[string]optim.Score{
	"iae":       optim.ByIAE,
	"overshoot": func(p metrics.Performance) float64 { return p.Overshoot },
	"settling":  func(p metrics.Performance) float64 { return p.SettlingTime },
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	base, err := cfg.Engine()
	if err != nil {
		return err
	}
	if base.Controller.Variant != control.VariantPID {
		return fmt.Errorf("sweep needs a pid controller, got %s", base.Controller.Variant)
	}
	score, ok := sweepScores[sweepScore]
	if !ok {
		return fmt.Errorf("unknown score %q (iae, overshoot, settling)", sweepScore)
	}
	grid, err := sweepGrid(sweepKp, sweepTi, sweepTd)
	if err != nil {
		return err
	}

	res, err := grid.Search(cmd.Context(), base, score, sim.WithSeed(cfg.Seed))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KP\tTI\tTD\tSTATE\tSTEPS\tOVERSHOOT\tSETTLING\tIAE")
	for _, tr := range res.Trials {
		r := tr.Result
		m := storage.MetricsMap(r.Metrics)
		fmt.Fprintf(w, "%.3g\t%.3g\t%.3g\t%s\t%d\t%s\t%s\t%s\n",
			r.Config.Controller.Kp,
			r.Config.Controller.Ti,
			r.Config.Controller.Td,
			r.State,
			r.Steps,
			metricCell(m, "overshoot"),
			metricCell(m, "settling_time"),
			metricCell(m, "iae"),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if res.Best >= 0 {
		best := res.Trials[res.Best].Result.Config.Controller
		fmt.Fprintf(out, "\nbest by %s: kp=%.3g ti=%.3g td=%.3g\n", sweepScore, best.Kp, best.Ti, best.Td)
	} else {
		fmt.Fprintln(out, "\nno run produced metrics")
	}
	return recordSweep(cmd.Context(), cfg, res.Trials)
}

func metricCell(m map[string]float64, name string) string {
	v, ok := m[name]
	if !ok {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func recordSweep(ctx context.Context, cfg *config.Config, trials []optim.Trial) error {
	if noSave || cfg.Storage.TuningDB == "" {
		return nil
	}
	tl, err := openTuning(cfg)
	if err != nil {
		return err
	}
	defer tl.Close()
	for _, tr := range trials {
		r := tr.Result
		if r.Err != nil {
			continue
		}
		if _, err := tl.Add(ctx, "sweep", r.Config, r.Steps, r.Metrics); err != nil {
			return err
		}
	}
	return nil
}
