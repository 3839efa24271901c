package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/san-kum/loopsim/internal/automation"
	"github.com/san-kum/loopsim/internal/config"
	"github.com/san-kum/loopsim/internal/logging"
	"github.com/san-kum/loopsim/internal/sim"
	"github.com/san-kum/loopsim/internal/storage"
	"github.com/san-kum/loopsim/internal/telemetry"
	"github.com/san-kum/loopsim/internal/tuninglog"
	"github.com/san-kum/loopsim/internal/viz"
)

var (
	configFile  string
	preset      string
	dataDir     string
	logLevel    string
	logFormat   string
	metricsAddr string

	controller string
	kp         float64
	ti         float64
	td         float64
	setpoint   float64
	manualOut  float64
	deadTime   float64
	noiseStd   float64
	maxSteps   int
	seed       int64

	label         string
	scenarioLabel string
	noSave        bool
	keepRunning   bool
	interval      time.Duration

	tickMillis int
	window     int
	theme      string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "loopsim",
		Short:        "process control loop simulator",
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&preset, "preset", "", "start from a named preset")
	pf.StringVar(&dataDir, "data", "runs", "run storage directory")
	pf.StringVar(&logLevel, "log-level", "info", "log level")
	pf.StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the loop headless and store the result",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	addLoopFlags(runCmd)
	runCmd.Flags().StringVar(&label, "label", "run", "run name")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	runCmd.Flags().BoolVar(&keepRunning, "continue", false, "resume after convergence until max steps")
	runCmd.Flags().DurationVar(&interval, "interval", 0, "wall-clock time per step (0 runs flat out)")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "interactive terminal view",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	addLoopFlags(liveCmd)
	liveCmd.Flags().IntVar(&tickMillis, "tick-ms", config.DefaultTickMillis, "milliseconds per step")
	liveCmd.Flags().IntVar(&window, "window", config.DefaultWindow, "samples shown in window mode")
	liveCmd.Flags().StringVar(&theme, "theme", "classic", "color theme")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "run a grid of PID gains concurrently",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	addLoopFlags(sweepCmd)
	sweepCmd.Flags().Float64SliceVar(&sweepKp, "kps", []float64{1, 2, 3}, "proportional gains")
	sweepCmd.Flags().Float64SliceVar(&sweepTi, "tis", []float64{5, 10, 20}, "integral times")
	sweepCmd.Flags().Float64SliceVar(&sweepTd, "tds", nil, "derivative times")
	sweepCmd.Flags().StringVar(&sweepScore, "score", "iae", "ranking metric (iae, overshoot, settling)")
	sweepCmd.Flags().BoolVar(&noSave, "no-save", false, "do not record results in the tuning log")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "play a scripted scenario",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	scenarioCmd.Flags().StringVar(&scenarioLabel, "label", "", "run name (defaults to the scenario name)")
	scenarioCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run history to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&outFile, "output", "o", "", "write to file instead of stdout")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run history to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outFile, "output", "o", "", "write to file instead of stdout")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "presets:")
			for _, p := range config.ListPresets() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", p)
			}
			return nil
		},
	}

	tuningCmd := &cobra.Command{
		Use:   "tuning",
		Short: "show recorded tuning attempts",
		RunE:  showTuning,
	}
	tuningCmd.Flags().IntVar(&tuningLimit, "limit", 20, "rows to show")
	tuningCmd.Flags().BoolVar(&tuningBest, "best", false, "show only the lowest IAE")

	rootCmd.AddCommand(runCmd, liveCmd, sweepCmd, scenarioCmd, listCmd, plotCmd,
		exportCSVCmd, exportJSONCmd, presetsCmd, tuningCmd)
	return rootCmd
}

func addLoopFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&controller, "controller", "pid", "controller (pid, onoff, manual)")
	f.Float64Var(&kp, "kp", config.DefaultKp, "proportional gain")
	f.Float64Var(&ti, "ti", config.DefaultTi, "integral time (0 disables)")
	f.Float64Var(&td, "td", config.DefaultTd, "derivative time")
	f.Float64Var(&setpoint, "setpoint", config.DefaultSetpoint, "setpoint")
	f.Float64Var(&manualOut, "manual", 0, "manual output percent")
	f.Float64Var(&deadTime, "dead-time", config.DefaultDeadTime, "process dead time")
	f.Float64Var(&noiseStd, "noise", 0, "measurement noise standard deviation")
	f.IntVar(&maxSteps, "steps", config.DefaultMaxSteps, "maximum steps")
	f.Int64Var(&seed, "seed", 1, "noise seed")
}

// loadConfig layers defaults, preset, config file and changed flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.LoadOver(configFile, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("controller") {
		cfg.Controller.Type = controller
	}
	if f.Changed("kp") {
		cfg.Controller.Kp = kp
	}
	if f.Changed("ti") {
		cfg.Controller.Ti = ti
	}
	if f.Changed("td") {
		cfg.Controller.Td = td
	}
	if f.Changed("setpoint") {
		cfg.Setpoint = setpoint
	}
	if f.Changed("manual") {
		cfg.Controller.ManualOutput = manualOut
	}
	if f.Changed("dead-time") {
		cfg.Process.DeadTime = deadTime
	}
	if f.Changed("noise") {
		cfg.Disturbance.NoiseStd = noiseStd
	}
	if f.Changed("steps") {
		cfg.MaxSteps = maxSteps
	}
	if f.Changed("seed") {
		cfg.Seed = seed
	}
	if f.Changed("data") {
		cfg.Storage.Dir = dataDir
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if f.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if f.Changed("metrics-addr") {
		cfg.Live.MetricsAddr = metricsAddr
	}
	if f.Changed("tick-ms") {
		cfg.Live.TickMillis = tickMillis
	}
	if f.Changed("window") {
		cfg.Live.Window = window
	}
}

// openTuning opens the tuning log. A relative path lives inside the
// storage directory.
func openTuning(cfg *config.Config) (*tuninglog.Log, error) {
	path := cfg.Storage.TuningDB
	if !filepath.IsAbs(path) {
		if err := os.MkdirAll(cfg.Storage.Dir, 0755); err != nil {
			return nil, err
		}
		path = filepath.Join(cfg.Storage.Dir, path)
	}
	return tuninglog.Open(path)
}

// startMetrics serves a fresh registry on addr. With no address it returns
// a no-op collector.
func startMetrics(addr string, logger zerolog.Logger) (telemetry.Collector, func(), error) {
	if addr == "" {
		return telemetry.Noop(), func() {}, nil
	}
	reg := prometheus.NewRegistry()
	collector, err := telemetry.NewPrometheusCollector(reg)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return collector, stop, nil
}

// newEngine builds the logger, metrics endpoint and engine for cfg.
func newEngine(cfg *config.Config, logOut io.Writer) (*sim.Engine, zerolog.Logger, func(), error) {
	logger, err := logging.Setup(logOut, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, logger, nil, err
	}
	collector, stop, err := startMetrics(cfg.Live.MetricsAddr, logger)
	if err != nil {
		return nil, logger, nil, err
	}
	ec, err := cfg.Engine()
	if err != nil {
		stop()
		return nil, logger, nil, err
	}
	e, err := sim.New(ec, sim.WithLogger(logger), sim.WithCollector(collector), sim.WithSeed(cfg.Seed))
	if err != nil {
		stop()
		return nil, logger, nil, err
	}
	return e, logger, stop, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, logger, stop, err := newEngine(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []automation.RunnerOption{automation.WithInterval(interval), automation.WithLogger(logger)}
	if keepRunning {
		opts = append(opts, automation.ResumeWhen(func(s sim.State) bool { return s == sim.AutoPaused }))
	}

	start := time.Now()
	runErr := automation.NewRunner(e, opts...).Run(ctx)
	if err := outcome(runErr); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "completed in %v\n", time.Since(start).Round(time.Millisecond))
	printSummary(out, e)
	if err := persist(cmd.Context(), cfg, label, e, logger, out); err != nil {
		return err
	}
	return faultOf(runErr)
}

// outcome treats a divergence or an interrupt as a finished run worth
// reporting; anything else is an error.
func outcome(err error) error {
	var fault *sim.FaultError
	switch {
	case err == nil, errors.As(err, &fault), errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// faultOf returns err when it is a divergence fault so a diverged run
// still exits non-zero after it has been reported and stored.
func faultOf(err error) error {
	var fault *sim.FaultError
	if errors.As(err, &fault) {
		return err
	}
	return nil
}

func printSummary(w io.Writer, e *sim.Engine) {
	clock := e.Clock()
	fmt.Fprintf(w, "state: %s\n", e.State())
	fmt.Fprintf(w, "steps: %d (t=%.1f)\n", clock.Step, clock.Time())
	if fault := e.Fault(); fault != nil {
		fmt.Fprintf(w, "fault: %v\n", fault)
	}
	if last, ok := e.History().Last(); ok {
		fmt.Fprintf(w, "final value: %.3f (setpoint %.3f)\n", last.Value, last.Setpoint)
	}
	fmt.Fprintln(w, "\nmetrics:")
	m := storage.MetricsMap(e.Metrics())
	if len(m) == 0 {
		fmt.Fprintln(w, "  not enough samples")
	}
	for _, name := range metricNames {
		if v, ok := m[name]; ok {
			fmt.Fprintf(w, "  %s: %.4f\n", name, v)
		}
	}
}

var metricNames = []string{"overshoot", "overshoot_pct", "rise_time", "settling_time", "steady_state_error", "control_effort", "iae"}

// persist stores the run and records its metrics in the tuning log.
func persist(ctx context.Context, cfg *config.Config, name string, e *sim.Engine, logger zerolog.Logger, out io.Writer) error {
	if noSave {
		return nil
	}
	st := storage.New(cfg.Storage.Dir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(storage.Run{
		Name:    name,
		Seed:    cfg.Seed,
		Config:  e.Config(),
		State:   e.State(),
		History: e.History(),
		Metrics: e.Metrics(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nrun id: %s\n", runID)

	if cfg.Storage.TuningDB == "" {
		return nil
	}
	tl, err := openTuning(cfg)
	if err != nil {
		return err
	}
	defer tl.Close()
	if _, err := tl.Add(ctx, name, e.Config(), e.Clock().Step, e.Metrics()); err != nil {
		return err
	}
	logger.Debug().Str("run", runID).Msg("recorded in tuning log")
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// the terminal belongs to the view, so logs go nowhere
	e, _, stop, err := newEngine(cfg, io.Discard)
	if err != nil {
		return err
	}
	defer stop()

	return viz.Run(e, viz.Options{
		Interval:       time.Duration(cfg.Live.TickMillis) * time.Millisecond,
		Window:         cfg.Live.Window,
		PulseMagnitude: cfg.Disturbance.PulseMagnitude,
		PulseSteps:     cfg.Disturbance.PulseSteps,
		Theme:          theme,
	})
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	base, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := sc.BaseConfig(base)
	// a scenario preset picks the loop, not where output goes
	cfg.Logging, cfg.Storage, cfg.Live = base.Logging, base.Storage, base.Live
	if err := cfg.Validate(); err != nil {
		return err
	}
	e, logger, stop, err := newEngine(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, runErr := sc.Run(ctx, e, automation.WithLogger(logger))
	if err := outcome(runErr); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "scenario: %s\n", report.Name)
	for _, ev := range report.Applied {
		fmt.Fprintf(out, "  event for step %d applied at step %d\n", ev.Event.At, ev.Step)
	}
	if report.Skipped > 0 {
		fmt.Fprintf(out, "  %d events never reached\n", report.Skipped)
	}
	printSummary(out, e)

	name := scenarioLabel
	if name == "" {
		name = sc.Name
	}
	if err := persist(cmd.Context(), cfg, name, e, logger, out); err != nil {
		return err
	}
	return faultOf(runErr)
}
