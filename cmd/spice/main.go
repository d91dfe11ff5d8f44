package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/edp1096/spicecore/internal/logging"
	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/config"
	"github.com/edp1096/spicecore/pkg/metrics"
	"github.com/edp1096/spicecore/pkg/netlist"
	"github.com/edp1096/spicecore/pkg/util"
	"github.com/edp1096/spicecore/pkg/waveform"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("spice", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spice [flags] design.yaml\n\nFlags:\n")
		fs.PrintDefaults()
	}

	fs.String("config", "", "options yaml file")
	fs.String("log-level", "info", "log level (error, info, debug, trace)")
	fs.String("metrics-file", "", "write solver metrics in Prometheus text format")
	fs.String("plot", "", "render traces to this PNG file")
	fs.StringSlice("trace", nil, "unknowns to plot, e.g. V(out),I(V1)")

	d := config.Defaults()
	fs.Float64("abstol_v", d.AbsTolV, "absolute voltage tolerance (V)")
	fs.Float64("reltol", d.RelTol, "relative tolerance")
	fs.Float64("abstol_i", d.AbsTolI, "absolute current tolerance (A)")
	fs.Float64("abstol_q", d.AbsTolQ, "absolute charge tolerance (C)")
	fs.Float64("gmin", d.Gmin, "junction conductance (S)")
	fs.Int("max_newton_iterations", d.MaxNewtonIterations, "Newton iterations per DC solve")
	fs.Int("max_tran_iterations", d.MaxTranIterations, "Newton iterations per time point")
	fs.Int("max_gmin_steps", d.MaxGminSteps, "gmin stepping steps, 0 disables")
	fs.Int("max_source_steps", d.MaxSourceSteps, "source stepping steps, 0 disables")
	fs.Float64("min_step", d.MinStep, "smallest time step (s)")
	fs.Float64("max_step", d.MaxStep, "largest time step (s), 0 for (stop-start)/50")
	fs.Float64("lte_tolerance", d.LTETolerance, "truncation error tolerance multiplier")
	fs.Int("max_time_steps", d.MaxTimeSteps, "accepted time step budget")
	fs.Float64("temperature", d.Temperature, "circuit temperature (K)")
	return fs
}

// loadOptions layers the options file under SPICE_* environment variables
// and explicitly set flags.
func loadOptions(v *viper.Viper) (config.Options, error) {
	base := config.Defaults()
	if path := v.GetString("config"); path != "" {
		var err error
		if base, err = config.Load(path); err != nil {
			return config.Options{}, err
		}
	}

	raw, err := yaml.Marshal(base)
	if err != nil {
		return config.Options{}, err
	}
	var defaults map[string]any
	if err := yaml.Unmarshal(raw, &defaults); err != nil {
		return config.Options{}, err
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var opts config.Options
	if err := v.Unmarshal(&opts); err != nil {
		return config.Options{}, fmt.Errorf("reading options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return config.Options{}, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}

func run(args []string) error {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected one design file, got %d arguments", fs.NArg())
	}

	v := viper.New()
	v.SetEnvPrefix("SPICE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return err
	}

	log, err := logging.NewLogger(v.GetString("log-level"), false)
	if err != nil {
		return err
	}
	opts, err := loadOptions(v)
	if err != nil {
		return err
	}

	data, err := netlist.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	ckt, err := netlist.BuildCircuit(data)
	if err != nil {
		return err
	}
	log.Info("loaded design", "title", data.Title, "elements", len(data.Elements), "analysis", data.Analysis.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	collector := metrics.NewCollector("spice")
	anOpts := []analysis.Option{
		analysis.WithOptions(opts),
		analysis.WithLogger(log),
		analysis.WithObserver(collector),
	}

	analyzer, xKey, err := newAnalyzer(data, anOpts)
	if err != nil {
		return err
	}
	if err := analyzer.Setup(ckt); err != nil {
		return fmt.Errorf("analysis setup failed: %w", err)
	}
	runErr := analyzer.Execute(ctx)
	report(log, analyzer)

	results := analyzer.GetResults()
	util.WriteResults(os.Stdout, results)

	if path := v.GetString("metrics-file"); path != "" {
		if err := collector.WriteFile(path); err != nil {
			return err
		}
	}
	if path := v.GetString("plot"); path != "" && xKey != "" {
		traces, err := waveform.FromResults(results, xKey, v.GetStringSlice("trace")...)
		if err != nil {
			return err
		}
		if err := waveform.SavePNG(path, traces, waveform.Options{Title: data.Title, XLabel: xKey}); err != nil {
			return err
		}
	}
	return runErr
}

// newAnalyzer also returns the result series to plot against, empty for an
// operating point.
func newAnalyzer(data *netlist.NetlistData, opts []analysis.Option) (analysis.Analysis, string, error) {
	switch data.Analysis {
	case netlist.AnalysisTRAN:
		p := data.TranParam
		cfg := analysis.StepConfig{Step: p.TStep, MaxStep: p.TMax, UseInitialConditions: p.UIC}
		return analysis.NewTransient(p.TStart, p.TStop, cfg, opts...), "TIME", nil
	case netlist.AnalysisDC:
		p := data.DCParam
		dc, err := analysis.NewDCSweep(p.Sources, p.Starts, p.Stops, p.Increments, opts...)
		if err != nil {
			return nil, "", err
		}
		return dc, "SWEEP1", nil
	default:
		return analysis.NewOP(opts...), "", nil
	}
}

func report(log logr.Logger, analyzer analysis.Analysis) {
	switch a := analyzer.(type) {
	case *analysis.OperatingPoint:
		if res := a.Result(); res != nil {
			log.Info("operating point", "strategy", res.Strategy.String(), "iterations", res.Iterations,
				"residual", res.ResidualNorm, "gminSteps", res.GminSteps, "sourceSteps", res.SourceSteps)
		}
	case *analysis.Transient:
		if res := a.Result(); res != nil {
			log.Info("transient", "accepted", res.Accepted, "rejected", res.Rejected,
				"newtonFailures", res.NewtonFailures, "iterations", res.Iterations)
		}
	case *analysis.DCSweep:
		log.Info("dc sweep", "points", len(a.Points()))
	}
}
