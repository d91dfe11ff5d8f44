package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Options holds the numerical tolerances and limits of every analysis.
// Keys match the yaml file format and the CLI flags.
type Options struct {
	// AbsTolV is the absolute voltage tolerance (V).
	AbsTolV float64 `yaml:"abstol_v" mapstructure:"abstol_v"`
	// RelTol is the relative tolerance applied to every unknown.
	RelTol float64 `yaml:"reltol" mapstructure:"reltol"`
	// AbsTolI is the absolute current tolerance (A), also the KCL residual bound.
	AbsTolI float64 `yaml:"abstol_i" mapstructure:"abstol_i"`
	// AbsTolQ is the absolute charge tolerance (C) used by the LTE test.
	AbsTolQ float64 `yaml:"abstol_q" mapstructure:"abstol_q"`
	// Gmin is the junction shunt conductance and the final gmin stepping target (S).
	Gmin float64 `yaml:"gmin" mapstructure:"gmin"`

	MaxNewtonIterations int `yaml:"max_newton_iterations" mapstructure:"max_newton_iterations"`
	MaxTranIterations   int `yaml:"max_tran_iterations" mapstructure:"max_tran_iterations"`
	// MaxGminSteps and MaxSourceSteps disable their aid when zero.
	MaxGminSteps   int `yaml:"max_gmin_steps" mapstructure:"max_gmin_steps"`
	MaxSourceSteps int `yaml:"max_source_steps" mapstructure:"max_source_steps"`

	// MinStep and MaxStep bound the transient step (s). MaxStep of zero means
	// (stop-start)/50.
	MinStep float64 `yaml:"min_step" mapstructure:"min_step"`
	MaxStep float64 `yaml:"max_step" mapstructure:"max_step"`
	// LTETolerance scales the truncation error budget (SPICE trtol).
	LTETolerance float64 `yaml:"lte_tolerance" mapstructure:"lte_tolerance"`
	MaxTimeSteps int     `yaml:"max_time_steps" mapstructure:"max_time_steps"`

	// Temperature of the circuit (K).
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// Defaults returns the documented default options.
func Defaults() Options {
	return Options{
		AbsTolV:             1e-6,
		RelTol:              1e-3,
		AbsTolI:             1e-12,
		AbsTolQ:             1e-14,
		Gmin:                1e-12,
		MaxNewtonIterations: 100,
		MaxTranIterations:   20,
		MaxGminSteps:        10,
		MaxSourceSteps:      10,
		MinStep:             1e-14,
		MaxStep:             0,
		LTETolerance:        7,
		MaxTimeSteps:        1000000,
		Temperature:         300.15,
	}
}

// Validate checks for invalid option values.
func (o *Options) Validate() error {
	var errs []error
	positive := []struct {
		name  string
		value float64
	}{
		{"abstol_v", o.AbsTolV},
		{"reltol", o.RelTol},
		{"abstol_i", o.AbsTolI},
		{"abstol_q", o.AbsTolQ},
		{"min_step", o.MinStep},
		{"lte_tolerance", o.LTETolerance},
		{"temperature", o.Temperature},
	}
	for _, p := range positive {
		if !(p.value > 0) {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %g", p.name, p.value))
		}
	}
	if o.RelTol >= 1 {
		errs = append(errs, fmt.Errorf("reltol must be < 1, got %g", o.RelTol))
	}
	if o.Gmin < 0 {
		errs = append(errs, fmt.Errorf("gmin must be >= 0, got %g", o.Gmin))
	}
	if o.MaxNewtonIterations < 1 {
		errs = append(errs, fmt.Errorf("max_newton_iterations must be >= 1, got %d", o.MaxNewtonIterations))
	}
	if o.MaxTranIterations < 1 {
		errs = append(errs, fmt.Errorf("max_tran_iterations must be >= 1, got %d", o.MaxTranIterations))
	}
	if o.MaxGminSteps < 0 {
		errs = append(errs, fmt.Errorf("max_gmin_steps must be >= 0, got %d", o.MaxGminSteps))
	}
	if o.MaxSourceSteps < 0 {
		errs = append(errs, fmt.Errorf("max_source_steps must be >= 0, got %d", o.MaxSourceSteps))
	}
	if o.MaxStep < 0 {
		errs = append(errs, fmt.Errorf("max_step must be >= 0, got %g", o.MaxStep))
	}
	if o.MaxStep > 0 && o.MaxStep < o.MinStep {
		errs = append(errs, fmt.Errorf("max_step (%g) must be >= min_step (%g)", o.MaxStep, o.MinStep))
	}
	if o.MaxTimeSteps < 1 {
		errs = append(errs, fmt.Errorf("max_time_steps must be >= 1, got %d", o.MaxTimeSteps))
	}
	return errors.Join(errs...)
}

// Decode overlays the yaml document in r onto the defaults. Keys absent
// from the document keep their default; unknown keys are an error.
func Decode(r io.Reader) (Options, error) {
	opts := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("decoding options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}

// Load reads options from a yaml file.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("reading options file: %w", err)
	}
	return Decode(bytes.NewReader(data))
}
