// Package netlist turns resolved element records into a circuit. Records
// come from a parser collaborator or from a yaml design file; values are
// plain numbers, unit suffixes are resolved before they get here.
package netlist

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/edp1096/spicecore/pkg/device"
)

type AnalysisType int

const (
	AnalysisOP AnalysisType = iota
	AnalysisTRAN
	AnalysisDC
)

func (a AnalysisType) String() string {
	switch a {
	case AnalysisTRAN:
		return "tran"
	case AnalysisDC:
		return "dc"
	default:
		return "op"
	}
}

// ParseAnalysisType accepts op, tran and dc in any case, with or without
// the leading dot.
func ParseAnalysisType(s string) (AnalysisType, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "op":
		return AnalysisOP, nil
	case "tran":
		return AnalysisTRAN, nil
	case "dc":
		return AnalysisDC, nil
	}
	return AnalysisOP, fmt.Errorf("unsupported analysis type: %s", s)
}

func (a *AnalysisType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	t, err := ParseAnalysisType(s)
	if err != nil {
		return err
	}
	*a = t
	return nil
}

func (a AnalysisType) MarshalYAML() (any, error) { return a.String(), nil }

type NetlistData struct {
	Title     string                       `yaml:"title"`
	Elements  []Element                    `yaml:"elements"`
	Models    map[string]device.ModelParam `yaml:"-"`
	ModelDefs []Model                      `yaml:"models"`
	Analysis  AnalysisType                 `yaml:"analysis"`
	TranParam TranParam                    `yaml:"tran"`
	DCParam   DCParam                      `yaml:"dc"`
}

type TranParam struct {
	TStep  float64 `yaml:"tstep"`
	TStop  float64 `yaml:"tstop"`
	TStart float64 `yaml:"tstart"`
	TMax   float64 `yaml:"tmax"`
	UIC    bool    `yaml:"uic"`
}

// DCParam sweeps one source, or two with the second nested inside the first.
type DCParam struct {
	Sources    []string  `yaml:"sources"`
	Starts     []float64 `yaml:"starts"`
	Stops      []float64 `yaml:"stops"`
	Increments []float64 `yaml:"increments"`
}

type Model struct {
	Name   string             `yaml:"name"`
	Type   string             `yaml:"type"` // D, NPN, PNP, NMOS, PMOS
	Params map[string]float64 `yaml:"params"`
}

// Element is one resolved circuit element.
type Element struct {
	Type      string             `yaml:"type"` // R, C, L, K, V, I, E, G, D, Q, M
	Name      string             `yaml:"name"`
	Nodes     []string           `yaml:"nodes"`
	Value     float64            `yaml:"value"`
	Model     string             `yaml:"model,omitempty"`
	Params    map[string]float64 `yaml:"params,omitempty"`
	Source    *Source            `yaml:"source,omitempty"`
	Inductors []string           `yaml:"inductors,omitempty"` // K only
}

// Source is the waveform of an independent source. Args follow the SPICE
// order: SIN offset amplitude freq [phase], PULSE v1 v2 delay rise fall
// width period, PWL t1 v1 t2 v2 ...
type Source struct {
	Type string    `yaml:"type"`
	Args []float64 `yaml:"args"`
}

// Decode reads a yaml design. Unknown keys are an error.
func Decode(r io.Reader) (*NetlistData, error) {
	data := &NetlistData{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(data); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding design: %w", err)
	}

	models, err := Models(data.ModelDefs)
	if err != nil {
		return nil, err
	}
	data.Models = models
	for i := range data.Elements {
		elem := &data.Elements[i]
		if elem.Type == "" && elem.Name != "" {
			elem.Type = string(elem.Name[0])
		}
		elem.Type = strings.ToUpper(elem.Type)
	}
	return data, nil
}

// Load reads a yaml design file.
func Load(path string) (*NetlistData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading design file: %w", err)
	}
	return Decode(bytes.NewReader(raw))
}

// Models indexes model definitions by name.
func Models(defs []Model) (map[string]device.ModelParam, error) {
	models := make(map[string]device.ModelParam, len(defs))
	for _, m := range defs {
		if m.Name == "" {
			return nil, fmt.Errorf("model without a name")
		}
		if _, dup := models[m.Name]; dup {
			return nil, fmt.Errorf("duplicate model %s", m.Name)
		}
		models[m.Name] = modelParam(m)
	}
	return models, nil
}

// modelParam folds the model type into the parameters the way the device
// constructors expect it: type=1 selects PNP or PMOS.
func modelParam(m Model) device.ModelParam {
	typ := strings.ToUpper(m.Type)
	params := make(map[string]float64, len(m.Params)+1)
	for k, v := range m.Params {
		params[strings.ToLower(k)] = v
	}
	switch typ {
	case "PNP", "PMOS":
		params["type"] = 1
	case "NPN", "NMOS":
		params["type"] = 0
	}
	return device.ModelParam{Type: typ, Name: m.Name, Params: params}
}
