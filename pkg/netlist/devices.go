package netlist

import (
	"fmt"
	"strings"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
)

// BuildCircuit creates every element of the design and adds it to a new
// circuit. The circuit is not built.
func BuildCircuit(data *NetlistData) (*circuit.Circuit, error) {
	ckt := circuit.New(data.Title)
	for _, elem := range data.Elements {
		dev, err := CreateDevice(elem, data.Models)
		if err != nil {
			return nil, err
		}
		ckt.Add(dev)
	}
	return ckt, nil
}

func CreateDevice(elem Element, models map[string]device.ModelParam) (device.Device, error) {
	switch strings.ToUpper(elem.Type) {
	case "R":
		r := device.NewResistor(elem.Name, elem.Nodes, elem.Value)
		if len(elem.Params) > 0 {
			r.SetModelParameters(elem.Params)
		}
		return r, nil

	case "C":
		return device.NewCapacitor(elem.Name, elem.Nodes, elem.Value), nil

	case "L":
		return device.NewInductor(elem.Name, elem.Nodes, elem.Value), nil

	case "K":
		if len(elem.Inductors) != 2 {
			return nil, fmt.Errorf("mutual coupling %s requires two inductors", elem.Name)
		}
		return device.NewMutual(elem.Name, elem.Inductors, elem.Value), nil

	case "E":
		return device.NewVCVS(elem.Name, elem.Nodes, elem.Value), nil

	case "G":
		return device.NewVCCS(elem.Name, elem.Nodes, elem.Value), nil

	case "V":
		wave, err := waveform(elem)
		if err != nil {
			return nil, err
		}
		return device.NewVoltageSource(elem.Name, elem.Nodes, wave), nil

	case "I":
		wave, err := waveform(elem)
		if err != nil {
			return nil, err
		}
		return device.NewCurrentSource(elem.Name, elem.Nodes, wave), nil

	case "D":
		d := device.NewDiode(elem.Name, elem.Nodes)
		params, err := modelParams(elem, models, "D")
		if err != nil {
			return nil, err
		}
		d.SetModelParameters(params)
		return d, nil

	case "Q":
		q := device.NewBJT(elem.Name, elem.Nodes)
		params, err := modelParams(elem, models, "NPN", "PNP")
		if err != nil {
			return nil, err
		}
		q.SetModelParameters(params)
		return q, nil

	case "M":
		m := device.NewMosfet(elem.Name, elem.Nodes)
		params, err := modelParams(elem, models, "NMOS", "PMOS")
		if err != nil {
			return nil, err
		}
		m.SetModelParameters(params)
		return m, nil
	}
	return nil, fmt.Errorf("unsupported device type: %s", elem.Type)
}

// modelParams merges the named model with the instance parameters, which
// win on conflict.
func modelParams(elem Element, models map[string]device.ModelParam, types ...string) (map[string]float64, error) {
	params := make(map[string]float64)
	if elem.Model != "" {
		model, ok := models[elem.Model]
		if !ok {
			return nil, fmt.Errorf("undefined model %s for %s", elem.Model, elem.Name)
		}
		valid := false
		for _, t := range types {
			valid = valid || model.Type == t
		}
		if !valid {
			return nil, fmt.Errorf("model %s of type %s cannot be used by %s", model.Name, model.Type, elem.Name)
		}
		for k, v := range model.Params {
			params[k] = v
		}
	}
	for k, v := range elem.Params {
		params[strings.ToLower(k)] = v
	}
	return params, nil
}

func waveform(elem Element) (device.Waveform, error) {
	if elem.Source == nil {
		return device.Waveform{Type: device.DC, DC: elem.Value}, nil
	}

	args := elem.Source.Args
	switch strings.ToUpper(elem.Source.Type) {
	case "", "DC":
		if len(args) > 0 {
			return device.Waveform{Type: device.DC, DC: args[0]}, nil
		}
		return device.Waveform{Type: device.DC, DC: elem.Value}, nil

	case "SIN":
		if len(args) < 3 || len(args) > 4 {
			return device.Waveform{}, fmt.Errorf("%s: SIN needs offset, amplitude, freq and an optional phase", elem.Name)
		}
		w := device.Waveform{Type: device.SIN, Offset: args[0], Amplitude: args[1], Freq: args[2]}
		if len(args) == 4 {
			w.Phase = args[3]
		}
		return w, nil

	case "PULSE":
		if len(args) != 7 {
			return device.Waveform{}, fmt.Errorf("%s: PULSE needs v1 v2 delay rise fall width period", elem.Name)
		}
		return device.Waveform{
			Type:   device.PULSE,
			V1:     args[0],
			V2:     args[1],
			Delay:  args[2],
			Rise:   args[3],
			Fall:   args[4],
			PWidth: args[5],
			Period: args[6],
		}, nil

	case "PWL":
		if len(args) < 2 || len(args)%2 != 0 {
			return device.Waveform{}, fmt.Errorf("%s: PWL needs time-value pairs", elem.Name)
		}
		w := device.Waveform{Type: device.PWL}
		for i := 0; i < len(args); i += 2 {
			w.Times = append(w.Times, args[i])
			w.Values = append(w.Values, args[i+1])
		}
		return w, nil
	}
	return device.Waveform{}, fmt.Errorf("unsupported source type for %s: %s", elem.Name, elem.Source.Type)
}
