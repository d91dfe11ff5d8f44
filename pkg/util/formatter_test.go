package util

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatValueFactor(t *testing.T) {
	tests := []struct {
		value float64
		unit  string
		want  string
	}{
		{0, "V", "0.000 V"},
		{5, "V", "5.000 V"},
		{1.5e-3, "A", "1.500 mA"},
		{-4.7e-6, "A", "-4.700 uA"},
		{2.2e6, "Ohm", "2.200 MOhm"},
		{1e3, "Hz", "1.000 kHz"},
		{10e-12, "F", "10.000 pF"},
		{3e-15, "C", "3.000 fC"},
		{1e-18, "A", "1.000e-18 A"},
		{math.Inf(1), "V", "+Inf V"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValueFactor(tt.value, tt.unit), "%g", tt.value)
	}
}

func TestUnit(t *testing.T) {
	assert.Equal(t, "V", Unit("V(out)"))
	assert.Equal(t, "A", Unit("I(V1)"))
	assert.Equal(t, "s", Unit("TIME"))
	assert.Equal(t, "", Unit("SWEEP1"))
}

func TestWriteResultsOperatingPoint(t *testing.T) {
	var buf bytes.Buffer
	WriteResults(&buf, map[string][]float64{
		"V(out)": {5},
		"V(in)":  {10},
		"I(V1)":  {5e-3},
	})
	out := buf.String()
	assert.Contains(t, out, "V(out) = 5.000 V")
	assert.Contains(t, out, "I(V1) = 5.000 mA")
	assert.Less(t, strings.Index(out, "V(in)"), strings.Index(out, "V(out)"))
}

func TestWriteResultsTransient(t *testing.T) {
	var buf bytes.Buffer
	WriteResults(&buf, map[string][]float64{
		"TIME":   {0, 1e-6, 2e-6},
		"V(out)": {0, 0.5, 1},
	})
	out := buf.String()
	assert.Contains(t, out, "(3 time points)")
	assert.Contains(t, out, "1.000 us")
	assert.Contains(t, out, "V(out)=500.000 mV")
}

func TestWriteResultsSweep(t *testing.T) {
	var buf bytes.Buffer
	WriteResults(&buf, map[string][]float64{
		"SWEEP1": {0, 1},
		"SWEEP2": {0, 0},
		"V(a)":   {0, 0.6},
	})
	out := buf.String()
	assert.Contains(t, out, "(2 points)")
	assert.Contains(t, out, "V(a)=600.000 mV")
	assert.Contains(t, out, "S2=")
}
