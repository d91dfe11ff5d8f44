package util

import (
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strings"
)

var prefixes = []struct {
	scale  float64
	prefix string
}{
	{1e12, "T"},
	{1e9, "G"},
	{1e6, "M"},
	{1e3, "k"},
	{1, ""},
	{1e-3, "m"},
	{1e-6, "u"},
	{1e-9, "n"},
	{1e-12, "p"},
	{1e-15, "f"},
}

// FormatValueFactor prints value in engineering notation: 1.5e-3 A is
// "1.500 mA".
func FormatValueFactor(value float64, unit string) string {
	absValue := math.Abs(value)
	if absValue == 0 {
		return fmt.Sprintf("%.3f %s", 0.0, unit)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Sprintf("%v %s", value, unit)
	}
	for _, p := range prefixes {
		if absValue >= p.scale {
			return fmt.Sprintf("%.3f %s%s", value/p.scale, p.prefix, unit)
		}
	}
	return fmt.Sprintf("%.3e %s", value, unit)
}

// Unit guesses the unit of a named result series.
func Unit(name string) string {
	switch {
	case strings.HasPrefix(name, "V("):
		return "V"
	case strings.HasPrefix(name, "I("):
		return "A"
	case name == "TIME":
		return "s"
	}
	return ""
}

func seriesNames(results map[string][]float64, skip ...string) (voltages, currents []string) {
	for _, name := range slices.Sorted(maps.Keys(results)) {
		if slices.Contains(skip, name) {
			continue
		}
		switch Unit(name) {
		case "V":
			voltages = append(voltages, name)
		case "A":
			currents = append(currents, name)
		}
	}
	return voltages, currents
}

// WriteResults prints a named result map as an operating point, a DC
// sweep or a transient table, depending on the series it holds.
func WriteResults(w io.Writer, results map[string][]float64) {
	if sweep1, isDC := results["SWEEP1"]; isDC {
		fmt.Fprintf(w, "\nDC Sweep Analysis Results (%d points):\n", len(sweep1))
		fmt.Fprintln(w, "------------------------------------------------")
		voltages, currents := seriesNames(results, "SWEEP1", "SWEEP2")
		sweep2, hasNested := results["SWEEP2"]
		for i := range sweep1 {
			if hasNested {
				fmt.Fprintf(w, "S1=%-11s S2=%-11s  ", FormatValueFactor(sweep1[i], ""), FormatValueFactor(sweep2[i], ""))
			} else {
				fmt.Fprintf(w, "S=%-11s  ", FormatValueFactor(sweep1[i], ""))
			}
			writeRow(w, results, i, voltages, currents)
		}
		return
	}

	times := results["TIME"]
	if len(times) <= 1 {
		voltages, currents := seriesNames(results, "TIME")
		fmt.Fprintln(w, "\nNode Voltages:")
		for _, name := range voltages {
			if len(results[name]) > 0 {
				fmt.Fprintf(w, "%s = %s\n", name, FormatValueFactor(results[name][0], "V"))
			}
		}
		fmt.Fprintln(w, "\nBranch Currents:")
		for _, name := range currents {
			if len(results[name]) > 0 {
				fmt.Fprintf(w, "%s = %s\n", name, FormatValueFactor(results[name][0], "A"))
			}
		}
		return
	}

	fmt.Fprintf(w, "\nTransient Analysis Results (%d time points):\n", len(times))
	fmt.Fprintln(w, "------------------------------------------------")
	voltages, currents := seriesNames(results, "TIME")
	for i, t := range times {
		fmt.Fprintf(w, "%11s  ", FormatValueFactor(t, "s"))
		writeRow(w, results, i, voltages, currents)
	}
}

func writeRow(w io.Writer, results map[string][]float64, i int, voltages, currents []string) {
	for _, name := range voltages {
		if values := results[name]; i < len(values) {
			fmt.Fprintf(w, "%s=%s  ", name, FormatValueFactor(values[i], "V"))
		}
	}
	for _, name := range currents {
		if values := results[name]; i < len(values) {
			fmt.Fprintf(w, "%s=%s  ", name, FormatValueFactor(values[i], "A"))
		}
	}
	fmt.Fprintln(w)
}
