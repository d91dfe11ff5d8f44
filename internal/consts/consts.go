package consts

const (
	CHARGE    = 1.6021918e-19 // Elementary charge (C)
	BOLTZMANN = 1.3806226e-23 // Boltzmann constant (J/K)
	KELVIN    = 273.15        // Kelvin temperature (K)

	REFTEMP = 300.15 // Nominal temperature, 27 degC (K)
)

// ThermalVoltage returns kT/q. Non-positive temperatures fall back to REFTEMP.
func ThermalVoltage(temp float64) float64 {
	if temp <= 0 {
		temp = REFTEMP
	}
	return BOLTZMANN * temp / CHARGE
}
