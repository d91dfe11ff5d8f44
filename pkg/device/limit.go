package device

import "math"

// Voltage limiting in the style of SPICE3. Each function takes the proposed
// voltage and the one used in the previous iteration and returns the value to
// evaluate the model at.

// pnjlim limits the change of a pn-junction voltage above vcrit to a
// logarithmic step.
func pnjlim(vnew, vold, vt, vcrit float64) (float64, bool) {
	if vnew > vcrit && math.Abs(vnew-vold) > 2*vt {
		if vold > 0 {
			arg := 1 + (vnew-vold)/vt
			if arg > 0 {
				vnew = vold + vt*math.Log(arg)
			} else {
				vnew = vcrit
			}
		} else {
			vnew = vt * math.Log(vnew/vt)
		}
		return vnew, true
	}
	return vnew, false
}

// junctionVcrit is the voltage above which the junction current turns steep.
func junctionVcrit(nvt, is float64) float64 {
	return nvt * math.Log(nvt/(math.Sqrt2*is))
}

// fetlim limits gate-source changes around the threshold vto.
func fetlim(vnew, vold, vto float64) float64 {
	vtsthi := math.Abs(2*(vold-vto)) + 2
	vtstlo := vtsthi/2 + 2
	vtox := vto + 3.5
	delv := vnew - vold

	if vold >= vto {
		if vold >= vtox {
			if delv <= 0 {
				// going off
				if vnew >= vtox {
					if -delv > vtstlo {
						vnew = vold - vtstlo
					}
				} else {
					vnew = math.Max(vnew, vto+2)
				}
			} else if delv >= vtsthi {
				vnew = vold + vtsthi
			}
		} else {
			// middle region
			if delv <= 0 {
				vnew = math.Max(vnew, vto-0.5)
			} else {
				vnew = math.Min(vnew, vto+4)
			}
		}
	} else {
		// off
		if delv <= 0 {
			if -delv > vtsthi {
				vnew = vold - vtsthi
			}
		} else {
			vtemp := vto + 0.5
			if vnew <= vtemp {
				if delv > vtstlo {
					vnew = vold + vtstlo
				}
			} else {
				vnew = vtemp
			}
		}
	}
	return vnew
}

// limvds limits drain-source changes.
func limvds(vnew, vold float64) float64 {
	if vold >= 3.5 {
		if vnew > vold {
			vnew = math.Min(vnew, 3*vold+2)
		} else if vnew < 3.5 {
			vnew = math.Max(vnew, 2)
		}
	} else {
		if vnew > vold {
			vnew = math.Min(vnew, 4)
		} else {
			vnew = math.Max(vnew, -0.5)
		}
	}
	return vnew
}
