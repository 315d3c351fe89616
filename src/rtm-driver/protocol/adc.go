package protocol

import (
	"fmt"
	"math"
)

// SignedADC reinterprets a 16 bit wire value as two's complement.
func SignedADC(raw uint16) int {
	return int(int16(raw))
}

// ADCValue converts a tunnel current in nA to raw ADC digits.
//
// The current flows through a transimpedance stage with gain divider (V/A),
// so the ADC sees nA·1e-9·divider volts, scaled by adcMax/vMax digits per
// volt. The result is truncated toward zero.
func ADCValue(nA, divider, adcMax, vMax float64) (int, error) {
	if vMax == 0 {
		return 0, fmt.Errorf("adc voltage max must not be zero")
	}
	value := nA * 1e-9 * divider * (adcMax / vMax)
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("adc value for %g nA is not finite", nA)
	}
	if value > math.MaxInt32 || value < math.MinInt32 {
		return 0, fmt.Errorf("adc value for %g nA out of range", nA)
	}
	return int(value), nil
}

// Nanoamps is the inverse of ADCValue.
func Nanoamps(adc int, divider, adcMax, vMax float64) float64 {
	if divider == 0 || adcMax == 0 {
		return 0
	}
	return float64(adc) * vMax / adcMax / divider * 1e9
}
