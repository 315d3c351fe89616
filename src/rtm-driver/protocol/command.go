package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Command verbs understood by the controller firmware.
const (
	CmdStop      = "STOP"
	CmdParameter = "PARAMETER"
	CmdAdjust    = "ADJUST"
	CmdTip       = "TIP"
	CmdMeasure   = "MEASURE"
	CmdTunnel    = "TUNNEL"
	CmdSinus     = "SINUS"
	CmdRestart   = "RESTART"

	simulateSuffix = " SIMULATE"
)

// ParameterKeys is the positional order of the bulk PARAMETER command.
var ParameterKeys = []string{
	"kP",
	"kI",
	"kD",
	"targetNa",
	"toleranceNa",
	"startX",
	"startY",
	"measureMs",
	"direction",
	"maxX",
	"maxY",
	"multiplicator",
}

// IsParameterKey reports whether key is one of ParameterKeys.
func IsParameterKey(key string) bool {
	for _, known := range ParameterKeys {
		if known == key {
			return true
		}
	}
	return false
}

// Stop halts the current device activity. The device answers IDLE.
func Stop() string { return CmdStop }

// ParameterQuery requests the current parameter set.
func ParameterQuery() string { return CmdParameter + ",?" }

// ParameterDefault resets the device parameters to the firmware defaults.
func ParameterDefault() string { return CmdParameter + ",DEFAULT" }

// ParameterSet sets a single parameter.
func ParameterSet(key string, value string) (string, error) {
	if key == "" || strings.ContainsAny(key, ",\n") || strings.ContainsAny(value, ",\n") {
		return "", fmt.Errorf("invalid parameter %q=%q", key, value)
	}
	return fmt.Sprintf("%s,%s,%s", CmdParameter, key, value), nil
}

// ParameterBulk sets all parameters at once. values must follow ParameterKeys.
func ParameterBulk(values []string) (string, error) {
	if len(values) != len(ParameterKeys) {
		return "", fmt.Errorf("bulk parameter command needs %d values, got %d", len(ParameterKeys), len(values))
	}
	for i, value := range values {
		if value == "" || strings.ContainsAny(value, ",\n") {
			return "", fmt.Errorf("invalid value %q for %s", value, ParameterKeys[i])
		}
	}
	return CmdParameter + "," + strings.Join(values, ","), nil
}

// Adjust enters the DAC/ADC adjustment mode.
func Adjust() string { return CmdAdjust }

// Tip positions the tip. Every coordinate must fit the 16 bit DAC.
func Tip(x, y, z int) (string, error) {
	for _, coordinate := range []int{x, y, z} {
		if coordinate < 0 || coordinate > 65535 {
			return "", fmt.Errorf("tip coordinate %d out of range 0..65535", coordinate)
		}
	}
	return fmt.Sprintf("%s,%d,%d,%d", CmdTip, x, y, z), nil
}

// Measure starts a raster measurement.
func Measure(simulate bool) string {
	if simulate {
		return CmdMeasure + simulateSuffix
	}
	return CmdMeasure
}

// Tunnel starts tunnel current monitoring for count samples.
func Tunnel(count int, simulate bool) (string, error) {
	if count < 1 {
		return "", fmt.Errorf("tunnel count must be positive, got %d", count)
	}
	verb := CmdTunnel
	if simulate {
		verb += simulateSuffix
	}
	return verb + "," + strconv.Itoa(count), nil
}

// Sinus starts the sinusoidal excitation test.
func Sinus() string { return CmdSinus }

// Restart returns the firmware to its main loop.
func Restart() string { return CmdRestart }

// Verb returns the command verb, i.e. the text before the first comma or space.
func Verb(command string) string {
	command = strings.TrimSpace(command)
	if end := strings.IndexAny(command, ", "); end >= 0 {
		return command[:end]
	}
	return command
}

// IsActivity reports whether command puts the device into a busy state.
func IsActivity(command string) bool {
	switch Verb(command) {
	case CmdStop, CmdMeasure, CmdTunnel, CmdAdjust, CmdSinus:
		return true
	}
	return false
}
