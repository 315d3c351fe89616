package protocol

import (
	"strconv"
	"strings"
)

// Type is the tag in field 0 of every device message.
type Type string

// Inbound message types. Anything else is only logged.
const (
	TypeIdle      Type = "IDLE"
	TypeAdjust    Type = "ADJUST"
	TypeParameter Type = "PARAMETER"
	TypeTunnel    Type = "TUNNEL"
	TypeData      Type = "DATA"
	TypeFind      Type = "FIND"
)

// Done marks the end of a measurement or tunnel run in field 1.
const Done = "DONE"

// Message is a line split on commas. Fields[0] is the type tag.
type Message struct {
	Raw    string
	Type   Type
	Fields []string
}

// ParseMessage splits a line into its fields. It never fails; the typed
// decoders below validate the field shape.
func ParseMessage(line string) Message {
	line = strings.TrimSpace(line)
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return Message{
		Raw:    line,
		Type:   Type(fields[0]),
		Fields: fields,
	}
}

// IsDone reports whether field 1 is the DONE marker.
func (message Message) IsDone() bool {
	return len(message.Fields) > 1 && message.Fields[1] == Done
}

// Update is a decoded device message delivered to a panel.
type Update interface {
	MessageType() Type
}

// AdjustReading is sent continuously while the device is in ADJUST mode.
type AdjustReading struct {
	Voltage   float64 `json:"voltage"`
	CurrentNa int     `json:"currentNa"`
	ADCDigits int     `json:"adcDigits"`
}

func (AdjustReading) MessageType() Type { return TypeAdjust }

// KeyValue is a single parameter reported by the device.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParameterValues carries one or more parameters.
type ParameterValues struct {
	Values []KeyValue `json:"values"`
}

func (ParameterValues) MessageType() Type { return TypeParameter }

// TunnelSample is one tunnel-current reading. ADC is already sign converted.
type TunnelSample struct {
	Active bool `json:"active"`
	ADC    int  `json:"adc"`
	Z      int  `json:"z"`
}

func (TunnelSample) MessageType() Type { return TypeTunnel }

// TunnelDone ends a tunnel run.
type TunnelDone struct{}

func (TunnelDone) MessageType() Type { return TypeTunnel }

// RasterSample is one (x, y, z) point of a raster measurement. RowStart is
// set for x == 0.
type RasterSample struct {
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Z        int  `json:"z"`
	RowStart bool `json:"rowStart"`
}

func (RasterSample) MessageType() Type { return TypeData }

// RasterDone ends a raster measurement.
type RasterDone struct{}

func (RasterDone) MessageType() Type { return TypeData }

// ParseAdjust decodes `ADJUST,<voltage>,<nA>,<digits>`.
func ParseAdjust(message Message) (AdjustReading, error) {
	var reading AdjustReading
	if len(message.Fields) != 4 {
		return reading, parseError(message, "expected 3 values", nil)
	}

	var err error
	if reading.Voltage, err = strconv.ParseFloat(message.Fields[1], 64); err != nil {
		return reading, parseError(message, "invalid voltage", err)
	}
	if reading.CurrentNa, err = strconv.Atoi(message.Fields[2]); err != nil {
		return reading, parseError(message, "invalid current", err)
	}
	if reading.ADCDigits, err = strconv.Atoi(message.Fields[3]); err != nil {
		return reading, parseError(message, "invalid adc digits", err)
	}
	return reading, nil
}

// ParseParameters decodes `PARAMETER,<key>,<value>[,<key>,<value>...]` or the
// positional form carrying all values in ParameterKeys order.
func ParseParameters(message Message) (ParameterValues, error) {
	var values ParameterValues
	args := message.Fields[1:]

	if len(args) == 0 {
		return values, parseError(message, "no parameters", nil)
	}

	if len(args) == len(ParameterKeys) && !IsParameterKey(args[0]) {
		for i, key := range ParameterKeys {
			values.Values = append(values.Values, KeyValue{Key: key, Value: args[i]})
		}
		return values, nil
	}

	if len(args)%2 != 0 {
		return values, parseError(message, "unpaired key/value", nil)
	}
	for i := 0; i < len(args); i += 2 {
		if args[i] == "" {
			return values, parseError(message, "empty key", nil)
		}
		values.Values = append(values.Values, KeyValue{Key: args[i], Value: args[i+1]})
	}
	return values, nil
}

// ParseTunnel decodes `TUNNEL,DONE` or `TUNNEL,<flag>,<adc>,<z>`.
func ParseTunnel(message Message) (Update, error) {
	if message.IsDone() {
		return TunnelDone{}, nil
	}
	if len(message.Fields) != 4 {
		return nil, parseError(message, "expected flag, adc and z", nil)
	}

	var sample TunnelSample
	switch message.Fields[1] {
	case "0":
	case "1":
		sample.Active = true
	default:
		return nil, parseError(message, "flag must be 0 or 1", nil)
	}

	adc, err := strconv.ParseUint(message.Fields[2], 10, 16)
	if err != nil {
		return nil, parseError(message, "invalid adc", err)
	}
	z, err := strconv.ParseUint(message.Fields[3], 10, 16)
	if err != nil {
		return nil, parseError(message, "invalid z", err)
	}

	sample.ADC = SignedADC(uint16(adc))
	sample.Z = int(z)
	return sample, nil
}

// ParseRaster decodes `DATA,DONE` or `DATA,<x>,<y>,<z>`.
func ParseRaster(message Message) (Update, error) {
	if message.IsDone() {
		return RasterDone{}, nil
	}
	if len(message.Fields) != 4 {
		return nil, parseError(message, "expected x, y and z", nil)
	}

	var sample RasterSample
	var err error
	if sample.X, err = strconv.Atoi(message.Fields[1]); err != nil {
		return nil, parseError(message, "invalid x", err)
	}
	if sample.Y, err = strconv.Atoi(message.Fields[2]); err != nil {
		return nil, parseError(message, "invalid y", err)
	}
	if sample.Z, err = strconv.Atoi(message.Fields[3]); err != nil {
		return nil, parseError(message, "invalid z", err)
	}
	sample.RowStart = message.Fields[1] == "0"
	return sample, nil
}
