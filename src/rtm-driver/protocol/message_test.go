package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	message := ParseMessage(" ADJUST, 1.25,3 ,120\r")
	assert.Equal(t, TypeAdjust, message.Type)
	assert.Equal(t, []string{"ADJUST", "1.25", "3", "120"}, message.Fields)
	assert.Equal(t, "ADJUST, 1.25,3 ,120", message.Raw)
	assert.False(t, message.IsDone())

	assert.True(t, ParseMessage("DATA,DONE").IsDone())
	assert.Equal(t, Type("HELLO"), ParseMessage("HELLO").Type)
}

func TestParseAdjust(t *testing.T) {
	reading, err := ParseAdjust(ParseMessage("ADJUST,1.25,3,120"))
	require.NoError(t, err)
	assert.Equal(t, AdjustReading{Voltage: 1.25, CurrentNa: 3, ADCDigits: 120}, reading)

	_, err = ParseAdjust(ParseMessage("ADJUST,1.25"))
	assert.Error(t, err)

	_, err = ParseAdjust(ParseMessage("ADJUST,x,3,120"))
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "ADJUST,x,3,120", parseErr.Line)
}

func TestParseTunnelSignConversion(t *testing.T) {
	testCases := []struct {
		description string
		line        string
		expected    Update
	}{
		{
			description: "Values above 32767 are negative.",
			line:        "TUNNEL,1,40000,1000",
			expected:    TunnelSample{Active: true, ADC: -25536, Z: 1000},
		},
		{
			description: "Values up to 32767 are unchanged.",
			line:        "TUNNEL,1,20000,1000",
			expected:    TunnelSample{Active: true, ADC: 20000, Z: 1000},
		},
		{
			description: "Inactive flag.",
			line:        "TUNNEL,0,65535,0",
			expected:    TunnelSample{Active: false, ADC: -1, Z: 0},
		},
		{
			description: "DONE ends the run.",
			line:        "TUNNEL,DONE",
			expected:    TunnelDone{},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			update, err := ParseTunnel(ParseMessage(testCase.line))
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, update)
		})
	}
}

func TestParseTunnelMalformed(t *testing.T) {
	for _, line := range []string{
		"TUNNEL,oops",
		"TUNNEL,2,100,100",
		"TUNNEL,1,70000,100",
		"TUNNEL,1,-5,100",
		"TUNNEL,1,100",
	} {
		_, err := ParseTunnel(ParseMessage(line))
		var parseErr *ParseError
		assert.True(t, errors.As(err, &parseErr), line)
	}
}

func TestParseParameters(t *testing.T) {
	values, err := ParseParameters(ParseMessage("PARAMETER,targetNa,1.5,kP,10"))
	require.NoError(t, err)
	assert.Equal(t, []KeyValue{
		{Key: "targetNa", Value: "1.5"},
		{Key: "kP", Value: "10"},
	}, values.Values)

	values, err = ParseParameters(ParseMessage("PARAMETER,1,2,3,1.5,0.5,0,0,2,1,199,199,4"))
	require.NoError(t, err)
	require.Len(t, values.Values, len(ParameterKeys))
	assert.Equal(t, KeyValue{Key: "targetNa", Value: "1.5"}, values.Values[3])
	assert.Equal(t, KeyValue{Key: "multiplicator", Value: "4"}, values.Values[11])

	_, err = ParseParameters(ParseMessage("PARAMETER"))
	assert.Error(t, err)

	_, err = ParseParameters(ParseMessage("PARAMETER,kP"))
	assert.Error(t, err)
}

func TestParseRaster(t *testing.T) {
	update, err := ParseRaster(ParseMessage("DATA,0,7,1234"))
	require.NoError(t, err)
	assert.Equal(t, RasterSample{X: 0, Y: 7, Z: 1234, RowStart: true}, update)

	update, err = ParseRaster(ParseMessage("DATA,3,7,1234"))
	require.NoError(t, err)
	assert.Equal(t, RasterSample{X: 3, Y: 7, Z: 1234}, update)

	update, err = ParseRaster(ParseMessage("DATA,DONE"))
	require.NoError(t, err)
	assert.Equal(t, RasterDone{}, update)

	_, err = ParseRaster(ParseMessage("DATA,1,2"))
	assert.Error(t, err)
}
