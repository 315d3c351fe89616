package panel

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm500/driver/src/rtm-driver/measurement"
	"github.com/rtm500/driver/src/rtm-driver/parameter"
	"github.com/rtm500/driver/src/rtm-driver/protocol"
	"github.com/rtm500/driver/src/rtm-driver/router"
)

// MockDevice records sent commands and emitted events in one log.
type MockDevice struct {
	callLog []string
	failing bool
}

func (device *MockDevice) Send(command string) error {
	if device.failing {
		return errors.New("not connected")
	}
	device.callLog = append(device.callLog, "Send | "+command)
	return nil
}

func (device *MockDevice) Emit(event interface{}) {
	device.callLog = append(device.callLog, fmt.Sprintf("Emit | %T %+v", event, event))
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger.WithField("package", "panel")
}

var testScale = router.ADCScale{Divider: 1_000_000.0, ADCMax: 65535.0, VMax: 3.3}

func TestParseName(t *testing.T) {
	name, err := ParseName("Tunnel")
	require.NoError(t, err)
	assert.Equal(t, NameTunnel, name)

	_, err = ParseName("Terminal")
	assert.Error(t, err)
}

func TestMeasure(t *testing.T) {
	device := &MockDevice{}
	fs := afero.NewMemMapFs()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	store := parameter.NewStore()
	store.Set("maxX", "3")
	store.Set("maxY", "2")

	measure := NewMeasure(testLogger(), device.Send, device.Emit, measurement.NewRecorder(fs, clock, "m"), store, true)
	require.NoError(t, measure.Open())

	for _, update := range []protocol.Update{
		protocol.RasterSample{X: 0, Y: 0, Z: 10, RowStart: true},
		protocol.RasterSample{X: 1, Y: 0, Z: 11},
		protocol.RasterSample{X: 0, Y: 1, Z: 12, RowStart: true},
		protocol.TunnelDone{},
		protocol.RasterDone{},
		protocol.RasterSample{X: 1, Y: 1, Z: 13},
	} {
		measure.UpdateData(update)
	}

	path := "m/measurement_2024-01-02_03-04-05.csv"
	assert.Equal(t, []string{
		fmt.Sprintf("Emit | panel.MeasureStartedEvent %+v", MeasureStartedEvent{Path: path, Bounds: Bounds{MaxX: 3, MaxY: 2}}),
		"Send | MEASURE SIMULATE",
		fmt.Sprintf("Emit | panel.RasterEvent %+v", RasterEvent{Sample: measurement.Sample{X: 0, Y: 0, Z: 10}}),
		fmt.Sprintf("Emit | panel.RasterEvent %+v", RasterEvent{Sample: measurement.Sample{X: 1, Y: 0, Z: 11}}),
		fmt.Sprintf("Emit | panel.RasterRowEvent %+v", RasterRowEvent{Y: 0}),
		fmt.Sprintf("Emit | panel.RasterEvent %+v", RasterEvent{Sample: measurement.Sample{X: 0, Y: 1, Z: 12}}),
		fmt.Sprintf("Emit | panel.RasterRowEvent %+v", RasterRowEvent{Y: 1}),
		fmt.Sprintf("Emit | panel.RasterDoneEvent %+v", RasterDoneEvent{Path: path, Rows: 3}),
	}, device.callLog)

	assert.False(t, measure.IsActive())
	content, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "x,y,z\n0,0,10\n1,0,11\n0,1,12\n", string(content))
}

func TestMeasureDefaultBounds(t *testing.T) {
	device := &MockDevice{}
	measure := NewMeasure(testLogger(), device.Send, device.Emit, measurement.NewRecorder(afero.NewMemMapFs(), clockwork.NewFakeClock(), ""), parameter.NewStore(), false)
	require.NoError(t, measure.Open())
	assert.Equal(t, Bounds{StartX: 0, StartY: 0, MaxX: 200, MaxY: 200}, measure.Bounds())
	assert.Contains(t, device.callLog, "Send | MEASURE")

	measure.Close()
	assert.False(t, measure.IsActive())
	measure.UpdateData(protocol.RasterSample{X: 1, Y: 1, Z: 1})
	assert.Len(t, device.callLog, 2)
}

func TestAdjust(t *testing.T) {
	device := &MockDevice{}
	adjust := NewAdjust(device.Send, device.Emit)
	require.NoError(t, adjust.Open())

	_, ok := adjust.Latest()
	assert.False(t, ok)

	reading := protocol.AdjustReading{Voltage: 0.5, CurrentNa: 2, ADCDigits: 40}
	adjust.UpdateData(reading)
	adjust.UpdateData(protocol.TunnelDone{})

	latest, ok := adjust.Latest()
	assert.True(t, ok)
	assert.Equal(t, reading, latest)

	require.NoError(t, adjust.SetTip(1, 2, 3))
	assert.Error(t, adjust.SetTip(1, 2, 70000))

	adjust.Close()
	adjust.UpdateData(protocol.AdjustReading{Voltage: 1})

	assert.Equal(t, []string{
		"Send | ADJUST",
		fmt.Sprintf("Emit | panel.AdjustEvent %+v", AdjustEvent{AdjustReading: reading}),
		"Send | TIP,1,2,3",
	}, device.callLog)
}

func TestTunnel(t *testing.T) {
	device := &MockDevice{}
	thresholds := router.Thresholds{TargetADC: 29, HasTarget: true}
	tunnel := NewTunnel(device.Send, device.Emit, func() router.Thresholds { return thresholds }, testScale, 2, false)
	require.NoError(t, tunnel.Open())

	tunnel.UpdateData(protocol.TunnelSample{Active: true, ADC: -25536, Z: 1000})
	tunnel.UpdateData(protocol.TunnelSample{Active: true, ADC: 10, Z: 1001})
	tunnel.UpdateData(protocol.TunnelSample{Active: false, ADC: 20, Z: 1002})

	history := tunnel.History()
	require.Len(t, history, 2)
	assert.Equal(t, 10, history[0].ADC)
	assert.Equal(t, 20, history[1].ADC)
	assert.Equal(t, thresholds, history[1].Thresholds)
	assert.InDelta(t, protocol.Nanoamps(20, testScale.Divider, testScale.ADCMax, testScale.VMax), history[1].Nanoamps, 1e-9)

	tunnel.UpdateData(protocol.TunnelDone{})
	assert.False(t, tunnel.IsActive())

	assert.Equal(t, "Send | TUNNEL,2", device.callLog[0])
	assert.Equal(t, fmt.Sprintf("Emit | panel.TunnelDoneEvent %+v", TunnelDoneEvent{Samples: 2}), device.callLog[len(device.callLog)-1])
}

func TestTunnelSimulate(t *testing.T) {
	device := &MockDevice{}
	tunnel := NewTunnel(device.Send, device.Emit, func() router.Thresholds { return router.Thresholds{} }, testScale, 0, true)
	require.NoError(t, tunnel.Open())
	assert.Equal(t, []string{"Send | TUNNEL SIMULATE,100"}, device.callLog)
}

func TestSinus(t *testing.T) {
	device := &MockDevice{}
	sinus := NewSinus(device.Send)
	require.NoError(t, sinus.Open())
	sinus.UpdateData(protocol.AdjustReading{})
	assert.Equal(t, []string{"Send | SINUS"}, device.callLog)
}

func TestParameter(t *testing.T) {
	device := &MockDevice{}
	store := parameter.NewStore()
	panel := NewParameter(store, device.Send, device.Emit)
	require.NoError(t, panel.Open())

	panel.Close()
	assert.True(t, panel.IsActive())

	values := protocol.ParameterValues{Values: []protocol.KeyValue{{Key: "kP", Value: "3"}}}
	panel.UpdateData(values)
	assert.Equal(t, 3.0, store.Float("kP", 0))

	invalid := parameter.Defaults()
	invalid.MaxX = 500
	assert.Error(t, panel.Apply(invalid))

	require.NoError(t, panel.Apply(parameter.Defaults()))
	require.NoError(t, panel.Reset())

	expectedParameters := parameter.Defaults()
	expectedParameters.KP = 3
	assert.Equal(t, []string{
		"Send | PARAMETER,?",
		fmt.Sprintf("Emit | panel.ParametersEvent %+v", ParametersEvent{Values: values.Values, Parameters: expectedParameters}),
		"Send | PARAMETER,1,0,0,1,0.2,0,0,1,0,199,199,1",
		"Send | PARAMETER,DEFAULT",
		"Send | PARAMETER,?",
	}, device.callLog)
}

func TestOpenFailsWhenDisconnected(t *testing.T) {
	device := &MockDevice{failing: true}
	assert.Error(t, NewAdjust(device.Send, device.Emit).Open())
	assert.Error(t, NewSinus(device.Send).Open())
}
