package rtm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm500/driver/src/rtm-driver/connection"
	"github.com/rtm500/driver/src/rtm-driver/mock_rtm"
	"github.com/rtm500/driver/src/rtm-driver/panel"
	"github.com/rtm500/driver/src/rtm-driver/parameter"
	"github.com/rtm500/driver/src/rtm-driver/router"
)

var simulated = connection.Endpoint{Name: connection.SimulatedPort, BaudRate: connection.DefaultBaudRate}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger.WithField("package", "rtm")
}

type fixture struct {
	handle *Handle
	fs     afero.Fs
	rx     chan interface{}
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	fs := afero.NewMemMapFs()
	config.Fs = fs
	if config.Clock == nil {
		config.Clock = clockwork.NewFakeClockAt(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	}
	if config.Open == nil {
		config.Open = func(connection.Endpoint) (connection.Port, error) {
			return mock_rtm.New(mock_rtm.Config{Width: 4, Height: 3}), nil
		}
	}
	if config.ParameterPath == "" {
		config.ParameterPath = "/config/parameters.json"
	}
	config.Scale = router.ADCScale{Divider: 1_000_000.0, ADCMax: 65535.0, VMax: 3.3}

	handle := New(ctx, testLogger(), config)
	rx := handle.Subscribe()
	t.Cleanup(func() {
		handle.Unsubscribe(rx)
		cancel()
	})
	return &fixture{handle: handle, fs: fs, rx: rx}
}

// waitFor returns the first published message matching match.
func (f *fixture) waitFor(t *testing.T, match func(Message) bool) Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case i := <-f.rx:
			if message, ok := i.(Message); ok && match(message) {
				return message
			}
		case <-timeout:
			t.Fatal("timed out waiting for message")
		}
	}
}

func isEvent[T any](message Message) bool {
	_, ok := message.Event.(T)
	return ok
}

func TestConnectSimulated(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.handle.ConnectAndWait(context.Background(), simulated))

	status := f.handle.Status()
	require.NotNil(t, status.Port)
	assert.Equal(t, connection.SimulatedPort, *status.Port)
	assert.Equal(t, connection.ConnectedIdle, status.State)
	assert.True(t, status.ReceiveRunning)
	assert.Nil(t, status.Panel)

	f.waitFor(t, func(message Message) bool {
		return message.Terminal != nil && *message.Terminal == "To STM: STOP"
	})

	f.handle.Disconnect()
	assert.Equal(t, connection.Disconnected, f.handle.Status().State)
	assert.Nil(t, f.handle.Status().Port)
}

func TestConnectRetriesAndFails(t *testing.T) {
	attempts := 0
	f := newFixture(t, Config{
		ConnectAttempts: 2,
		Open: func(connection.Endpoint) (connection.Port, error) {
			attempts++
			return nil, errors.New("no such port")
		},
	})

	err := f.handle.ConnectAndWait(context.Background(), connection.Endpoint{Name: "/dev/ttyUSB9"})
	var connErr *connection.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "open", connErr.Op)
	assert.Equal(t, 2, attempts)

	f.waitFor(t, func(message Message) bool { return message.Error != nil })
	assert.Equal(t, connection.Disconnected, f.handle.Status().State)
}

func TestConnectCancelled(t *testing.T) {
	f := newFixture(t, Config{
		ConnectAttempts: 100,
		Open: func(connection.Endpoint) (connection.Port, error) {
			return nil, errors.New("busy")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, f.handle.ConnectAndWait(ctx, connection.Endpoint{Name: "COM3"}))
}

func TestPanelsRequireConnection(t *testing.T) {
	f := newFixture(t, Config{})

	assert.ErrorIs(t, f.handle.OpenPanel(panel.NameAdjust, false), connection.ErrNotConnected)
	assert.ErrorIs(t, f.handle.Send("STOP"), connection.ErrNotConnected)
	assert.ErrorIs(t, f.handle.SetTip(1, 2, 3), ErrNoAdjustPanel)
	assert.NoError(t, f.handle.ClosePanel())
}

func TestMeasureSimulated(t *testing.T) {
	f := newFixture(t, Config{MeasureDirectory: "/measurements"})
	require.NoError(t, f.handle.ConnectAndWait(context.Background(), simulated))

	require.NoError(t, f.handle.OpenPanel(panel.NameMeasure, true))
	started := f.waitFor(t, isEvent[panel.MeasureStartedEvent])
	assert.Equal(t, "/measurements/measurement_2024-05-06_07-08-09.csv", started.Event.(panel.MeasureStartedEvent).Path)

	done := f.waitFor(t, isEvent[panel.RasterDoneEvent]).Event.(panel.RasterDoneEvent)
	assert.Equal(t, 4*3, done.Rows)

	content, err := afero.ReadFile(f.fs, done.Path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "x,y,z\n0,0,0\n")

	f.waitFor(t, func(message Message) bool {
		return message.Status != nil && message.Status.State == connection.ConnectedIdle
	})

	require.NoError(t, f.handle.ClosePanel())
	assert.Nil(t, f.handle.CurrentPanel())
}

func TestTunnelSimulated(t *testing.T) {
	f := newFixture(t, Config{TunnelCounts: 10})
	require.NoError(t, f.handle.ConnectAndWait(context.Background(), simulated))

	require.NoError(t, f.handle.OpenPanel(panel.NameTunnel, false))
	first := f.waitFor(t, isEvent[panel.TunnelEvent]).Event.(panel.TunnelEvent)
	assert.Equal(t, -200, first.ADC)

	done := f.waitFor(t, isEvent[panel.TunnelDoneEvent]).Event.(panel.TunnelDoneEvent)
	assert.Equal(t, 10, done.Samples)
	assert.False(t, f.handle.CurrentPanel().IsActive())
}

func TestAdjustSimulated(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.handle.ConnectAndWait(context.Background(), simulated))

	require.NoError(t, f.handle.OpenPanel(panel.NameAdjust, false))
	f.waitFor(t, isEvent[panel.AdjustEvent])

	require.NoError(t, f.handle.SetTip(0, 0, 5000))
	f.waitFor(t, func(message Message) bool {
		event, ok := message.Event.(panel.AdjustEvent)
		return ok && event.CurrentNa == 5
	})

	// Switching panels closes the previous one
	require.NoError(t, f.handle.OpenPanel(panel.NameSinus, false))
	assert.ErrorIs(t, f.handle.SetTip(0, 0, 0), ErrNoAdjustPanel)
}

func TestParametersSimulated(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.handle.ConnectAndWait(context.Background(), simulated))

	require.NoError(t, f.handle.OpenPanel(panel.NameParameter, false))
	f.waitFor(t, isEvent[panel.ParametersEvent])

	parameters := parameter.Defaults()
	parameters.TargetNa = 1.5
	parameters.MaxX = 50
	require.NoError(t, f.handle.SetParameters(parameters))

	f.waitFor(t, func(message Message) bool {
		event, ok := message.Event.(panel.ParametersEvent)
		return ok && event.Parameters.MaxX == 50
	})
	assert.Equal(t, router.Thresholds{TargetADC: 29, HasTarget: true, ToleranceADC: 3, HasTolerance: true}, f.handle.Status().Thresholds)

	path, err := f.handle.SaveParameters("")
	require.NoError(t, err)
	assert.Equal(t, "/config/parameters.json", path)

	require.NoError(t, f.handle.DefaultParameters())
	f.waitFor(t, func(message Message) bool {
		event, ok := message.Event.(panel.ParametersEvent)
		return ok && event.Parameters.MaxX == 199
	})

	loaded, err := f.handle.LoadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, 50, loaded.MaxX)

	parameters.MeasureMs = 20
	assert.Error(t, f.handle.SetParameters(parameters))
}

func TestListPorts(t *testing.T) {
	f := newFixture(t, Config{ListPorts: func() ([]string, error) { return []string{"/dev/ttyACM0"}, nil }})
	ports, err := f.handle.ListPorts()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyACM0", connection.SimulatedPort}, ports)
}
