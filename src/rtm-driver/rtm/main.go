package rtm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/cskr/pubsub"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/rtm500/driver/src/rtm-driver/connection"
	"github.com/rtm500/driver/src/rtm-driver/measurement"
	"github.com/rtm500/driver/src/rtm-driver/mock_rtm"
	"github.com/rtm500/driver/src/rtm-driver/panel"
	"github.com/rtm500/driver/src/rtm-driver/parameter"
	"github.com/rtm500/driver/src/rtm-driver/router"
)

// maximal interval to wait between connection attempts
const maxInterval = 5 * time.Second

// Topic all client messages are published on
const topic = "rx"

// Config of a Handle. Zero values select the defaults.
type Config struct {
	Options          connection.Options
	Scale            router.ADCScale
	TunnelCounts     int
	ConnectAttempts  int
	MeasureDirectory string
	ParameterPath    string

	Fs        afero.Fs
	Clock     clockwork.Clock
	Open      connection.Opener
	ListPorts func() ([]string, error)
	// Connected is called after each successful handshake
	Connected func(endpoint connection.Endpoint)
}

// Handle for managing the microscope controller
type Handle struct {
	broker *pubsub.PubSub

	ctx context.Context

	cancelCurrentConnection context.CancelFunc
	connectionChangeMutex   *sync.Mutex

	log *logrus.Entry

	config         Config
	router         *router.Router
	store          *parameter.Store
	recorder       *measurement.Recorder
	parameterPanel *panel.Parameter

	// mutex guards conn and current
	mutex   sync.RWMutex
	conn    *connection.Connection
	current panel.Panel
}

// DefaultOpener opens serial ports, or the simulated controller for the
// port name SIMULATE.
func DefaultOpener(log *logrus.Entry) connection.Opener {
	return func(endpoint connection.Endpoint) (connection.Port, error) {
		if endpoint.Name == connection.SimulatedPort {
			log.Info("Using simulated controller.")
			return mock_rtm.New(mock_rtm.Config{}), nil
		}
		return connection.OpenSerial(endpoint)
	}
}

// New returns an initialized handler
func New(ctx context.Context, log *logrus.Entry, config Config) *Handle {
	if config.Fs == nil {
		config.Fs = afero.NewOsFs()
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Open == nil {
		config.Open = DefaultOpener(log)
	}
	if config.ListPorts == nil {
		config.ListPorts = connection.ListPorts
	}
	if config.ConnectAttempts < 1 {
		config.ConnectAttempts = 3
	}
	if config.TunnelCounts < 1 {
		config.TunnelCounts = panel.DefaultTunnelCounts
	}
	if config.ParameterPath == "" {
		config.ParameterPath = parameter.DefaultPath()
	}

	handle := Handle{}

	handle.ctx = ctx

	handle.log = log

	handle.config = config

	handle.connectionChangeMutex = &sync.Mutex{}

	// PubSub broker, sized for raster bursts
	handle.broker = pubsub.New(1024)

	handle.store = parameter.NewStore()
	handle.recorder = measurement.NewRecorder(config.Fs, config.Clock, config.MeasureDirectory)
	handle.router = router.New(log.WithField("package", "router"), config.Scale, &handle, handle.terminal)
	handle.parameterPanel = panel.NewParameter(handle.store, handle.Send, handle.emit)
	handle.router.SetParameterSink(handle.parameterPanel)

	// Clean up
	go func() {
		<-ctx.Done()
		handle.Disconnect()
		handle.broker.Shutdown()
	}()

	return &handle
}

// Connect to the controller in the background. Progress is published as
// Status, Terminal and Error messages.
func (handle *Handle) Connect(endpoint connection.Endpoint) {

	// Only allow one connection change at a time
	handle.connectionChangeMutex.Lock()
	defer handle.connectionChangeMutex.Unlock()

	// disconnect current connection first
	handle.disconnect()

	// Create a child context for a new connection. This allows an individual connection (attempt) to be cancelled without restarting the whole handler
	ctx, cancel := context.WithCancel(handle.ctx)
	handle.cancelCurrentConnection = cancel

	handle.log.WithField("port", endpoint.Name).Info("Attempting to connect with controller.")

	go handle.establish(ctx, endpoint)
}

// ConnectAndWait connects and returns once the handshake succeeded or all
// attempts failed.
func (handle *Handle) ConnectAndWait(ctx context.Context, endpoint connection.Endpoint) error {
	handle.connectionChangeMutex.Lock()
	handle.disconnect()
	connCtx, cancel := context.WithCancel(handle.ctx)
	handle.cancelCurrentConnection = cancel
	handle.connectionChangeMutex.Unlock()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return handle.establish(connCtx, endpoint)
}

// Disconnect from current connection
func (handle *Handle) Disconnect() {
	handle.connectionChangeMutex.Lock()
	defer handle.connectionChangeMutex.Unlock()
	handle.disconnect()
}

func (handle *Handle) disconnect() {
	if handle.cancelCurrentConnection == nil {
		return
	}
	handle.log.Info("Disconnecting from controller.")
	handle.cancelCurrentConnection()
	handle.cancelCurrentConnection = nil

	handle.mutex.Lock()
	conn := handle.conn
	handle.conn = nil
	current := handle.current
	handle.current = nil
	handle.mutex.Unlock()

	handle.router.SetPanel(nil)
	if current != nil {
		current.Close()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			handle.log.WithError(err).Warn("Could not close serial port.")
		}
	}
	handle.publishStatus()
}

// establish opens the port and runs the STOP/IDLE handshake, retrying with
// exponential backoff for the configured number of attempts.
func (handle *Handle) establish(ctx context.Context, endpoint connection.Endpoint) error {
	log := handle.log.WithField("port", endpoint.Name)

	conn, err := connection.New(handle.log.WithField("package", "connection"), connection.Config{
		Endpoint: endpoint,
		Options:  handle.config.Options,
		Open:     handle.config.Open,
		Dispatch: handle.router.Route,
		Terminal: handle.terminal,
		Lost:     handle.connectionLost,
	})
	if err != nil {
		return err
	}

	handle.mutex.Lock()
	if ctx.Err() != nil {
		handle.mutex.Unlock()
		return ctx.Err()
	}
	handle.conn = conn
	handle.mutex.Unlock()

	// The connection lives as long as its context
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	handle.publishStatus()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxInterval = maxInterval
	strategy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(handle.config.ConnectAttempts-1)), ctx)

	attempt := func() error {
		if err := conn.Open(); err != nil {
			return err
		}
		return conn.Start(ctx)
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("retryIn", wait).Info("Could not connect with controller, retrying.")
	}

	err = backoff.RetryNotify(attempt, strategy, notify)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("Could not connect with controller.")
			handle.publishError(err)
		}
	} else {
		log.Info("Connected.")
		if handle.config.Connected != nil {
			handle.config.Connected(endpoint)
		}
	}
	handle.publishStatus()
	return err
}

func (handle *Handle) connection() *connection.Connection {
	handle.mutex.RLock()
	defer handle.mutex.RUnlock()
	return handle.conn
}

func (handle *Handle) connectionLost(err error) {
	handle.log.WithError(err).Warn("Lost connection to controller.")
	handle.publishError(err)
	handle.publishStatus()
}

// MarkIdle is called by the router when the controller reports IDLE.
func (handle *Handle) MarkIdle() {
	if conn := handle.connection(); conn != nil {
		conn.MarkIdle()
	}
	handle.publishStatus()
}

// Send writes a raw command to the controller.
func (handle *Handle) Send(command string) error {
	conn := handle.connection()
	if conn == nil {
		handle.terminal("Not connected to any device.")
		return connection.ErrNotConnected
	}
	before := conn.State()
	if err := conn.WriteCommand(command); err != nil {
		return err
	}
	if conn.State() != before {
		handle.publishStatus()
	}
	return nil
}

// Status of the handle
func (handle *Handle) Status() Status {
	handle.mutex.RLock()
	conn := handle.conn
	current := handle.current
	handle.mutex.RUnlock()

	status := Status{
		State:      connection.Disconnected,
		Thresholds: handle.router.Thresholds(),
	}
	if conn != nil {
		endpoint := conn.Endpoint()
		status.Port = &endpoint.Name
		status.BaudRate = endpoint.BaudRate
		status.State = conn.State()
		status.ReceiveRunning = conn.ReceiveRunning()
	}
	if current != nil {
		name := current.Name()
		status.Panel = &name
	}
	return status
}

// Subscribe to the messages sent to clients. Release with Unsubscribe.
func (handle *Handle) Subscribe() chan interface{} {
	return handle.broker.Sub(topic)
}

func (handle *Handle) Unsubscribe(ch chan interface{}) {
	handle.broker.Unsub(ch)
}

// Store holds the parameters last reported by the controller.
func (handle *Handle) Store() *parameter.Store {
	return handle.store
}

func (handle *Handle) terminal(text string) {
	handle.log.WithField("terminal", text).Debug("Terminal.")
	handle.broker.TryPub(Message{Terminal: &text}, topic)
}

func (handle *Handle) emit(event interface{}) {
	handle.broker.TryPub(Message{Event: event}, topic)
}

func (handle *Handle) publishStatus() {
	status := handle.Status()
	handle.broker.TryPub(Message{Status: &status}, topic)
}

func (handle *Handle) publishError(err error) {
	text := err.Error()
	handle.broker.TryPub(Message{Error: &text}, topic)
}
