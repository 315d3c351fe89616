package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/rtm500/driver/src/rtm-driver/protocol"
)

// Config wires a Connection to its endpoint and callbacks.
type Config struct {
	Endpoint Endpoint
	Options  Options

	// Open defaults to OpenSerial.
	Open Opener

	// Dispatch receives newline-joined batches of inbound lines in arrival
	// order. It runs on the dispatch goroutine and must not block for long.
	Dispatch func(buffer string)

	// Terminal receives the human readable connection log. Optional.
	Terminal func(text string)

	// Lost is called once when the receive loop stops because of an error.
	// Optional.
	Lost func(err error)
}

// Connection owns one open port and its receive and dispatch loops.
type Connection struct {
	endpoint Endpoint
	options  Options
	open     Opener
	dispatch func(string)
	terminal func(string)
	lost     func(error)

	log *logrus.Entry

	// lifecycleMutex serialises Open, Start and Close
	lifecycleMutex sync.Mutex
	// portMutex guards port only, so that Close never waits for a stalled write
	portMutex sync.Mutex
	port      Port
	// writeSlot is held until port.Write returns, also after a write
	// timeout, so commands never interleave on the wire
	writeSlot chan struct{}

	state           *atomic.Int32
	receiveRunning  *atomic.Bool
	dispatchRunning *atomic.Bool
	waitingForIdle  *atomic.Bool
	idle            chan struct{}

	cancelLoops  context.CancelFunc
	receiveDone  chan struct{}
	dispatchDone chan struct{}
}

// New creates a disconnected Connection. Dispatch is required.
func New(log *logrus.Entry, config Config) (*Connection, error) {
	if config.Dispatch == nil {
		return nil, errors.New("connection needs a dispatch callback")
	}
	if config.Open == nil {
		config.Open = OpenSerial
	}
	if config.Terminal == nil {
		config.Terminal = func(string) {}
	}
	if config.Lost == nil {
		config.Lost = func(error) {}
	}
	if config.Endpoint.BaudRate == 0 {
		config.Endpoint.BaudRate = DefaultBaudRate
	}

	return &Connection{
		endpoint: config.Endpoint,
		options:  config.Options.withDefaults(),
		open:     config.Open,
		dispatch: config.Dispatch,
		terminal: config.Terminal,
		lost:     config.Lost,

		log: log.WithField("port", config.Endpoint.Name),

		state:           atomic.NewInt32(int32(Disconnected)),
		receiveRunning:  atomic.NewBool(false),
		dispatchRunning: atomic.NewBool(false),
		waitingForIdle:  atomic.NewBool(false),
		idle:            make(chan struct{}, 1),
		writeSlot:       make(chan struct{}, 1),
	}, nil
}

// Endpoint the connection was created for.
func (conn *Connection) Endpoint() Endpoint {
	return conn.endpoint
}

// State returns the current connection state.
func (conn *Connection) State() State {
	return State(conn.state.Load())
}

// ReceiveRunning reports whether inbound data is still being read.
func (conn *Connection) ReceiveRunning() bool {
	return conn.receiveRunning.Load()
}

// IsOpen reports whether the port is open.
func (conn *Connection) IsOpen() bool {
	conn.portMutex.Lock()
	defer conn.portMutex.Unlock()
	return conn.port != nil
}

// Open opens the port. It never retries; reconnecting is up to the caller.
func (conn *Connection) Open() error {
	conn.lifecycleMutex.Lock()
	defer conn.lifecycleMutex.Unlock()

	if conn.IsOpen() {
		return nil
	}

	conn.state.Store(int32(Connecting))
	conn.log.Info("Opening serial port.")

	port, err := conn.open(conn.endpoint)
	if err == nil {
		err = port.SetReadTimeout(conn.options.PollInterval)
		if err != nil {
			port.Close()
		}
	}
	if err != nil {
		conn.state.Store(int32(Disconnected))
		connErr := &ConnectionError{
			Op:         "open",
			Port:       conn.endpoint.Name,
			Err:        err,
			Suggestion: suggestionFor(err),
		}
		conn.log.WithError(err).Warn("Could not open serial port.")
		conn.terminal(fmt.Sprintf("Serial connection error on port %s: %v", conn.endpoint.Name, connErr))
		return connErr
	}

	conn.portMutex.Lock()
	conn.port = port
	conn.portMutex.Unlock()

	conn.log.WithField("baudRate", conn.endpoint.BaudRate).Info("Serial port open.")
	return nil
}

// Start launches the receive and dispatch loops, sends STOP and waits for the
// device to answer IDLE. On ErrHandshakeTimeout the port stays open, so the
// caller may retry Start or Close.
func (conn *Connection) Start(ctx context.Context) error {
	conn.lifecycleMutex.Lock()
	conn.portMutex.Lock()
	port := conn.port
	conn.portMutex.Unlock()
	if port == nil {
		conn.lifecycleMutex.Unlock()
		return ErrNotConnected
	}
	conn.startLoops(port)
	conn.lifecycleMutex.Unlock()

	// Discard acknowledgements of earlier commands
	select {
	case <-conn.idle:
	default:
	}
	conn.waitingForIdle.Store(true)
	defer conn.waitingForIdle.Store(false)

	if err := conn.WriteCommand(protocol.Stop()); err != nil {
		return err
	}

	timer := time.NewTimer(conn.options.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-conn.idle:
		conn.log.Info("Device is idle.")
		return nil
	case <-timer.C:
		conn.log.WithField("timeout", conn.options.HandshakeTimeout).Warn("Device did not answer STOP.")
		conn.terminal("No IDLE response from device.")
		return ErrHandshakeTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (conn *Connection) startLoops(port Port) {
	if conn.cancelLoops != nil {
		// Already running, or stopped by a receive error and waiting for Close
		if conn.receiveRunning.Load() {
			return
		}
		conn.stopLoops()
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn.cancelLoops = cancel
	conn.receiveDone = make(chan struct{})
	conn.dispatchDone = make(chan struct{})

	queue := NewLineQueue()
	framer := protocol.NewFramer(conn.options.MaxLineLength)

	conn.receiveRunning.Store(true)
	go func(done chan struct{}) {
		defer close(done)
		defer conn.receiveRunning.Store(false)
		receiveLoop(ctx, conn.log, port, framer, queue, func(err error) {
			conn.receiveRunning.Store(false)
			conn.terminal(fmt.Sprintf("Error reading from serial: %v", err))
			conn.lost(err)
		})
	}(conn.receiveDone)

	conn.dispatchRunning.Store(true)
	go func(done chan struct{}) {
		defer close(done)
		defer conn.dispatchRunning.Store(false)
		dispatchLoop(ctx, conn.log, queue, conn.dispatch)
	}(conn.dispatchDone)
}

// stopLoops cancels both loops and waits a bounded time for each.
func (conn *Connection) stopLoops() {
	if conn.cancelLoops == nil {
		return
	}
	conn.cancelLoops()
	conn.cancelLoops = nil

	join := func(name string, done chan struct{}) {
		timer := time.NewTimer(conn.options.JoinTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			conn.log.WithField("loop", name).Warn("Loop did not stop in time, closing port anyway.")
		}
	}
	join("receive", conn.receiveDone)
	join("dispatch", conn.dispatchDone)
}

// WriteCommand sends text followed by a single newline.
func (conn *Connection) WriteCommand(text string) error {
	command := strings.TrimRight(text, "\r\n")

	conn.portMutex.Lock()
	port := conn.port
	conn.portMutex.Unlock()

	if port == nil {
		conn.terminal("Not connected to any device.")
		return ErrNotConnected
	}

	timer := time.NewTimer(conn.options.WriteTimeout)
	defer timer.Stop()

	select {
	case conn.writeSlot <- struct{}{}:
	case <-timer.C:
		return conn.writeTimeout(command)
	}

	// Busy is stored before writing: the device may answer before Write returns
	activity := protocol.IsActivity(command)
	previous := conn.state.Load()
	if activity {
		conn.state.Store(int32(ConnectedBusy))
	}
	restore := func() {
		if activity {
			conn.state.CompareAndSwap(int32(ConnectedBusy), previous)
		}
	}

	result := make(chan error, 1)
	go func() {
		defer func() { <-conn.writeSlot }()
		_, err := port.Write([]byte(command + "\n"))
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			restore()
			conn.log.WithError(err).WithField("command", command).Error("Could not send command.")
			conn.terminal(fmt.Sprintf("Error sending command: %v", err))
			return &ConnectionError{Op: "write", Port: conn.endpoint.Name, Err: err}
		}
	case <-timer.C:
		restore()
		return conn.writeTimeout(command)
	}

	conn.log.WithField("command", command).Debug("Sent command.")
	conn.terminal("To STM: " + command)
	return nil
}

func (conn *Connection) writeTimeout(command string) error {
	conn.log.WithField("command", command).Error("Timeout sending command.")
	conn.terminal("Timeout error sending command: " + command)
	return &ConnectionError{Op: "write", Port: conn.endpoint.Name, Err: ErrWriteTimeout}
}

// MarkIdle records that the device reported IDLE and wakes a pending handshake.
func (conn *Connection) MarkIdle() {
	if !conn.IsOpen() {
		return
	}
	conn.state.Store(int32(ConnectedIdle))
	if conn.waitingForIdle.CompareAndSwap(true, false) {
		select {
		case conn.idle <- struct{}{}:
		default:
		}
	}
}

// Close stops both loops and closes the port. Closing a closed connection is
// a no-op.
func (conn *Connection) Close() error {
	conn.lifecycleMutex.Lock()
	defer conn.lifecycleMutex.Unlock()

	conn.stopLoops()

	conn.portMutex.Lock()
	port := conn.port
	conn.port = nil
	conn.portMutex.Unlock()

	conn.state.Store(int32(Disconnected))

	if port == nil {
		return nil
	}

	conn.log.Info("Closing serial port.")
	if err := port.Close(); err != nil {
		return &ConnectionError{Op: "close", Port: conn.endpoint.Name, Err: err}
	}
	return nil
}
