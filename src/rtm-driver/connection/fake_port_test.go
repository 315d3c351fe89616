package connection

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// fakePort is an in-memory Port. Writes are recorded and may trigger canned
// replies.
type fakePort struct {
	mutex       sync.Mutex
	pending     []byte
	written     []string
	replies     map[string]string
	readTimeout time.Duration
	readErr     error
	blockWrites bool
	// replyDelay keeps Write from returning after the reply was injected
	replyDelay time.Duration
	// stall, if set, holds every Write after it was recorded until it is closed
	stall chan struct{}

	incoming  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

var errPortClosed = errors.New("port closed")

func newFakePort() *fakePort {
	return &fakePort{
		replies:     map[string]string{},
		readTimeout: 5 * time.Millisecond,
		incoming:    make(chan []byte, 256),
		closed:      make(chan struct{}),
	}
}

func (port *fakePort) reply(command string, response string) *fakePort {
	port.replies[command] = response
	return port
}

func (port *fakePort) inject(data string) {
	port.incoming <- []byte(data)
}

func (port *fakePort) Read(p []byte) (int, error) {
	port.mutex.Lock()
	if port.readErr != nil {
		err := port.readErr
		port.mutex.Unlock()
		return 0, err
	}
	if len(port.pending) > 0 {
		n := copy(p, port.pending)
		port.pending = port.pending[n:]
		port.mutex.Unlock()
		return n, nil
	}
	timeout := port.readTimeout
	port.mutex.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-port.closed:
		return 0, errPortClosed
	case chunk := <-port.incoming:
		n := copy(p, chunk)
		port.mutex.Lock()
		port.pending = append(port.pending, chunk[n:]...)
		port.mutex.Unlock()
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

func (port *fakePort) Write(p []byte) (int, error) {
	port.mutex.Lock()
	block := port.blockWrites
	port.mutex.Unlock()
	if block {
		<-port.closed
		return 0, errPortClosed
	}

	command := strings.TrimSuffix(string(p), "\n")
	port.mutex.Lock()
	port.written = append(port.written, string(p))
	response, ok := port.replies[command]
	delay := port.replyDelay
	stall := port.stall
	port.mutex.Unlock()

	if ok {
		port.inject(response)
		time.Sleep(delay)
	}
	if stall != nil {
		select {
		case <-stall:
		case <-port.closed:
			return 0, errPortClosed
		}
	}
	return len(p), nil
}

func (port *fakePort) SetReadTimeout(timeout time.Duration) error {
	port.mutex.Lock()
	defer port.mutex.Unlock()
	port.readTimeout = timeout
	return nil
}

func (port *fakePort) Close() error {
	port.closeOnce.Do(func() { close(port.closed) })
	return nil
}

func (port *fakePort) Written() []string {
	port.mutex.Lock()
	defer port.mutex.Unlock()
	return append([]string(nil), port.written...)
}

func (port *fakePort) opener() Opener {
	return func(Endpoint) (Port, error) { return port, nil }
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger.WithField("package", "connection")
}

// recorder collects dispatched lines.
type recorder struct {
	mutex   sync.Mutex
	lines   []string
	batches int
}

func (rec *recorder) dispatch(buffer string) {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	rec.batches++
	rec.lines = append(rec.lines, strings.Split(buffer, "\n")...)
}

func (rec *recorder) Lines() []string {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	return append([]string(nil), rec.lines...)
}
