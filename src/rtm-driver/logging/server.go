package logging

import (
	"bytes"
	"container/ring"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// Size of buffer for incoming log channel.
const incomingChannelBufferSize = 16

// DefaultBufferSize is the number of log entries kept for /log.
const DefaultBufferSize = 100

// LogServer implements logrus.Hook and http.Handler interfaces
type LogServer struct {
	incoming chan *logrus.Entry
	done     chan struct{}
	once     sync.Once

	size   int
	buffer *ring.Ring
	mutex  *sync.RWMutex
}

// NewLogServer returns a LogServer keeping the last size entries.
func NewLogServer(size int) *LogServer {
	if size < 1 {
		size = DefaultBufferSize
	}

	logServer := LogServer{}

	incoming := make(chan *logrus.Entry, incomingChannelBufferSize)
	logServer.incoming = incoming
	logServer.done = make(chan struct{})

	// set up log buffer and RWMutex
	logServer.size = size
	logServer.buffer = ring.New(size)
	logServer.mutex = &sync.RWMutex{}

	// start a goroutine handling incoming log entries
	go func() {
		defer close(logServer.done)
		for entry := range incoming {
			logServer.mutex.Lock()
			logServer.buffer.Value = entry
			// Point to next value. For readers the buffer always points to the oldest log entry.
			logServer.buffer = logServer.buffer.Next()
			logServer.mutex.Unlock()
		}
	}()

	return &logServer
}

// Close stops accepting entries. Entries already received are kept.
func (logServer *LogServer) Close() {
	logServer.once.Do(func() {
		logServer.mutex.Lock()
		close(logServer.incoming)
		logServer.incoming = nil
		logServer.mutex.Unlock()
		<-logServer.done
	})
}

// Levels implements the logrus.Hook interface
func (logServer *LogServer) Levels() []logrus.Level {
	return infoAndAbove
}

// Fire implements the logrus.Hook interface
func (logServer *LogServer) Fire(entry *logrus.Entry) error {
	logServer.mutex.RLock()
	defer logServer.mutex.RUnlock()

	if logServer.incoming == nil {
		return errors.New("LogServer closed, dropping entry.")
	}

	select {
	case logServer.incoming <- entry:
		return nil
	default:
		return errors.New("LogServer not accepting entries into buffer, dropping entry.")
	}
}

// Use UTC in as timestamp (from https://stackoverflow.com/a/40502637)
type UTCFormatter struct {
	logrus.Formatter
}

func (u UTCFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.Formatter.Format(e)
}

var formatter = UTCFormatter{&logrus.JSONFormatter{}}

// Entries returns the buffered entries encoded as JSON, oldest first. At most
// limit entries are returned if limit is positive.
func (logServer *LogServer) Entries(limit int) [][]byte {
	logServer.mutex.RLock()
	defer logServer.mutex.RUnlock()

	entries := make([][]byte, 0, logServer.size)

	logServer.buffer.Do(func(i interface{}) {
		entry, ok := i.(*logrus.Entry)
		if !ok {
			return
		}

		encoded, encodeErr := formatter.Format(entry)
		if encodeErr != nil {
			return
		}
		entries = append(entries, bytes.TrimRight(encoded, "\n"))
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// Implement net/http Handler interface. The optional query parameter limit
// returns only the most recent entries.
func (logServer *LogServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8") // normal header
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Entries are interspersed with "," to form a JSON array
	io.WriteString(w, "[")
	w.Write(bytes.Join(logServer.Entries(limit), []byte(",")))
	io.WriteString(w, "]")
}
