package connection

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("not connected to any device")
	ErrWriteTimeout     = errors.New("write timed out")
	ErrHandshakeTimeout = errors.New("device did not acknowledge STOP with IDLE")
)

// ConnectionError reports a failure to open, read from or write to a port.
// It is surfaced to the user and never fatal to the process.
type ConnectionError struct {
	Op         string
	Port       string
	Err        error
	Suggestion string
}

func (err *ConnectionError) Error() string {
	message := fmt.Sprintf("%s %s: %v", err.Op, err.Port, err.Err)
	if err.Suggestion != "" {
		message += "\n" + err.Suggestion
	}
	return message
}

func (err *ConnectionError) Unwrap() error {
	return err.Err
}
