package connection

import (
	"fmt"
	"time"
)

// State of a Connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	ConnectedIdle
	ConnectedBusy
)

func (state State) String() string {
	switch state {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case ConnectedIdle:
		return "ConnectedIdle"
	case ConnectedBusy:
		return "ConnectedBusy"
	}
	return fmt.Sprintf("State(%d)", int32(state))
}

func (state State) MarshalText() ([]byte, error) {
	return []byte(state.String()), nil
}

// Connected reports whether a port is open and the handshake succeeded at
// least once.
func (state State) Connected() bool {
	return state == ConnectedIdle || state == ConnectedBusy
}

// Options tune the timing of a Connection.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PollInterval     time.Duration
	JoinTimeout      time.Duration
	// MaxLineLength caps a line without newline. 0 disables the cap.
	MaxLineLength int
}

func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 1 * time.Second,
		WriteTimeout:     1 * time.Second,
		PollInterval:     10 * time.Millisecond,
		JoinTimeout:      500 * time.Millisecond,
		MaxLineLength:    65536,
	}
}

func (options Options) withDefaults() Options {
	defaults := DefaultOptions()
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = defaults.WriteTimeout
	}
	if options.PollInterval <= 0 {
		options.PollInterval = defaults.PollInterval
	}
	if options.JoinTimeout <= 0 {
		options.JoinTimeout = defaults.JoinTimeout
	}
	if options.MaxLineLength < 0 {
		options.MaxLineLength = 0
	}
	return options
}
