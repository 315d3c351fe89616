package protocol

import (
	"errors"
	"fmt"
)

// ErrLineTooLong is matched by every FramingError.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// FramingError reports that the device sent more than the allowed number of
// bytes without a newline. It is fatal to the connection.
type FramingError struct {
	Pending int
	Limit   int
}

func (err *FramingError) Error() string {
	return fmt.Sprintf("framing error: %d bytes pending without newline (limit %d)", err.Pending, err.Limit)
}

func (err *FramingError) Is(target error) bool {
	return target == ErrLineTooLong
}

// ParseError reports a malformed inbound message. The message is dropped.
type ParseError struct {
	Line   string
	Reason string
	Err    error
}

func (err *ParseError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("can not parse %q: %s: %v", err.Line, err.Reason, err.Err)
	}
	return fmt.Sprintf("can not parse %q: %s", err.Line, err.Reason)
}

func (err *ParseError) Unwrap() error {
	return err.Err
}

func parseError(message Message, reason string, err error) *ParseError {
	return &ParseError{Line: message.Raw, Reason: reason, Err: err}
}
