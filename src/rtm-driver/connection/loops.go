package connection

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rtm500/driver/src/rtm-driver/protocol"
)

const readBufferSize = 4096

// receiveLoop reads from port until ctx is cancelled or an I/O or framing
// error occurs. It does not retry: a broken connection is reported through
// onError and the loop exits.
func receiveLoop(ctx context.Context, log *logrus.Entry, port Port, framer *protocol.Framer, queue *LineQueue, onError func(error)) {
	buffer := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := port.Read(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Could not read from serial port.")
			onError(err)
			return
		}
		if n == 0 {
			// Read timeout
			continue
		}

		lines, err := framer.Feed(buffer[:n])
		queue.Push(lines...)
		if err != nil {
			log.WithError(err).Error("Dropping connection after framing error.")
			onError(err)
			return
		}
	}
}

// dispatchLoop hands queued lines to dispatch, one newline-joined batch per
// wake-up, until ctx is cancelled.
func dispatchLoop(ctx context.Context, log *logrus.Entry, queue *LineQueue, dispatch func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-queue.Ready():
		}

		lines := queue.Drain()
		if len(lines) == 0 {
			continue
		}
		dispatchBatch(log, dispatch, strings.Join(lines, "\n"))
	}
}

func dispatchBatch(log *logrus.Entry, dispatch func(string), buffer string) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).WithField("buffer", buffer).Error("Dispatch callback panicked.")
		}
	}()
	dispatch(buffer)
}
