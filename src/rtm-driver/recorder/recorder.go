// Package recorder records the messages a driver publishes on its
// WebSocket, one line per message with the delay since the previous one.
package recorder

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// ParseURL checks a WebSocket URL given on the command line.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed WebSocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("expected a ws:// or wss:// URL, got %q", raw)
	}
	return u, nil
}

// Record writes `<ms since previous>, <message>` lines to out until ctx is
// done or the connection closes. Commands are sent once after connecting,
// e.g. to open a panel.
func Record(ctx context.Context, u *url.URL, clock clockwork.Clock, out io.Writer, commands ...string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("could not record from '%s': %w", u.String(), err)
	}
	defer conn.Close()

	for _, command := range commands {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(command)); err != nil {
			return err
		}
	}

	prev := clock.Now()

	done := make(chan error, 1)
	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err = nil
				}
				done <- err
				return
			}
			now := clock.Now()
			d := now.Sub(prev)
			prev = now
			if _, err := fmt.Fprintf(out, "%d, %s\n", d.Milliseconds(), message); err != nil {
				done <- err
				return
			}
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return nil
	}
}
