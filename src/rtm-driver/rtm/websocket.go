package rtm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rtm500/driver/src/rtm-driver/connection"
	"github.com/rtm500/driver/src/rtm-driver/panel"
	"github.com/rtm500/driver/src/rtm-driver/parameter"
	"github.com/rtm500/driver/src/rtm-driver/router"
)

// WEBSOCKET PROTOCOL

// Command sent by a client
type Command struct {
	*GetStatus

	*Connect
	*Disconnect

	*SendCommand

	*OpenPanel
	*ClosePanel
	*SetTip

	*SetParameters
	*RequestParameters
	*DefaultParameters
	*SaveParameters
	*LoadParameters

	*ListPorts
}

func prettyPrintCommand(command Command) string {
	switch {
	case command.GetStatus != nil:
		return "GetStatus"
	case command.Connect != nil:
		return "Connect"
	case command.Disconnect != nil:
		return "Disconnect"
	case command.SendCommand != nil:
		return "Command"
	case command.OpenPanel != nil:
		return "OpenPanel"
	case command.ClosePanel != nil:
		return "ClosePanel"
	case command.SetTip != nil:
		return "SetTip"
	case command.SetParameters != nil:
		return "SetParameters"
	case command.RequestParameters != nil:
		return "RequestParameters"
	case command.DefaultParameters != nil:
		return "DefaultParameters"
	case command.SaveParameters != nil:
		return "SaveParameters"
	case command.LoadParameters != nil:
		return "LoadParameters"
	case command.ListPorts != nil:
		return "ListPorts"
	}
	return "Unknown"
}

// GetStatus command
type GetStatus struct{}

// Connect command. An empty baud rate selects the default.
type Connect struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baudRate"`
}

// Disconnect command
type Disconnect struct{}

// SendCommand writes a raw command line to the controller.
type SendCommand struct {
	Command string `json:"command"`
}

// OpenPanel command
type OpenPanel struct {
	Panel    string `json:"panel"`
	Simulate bool   `json:"simulate"`
}

// ClosePanel command
type ClosePanel struct{}

// SetTip command
type SetTip struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// SetParameters command
type SetParameters struct {
	Parameters parameter.Parameters `json:"parameters"`
}

type RequestParameters struct{}

type DefaultParameters struct{}

// SaveParameters command. An empty path selects the configured file.
type SaveParameters struct {
	Path string `json:"path"`
}

// LoadParameters command. An empty path selects the configured file.
type LoadParameters struct {
	Path string `json:"path"`
}

type ListPorts struct{}

// UnmarshalJSON implements encoding/json Unmarshaler interface
func (command *Command) UnmarshalJSON(data []byte) error {

	// Helper struct to get type
	temp := struct {
		Type string `json:"type"`
	}{}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	switch temp.Type {
	case "GetStatus":
		command.GetStatus = &GetStatus{}
	case "Connect":
		return json.Unmarshal(data, &command.Connect)
	case "Disconnect":
		command.Disconnect = &Disconnect{}
	case "Command":
		return json.Unmarshal(data, &command.SendCommand)
	case "OpenPanel":
		return json.Unmarshal(data, &command.OpenPanel)
	case "ClosePanel":
		command.ClosePanel = &ClosePanel{}
	case "SetTip":
		return json.Unmarshal(data, &command.SetTip)
	case "SetParameters":
		command.SetParameters = &SetParameters{Parameters: parameter.Defaults()}
		return json.Unmarshal(data, command.SetParameters)
	case "RequestParameters":
		command.RequestParameters = &RequestParameters{}
	case "DefaultParameters":
		command.DefaultParameters = &DefaultParameters{}
	case "SaveParameters":
		return json.Unmarshal(data, &command.SaveParameters)
	case "LoadParameters":
		return json.Unmarshal(data, &command.LoadParameters)
	case "ListPorts":
		command.ListPorts = &ListPorts{}
	default:
		return errors.New("can not decode unknown command")
	}

	return nil
}

// Message that can be sent to a client
type Message struct {
	*Status
	Terminal *string
	// Event is one of the panel event types
	Event interface{}
	Ports []string
	Error *string
}

// Status is a message containing status information
type Status struct {
	Port           *string           `json:"port"`
	BaudRate       int               `json:"baudRate,omitempty"`
	State          connection.State  `json:"state"`
	ReceiveRunning bool              `json:"receiveRunning"`
	Panel          *panel.Name       `json:"panel"`
	Thresholds     router.Thresholds `json:"thresholds"`
}

func eventType(event interface{}) (string, error) {
	switch event.(type) {
	case panel.AdjustEvent:
		return "Adjust", nil
	case panel.ParametersEvent:
		return "Parameters", nil
	case panel.TunnelEvent:
		return "Tunnel", nil
	case panel.TunnelDoneEvent:
		return "TunnelDone", nil
	case panel.MeasureStartedEvent:
		return "MeasureStarted", nil
	case panel.RasterEvent:
		return "Raster", nil
	case panel.RasterRowEvent:
		return "RasterRow", nil
	case panel.RasterDoneEvent:
		return "RasterDone", nil
	}
	return "", fmt.Errorf("unknown event %T", event)
}

// withType adds a "type" field to an object encoding of payload.
func withType(kind string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(kind)
	return json.Marshal(fields)
}

// MarshalJSON implements JSON encoder for messages
func (message *Message) MarshalJSON() ([]byte, error) {
	switch {
	case message.Status != nil:
		return withType("Status", message.Status)

	case message.Terminal != nil:
		return json.Marshal(&struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{
			Type: "Terminal",
			Text: *message.Terminal,
		})

	case message.Event != nil:
		kind, err := eventType(message.Event)
		if err != nil {
			return nil, err
		}
		return withType(kind, message.Event)

	case message.Ports != nil:
		return json.Marshal(&struct {
			Type  string   `json:"type"`
			Ports []string `json:"ports"`
		}{
			Type:  "Ports",
			Ports: message.Ports,
		})

	case message.Error != nil:
		return json.Marshal(&struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{
			Type:    "Error",
			Message: *message.Error,
		})
	}

	return nil, errors.New("could not marshal message")
}

func errorMessage(err error) Message {
	text := err.Error()
	return Message{Error: &text}
}

// Implement net/http Handler interface
func (handle *Handle) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	// Set up logger
	var log = handle.log.WithFields(logrus.Fields{
		"clientAddress": r.RemoteAddr,
		"userAgent":     r.UserAgent(),
		"session":       uuid.NewString(),
	})

	// Update to WebSocket
	conn, err := webSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("Could not upgrade connection to WebSocket.")
		return
	}

	log.Info("WebSocket connection opened")

	// Create a mutex for writing to WebSocket (connection supports only one concurrent reader and one concurrent writer (https://godoc.org/github.com/gorilla/websocket#hdr-Concurrency))
	writeMutex := sync.Mutex{}

	// Create a context for this WebSocket connection
	ctx, cancel := context.WithCancel(context.Background())

	// send message up the WebSocket
	sendMessage := func(message Message) error {
		writeMutex.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		err := conn.WriteJSON(&message)
		writeMutex.Unlock()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Error("WebSocket error")
			}
			return err
		}
		return nil
	}

	// Messages published by the handle
	rx := handle.broker.Sub(topic)

	go rxLoop(ctx, rx, sendMessage)

	// Helper function to close the connection
	close := func() {
		// Unsubscribe from broker
		handle.broker.Unsub(rx)

		// Cancel the context
		cancel()

		// Close websocket connection
		conn.Close()

		log.Info("Websocket connection closed")
	}

	// Main loop for the WebSocket connection
	go func() {
		defer close()
		for {

			messageType, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Error("WebSocket error")
				}
				return
			}

			if messageType == websocket.BinaryMessage {

				// Raw command line, as typed in a terminal
				if err := handle.Send(string(msg)); err != nil {
					log.WithError(err).Warn("Could not send raw command.")
				}

			} else if messageType == websocket.TextMessage {

				var command Command
				decodeErr := json.Unmarshal(msg, &command)
				if decodeErr != nil {
					log.WithField("rawCommand", string(msg)).WithError(decodeErr).Warning("Can not decode command.")
					if sendMessage(errorMessage(decodeErr)) != nil {
						return
					}
					continue
				}
				log.WithField("command", prettyPrintCommand(command)).Debug("Received command.")

				err := handle.dispatchCommand(ctx, log, command, sendMessage)
				if err != nil {
					return
				}
			}

		}
	}()

}

// HELPERS

// dispatchCommand handles incoming commands. Failures are reported to the
// client as Error messages; only failures to write to the client are
// returned.
func (handle *Handle) dispatchCommand(ctx context.Context, log *logrus.Entry, command Command, sendMessage func(Message) error) error {

	var err error

	switch {
	case command.GetStatus != nil:
		status := handle.Status()
		return sendMessage(Message{Status: &status})

	case command.Connect != nil:
		baudRate := command.Connect.BaudRate
		if baudRate == 0 {
			baudRate = connection.DefaultBaudRate
		}
		handle.Connect(connection.Endpoint{Name: command.Connect.Port, BaudRate: baudRate})
		return nil

	case command.Disconnect != nil:
		handle.Disconnect()
		return nil

	case command.SendCommand != nil:
		err = handle.Send(command.SendCommand.Command)

	case command.OpenPanel != nil:
		var name panel.Name
		name, err = panel.ParseName(command.OpenPanel.Panel)
		if err == nil {
			err = handle.OpenPanel(name, command.OpenPanel.Simulate)
		}

	case command.ClosePanel != nil:
		err = handle.ClosePanel()

	case command.SetTip != nil:
		err = handle.SetTip(command.SetTip.X, command.SetTip.Y, command.SetTip.Z)

	case command.SetParameters != nil:
		err = handle.SetParameters(command.SetParameters.Parameters)

	case command.RequestParameters != nil:
		err = handle.RequestParameters()

	case command.DefaultParameters != nil:
		err = handle.DefaultParameters()

	case command.SaveParameters != nil:
		var path string
		path, err = handle.SaveParameters(command.SaveParameters.Path)
		if err == nil {
			text := fmt.Sprintf("Parameters saved to %s.", path)
			return sendMessage(Message{Terminal: &text})
		}

	case command.LoadParameters != nil:
		_, err = handle.LoadParameters(command.LoadParameters.Path)

	case command.ListPorts != nil:
		var ports []string
		ports, err = handle.ListPorts()
		if sendErr := sendMessage(Message{Ports: ports}); sendErr != nil {
			return sendErr
		}
	}

	if err != nil {
		log.WithError(err).WithField("command", prettyPrintCommand(command)).Warn("Command failed.")
		return sendMessage(errorMessage(err))
	}
	return nil
}

// rxLoop forwards messages published by the handle up the WebSocket
func rxLoop(ctx context.Context, rx chan interface{}, send func(Message) error) {
	var err error
	for {
		select {
		case <-ctx.Done():
			return

		case i, ok := <-rx:
			if !ok {
				return
			}
			message, isMessage := i.(Message)
			if isMessage {
				err = send(message)
			}
		}

		if err != nil {
			return
		}
	}
}

// Deadline for a single write to a client
const writeDeadline = 50 * time.Millisecond

// Helper to upgrade http to WebSocket
var webSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}
