package connection

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate of the controller firmware.
const DefaultBaudRate = 460800

// SimulatedPort is the port name that selects the in-process simulated controller.
const SimulatedPort = "SIMULATE"

// Port is the byte stream to the controller. Read must return (0, nil) once
// the read timeout elapses without data.
type Port interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Endpoint names the port to connect to.
type Endpoint struct {
	Name     string `json:"port"`
	BaudRate int    `json:"baudRate"`
}

func (endpoint Endpoint) String() string {
	return fmt.Sprintf("%s %d baud", endpoint.Name, endpoint.BaudRate)
}

// Opener opens the port of an endpoint.
type Opener func(endpoint Endpoint) (Port, error)

// OpenSerial opens a serial port with 8N1 framing.
func OpenSerial(endpoint Endpoint) (Port, error) {
	baudRate := endpoint.BaudRate
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(endpoint.Name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// ListPorts enumerates the serial ports of the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("could not list serial ports: %w", err)
	}
	return ports, nil
}

const busySuggestion = `Possible causes: another program has the port open (serial monitor, IDE), insufficient permissions, or a driver/OS issue. Try:
 - Close other serial programs (Arduino IDE, PuTTY, VSCode serial monitor)
 - Check that your user may access the port (dialout group on Linux, Administrator on Windows)
 - Reconnect the USB device or reboot the PC`

const notFoundSuggestion = "Check that the device is plugged in and that the configured port name is correct."

func suggestionFor(err error) string {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return ""
	}
	switch portErr.Code() {
	case serial.PortBusy, serial.PermissionDenied:
		return busySuggestion
	case serial.PortNotFound:
		return notFoundSuggestion
	}
	return ""
}
