package panel

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/rtm500/driver/src/rtm-driver/protocol"
)

// Name identifies a panel in the client protocol.
type Name string

const (
	NameMeasure   Name = "Measure"
	NameAdjust    Name = "Adjust"
	NameParameter Name = "Parameter"
	NameTunnel    Name = "Tunnel"
	NameSinus     Name = "Sinus"
)

// ParseName validates a panel name sent by a client.
func ParseName(name string) (Name, error) {
	switch Name(name) {
	case NameMeasure, NameAdjust, NameParameter, NameTunnel, NameSinus:
		return Name(name), nil
	}
	return "", fmt.Errorf("unknown panel %q", name)
}

// Send writes a command to the device.
type Send func(command string) error

// Emit publishes a panel event to connected clients.
type Emit func(event interface{})

// Panel is a view that can be made current on the router.
type Panel interface {
	Name() Name
	// Open sends the command that starts the panel's device activity.
	Open() error
	UpdateData(update protocol.Update)
	IsActive() bool
	// Close deactivates the panel. Updates after Close are ignored.
	Close()
}

// lifecycle holds the active flag shared by all closable panels.
type lifecycle struct {
	active *atomic.Bool
}

func newLifecycle() lifecycle {
	return lifecycle{active: atomic.NewBool(true)}
}

func (l lifecycle) IsActive() bool {
	return l.active.Load()
}

func (l lifecycle) Close() {
	l.active.Store(false)
}
