package rtm

import (
	"errors"

	"github.com/rtm500/driver/src/rtm-driver/connection"
	"github.com/rtm500/driver/src/rtm-driver/panel"
	"github.com/rtm500/driver/src/rtm-driver/parameter"
	"github.com/rtm500/driver/src/rtm-driver/protocol"
)

// ErrNoAdjustPanel is returned by SetTip while the Adjust panel is not current.
var ErrNoAdjustPanel = errors.New("adjust panel is not open")

func (handle *Handle) newPanel(name panel.Name, simulate bool) panel.Panel {
	switch name {
	case panel.NameMeasure:
		return panel.NewMeasure(handle.log.WithField("panel", name), handle.Send, handle.emit, handle.recorder, handle.store, simulate)
	case panel.NameAdjust:
		return panel.NewAdjust(handle.Send, handle.emit)
	case panel.NameTunnel:
		return panel.NewTunnel(handle.Send, handle.emit, handle.router.Thresholds, handle.config.Scale, handle.config.TunnelCounts, simulate)
	case panel.NameSinus:
		return panel.NewSinus(handle.Send)
	default:
		return handle.parameterPanel
	}
}

// OpenPanel makes a panel current and starts its device activity. A
// previously current panel is closed first.
func (handle *Handle) OpenPanel(name panel.Name, simulate bool) error {
	if handle.connection() == nil {
		handle.terminal("Not connected to any device.")
		return connection.ErrNotConnected
	}

	next := handle.newPanel(name, simulate)

	handle.mutex.Lock()
	previous := handle.current
	handle.current = next
	handle.mutex.Unlock()

	if previous != nil {
		previous.Close()
	}
	handle.router.SetPanel(next)

	if err := next.Open(); err != nil {
		handle.log.WithError(err).WithField("panel", name).Warn("Could not open panel.")
		handle.dropPanel(next)
		handle.publishStatus()
		return err
	}

	handle.log.WithField("panel", name).Info("Opened panel.")
	handle.publishStatus()
	return nil
}

// ClosePanel returns to the main menu and stops any device activity.
func (handle *Handle) ClosePanel() error {
	handle.mutex.RLock()
	current := handle.current
	handle.mutex.RUnlock()

	if current != nil {
		current.Close()
		handle.dropPanel(current)
	}

	var err error
	if handle.connection() != nil {
		err = handle.Send(protocol.Stop())
	}
	handle.publishStatus()
	return err
}

// dropPanel clears the current panel if it still is p.
func (handle *Handle) dropPanel(p panel.Panel) {
	handle.mutex.Lock()
	if handle.current == p {
		handle.current = nil
	}
	handle.mutex.Unlock()

	if handle.router.CurrentPanel() == p {
		handle.router.SetPanel(nil)
	}
}

// CurrentPanel returns the open panel or nil.
func (handle *Handle) CurrentPanel() panel.Panel {
	handle.mutex.RLock()
	defer handle.mutex.RUnlock()
	return handle.current
}

// SetTip moves the tip. Only available on the Adjust panel.
func (handle *Handle) SetTip(x, y, z int) error {
	adjust, ok := handle.CurrentPanel().(*panel.Adjust)
	if !ok {
		return ErrNoAdjustPanel
	}
	return adjust.SetTip(x, y, z)
}

// SetParameters validates and sends a complete parameter set.
func (handle *Handle) SetParameters(parameters parameter.Parameters) error {
	return handle.parameterPanel.Apply(parameters)
}

// RequestParameters asks the controller for its parameters.
func (handle *Handle) RequestParameters() error {
	return handle.parameterPanel.Request()
}

// DefaultParameters restores the firmware defaults.
func (handle *Handle) DefaultParameters() error {
	return handle.parameterPanel.Reset()
}

// SaveParameters writes the last known parameters to path, or to the
// configured file if path is empty.
func (handle *Handle) SaveParameters(path string) (string, error) {
	if path == "" {
		path = handle.config.ParameterPath
	}
	if err := parameter.Save(handle.config.Fs, path, handle.store.Snapshot()); err != nil {
		return path, err
	}
	handle.log.WithField("path", path).Info("Saved parameters.")
	return path, nil
}

// LoadParameters reads a parameter file, publishes its values and sends
// them to the controller.
func (handle *Handle) LoadParameters(path string) (parameter.Parameters, error) {
	if path == "" {
		path = handle.config.ParameterPath
	}
	parameters, err := parameter.Load(handle.config.Fs, path)
	if err != nil {
		return parameters, err
	}
	if err := parameters.Validate(); err != nil {
		return parameters, err
	}

	values := make([]protocol.KeyValue, 0, len(protocol.ParameterKeys))
	for i, value := range parameters.Values() {
		values = append(values, protocol.KeyValue{Key: protocol.ParameterKeys[i], Value: value})
	}
	handle.emit(panel.ParametersEvent{Values: values, Parameters: parameters})

	return parameters, handle.SetParameters(parameters)
}

// ListPorts returns the available serial ports followed by the simulated
// controller.
func (handle *Handle) ListPorts() ([]string, error) {
	ports, err := handle.config.ListPorts()
	if err != nil {
		handle.log.WithError(err).Warn("Could not list serial ports.")
	}
	return append(ports, connection.SimulatedPort), err
}
