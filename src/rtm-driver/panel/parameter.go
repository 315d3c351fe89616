package panel

import (
	"github.com/rtm500/driver/src/rtm-driver/parameter"
	"github.com/rtm500/driver/src/rtm-driver/protocol"
)

// Parameter edits the controller parameters. It is also the router's
// parameter sink, so it never becomes inactive.
type Parameter struct {
	store *parameter.Store
	send  Send
	emit  Emit
}

func NewParameter(store *parameter.Store, send Send, emit Emit) *Parameter {
	return &Parameter{store: store, send: send, emit: emit}
}

func (panel *Parameter) Name() Name { return NameParameter }

// Open requests the current parameter set.
func (panel *Parameter) Open() error {
	return panel.send(protocol.ParameterQuery())
}

func (panel *Parameter) IsActive() bool { return true }

func (panel *Parameter) Close() {}

func (panel *Parameter) UpdateData(update protocol.Update) {
	values, ok := update.(protocol.ParameterValues)
	if !ok {
		return
	}
	panel.store.Absorb(values)
	panel.emit(ParametersEvent{
		Values:     panel.store.Entries(),
		Parameters: panel.store.Snapshot(),
	})
}

// Apply validates parameters and sends them as one bulk command.
func (panel *Parameter) Apply(parameters parameter.Parameters) error {
	if err := parameters.Validate(); err != nil {
		return err
	}
	command, err := parameters.Command()
	if err != nil {
		return err
	}
	return panel.send(command)
}

// Request asks the device for its parameters.
func (panel *Parameter) Request() error {
	return panel.send(protocol.ParameterQuery())
}

// Reset restores the firmware defaults and reads them back.
func (panel *Parameter) Reset() error {
	if err := panel.send(protocol.ParameterDefault()); err != nil {
		return err
	}
	return panel.Request()
}
