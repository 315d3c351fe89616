package panel

import (
	"sync"

	"github.com/rtm500/driver/src/rtm-driver/protocol"
)

// Adjust shows the live DAC/ADC reading and positions the tip.
type Adjust struct {
	lifecycle

	send Send
	emit Emit

	mutex   sync.Mutex
	latest  protocol.AdjustReading
	hasData bool
}

func NewAdjust(send Send, emit Emit) *Adjust {
	return &Adjust{
		lifecycle: newLifecycle(),
		send:      send,
		emit:      emit,
	}
}

func (adjust *Adjust) Name() Name { return NameAdjust }

func (adjust *Adjust) Open() error {
	return adjust.send(protocol.Adjust())
}

func (adjust *Adjust) UpdateData(update protocol.Update) {
	if !adjust.IsActive() {
		return
	}
	reading, ok := update.(protocol.AdjustReading)
	if !ok {
		return
	}

	adjust.mutex.Lock()
	adjust.latest = reading
	adjust.hasData = true
	adjust.mutex.Unlock()

	adjust.emit(AdjustEvent{AdjustReading: reading})
}

// Latest returns the last reading, if any.
func (adjust *Adjust) Latest() (protocol.AdjustReading, bool) {
	adjust.mutex.Lock()
	defer adjust.mutex.Unlock()
	return adjust.latest, adjust.hasData
}

// SetTip moves the tip to (x, y, z).
func (adjust *Adjust) SetTip(x, y, z int) error {
	command, err := protocol.Tip(x, y, z)
	if err != nil {
		return err
	}
	return adjust.send(command)
}
