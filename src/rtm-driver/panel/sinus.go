package panel

import "github.com/rtm500/driver/src/rtm-driver/protocol"

// Sinus runs the sinusoidal excitation test. It has no live data.
type Sinus struct {
	lifecycle
	send Send
}

func NewSinus(send Send) *Sinus {
	return &Sinus{lifecycle: newLifecycle(), send: send}
}

func (sinus *Sinus) Name() Name { return NameSinus }

func (sinus *Sinus) Open() error {
	return sinus.send(protocol.Sinus())
}

func (sinus *Sinus) UpdateData(protocol.Update) {}
