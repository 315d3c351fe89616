package panel

import (
	"sync"

	"github.com/rtm500/driver/src/rtm-driver/protocol"
	"github.com/rtm500/driver/src/rtm-driver/router"
)

// DefaultTunnelCounts is the number of samples requested per tunnel run.
const DefaultTunnelCounts = 100

// Tunnel monitors the tunnel current.
type Tunnel struct {
	lifecycle

	send       Send
	emit       Emit
	thresholds func() router.Thresholds
	scale      router.ADCScale
	counts     int
	simulate   bool

	mutex   sync.Mutex
	history []TunnelEvent
}

func NewTunnel(send Send, emit Emit, thresholds func() router.Thresholds, scale router.ADCScale, counts int, simulate bool) *Tunnel {
	if counts < 1 {
		counts = DefaultTunnelCounts
	}
	return &Tunnel{
		lifecycle:  newLifecycle(),
		send:       send,
		emit:       emit,
		thresholds: thresholds,
		scale:      scale,
		counts:     counts,
		simulate:   simulate,
	}
}

func (tunnel *Tunnel) Name() Name { return NameTunnel }

func (tunnel *Tunnel) Open() error {
	command, err := protocol.Tunnel(tunnel.counts, tunnel.simulate)
	if err != nil {
		return err
	}
	return tunnel.send(command)
}

func (tunnel *Tunnel) UpdateData(update protocol.Update) {
	if !tunnel.IsActive() {
		return
	}

	switch update := update.(type) {
	case protocol.TunnelSample:
		event := TunnelEvent{
			Active:     update.Active,
			ADC:        update.ADC,
			Z:          update.Z,
			Nanoamps:   protocol.Nanoamps(update.ADC, tunnel.scale.Divider, tunnel.scale.ADCMax, tunnel.scale.VMax),
			Thresholds: tunnel.thresholds(),
		}

		tunnel.mutex.Lock()
		tunnel.history = append(tunnel.history, event)
		if len(tunnel.history) > tunnel.counts {
			tunnel.history = tunnel.history[len(tunnel.history)-tunnel.counts:]
		}
		tunnel.mutex.Unlock()

		tunnel.emit(event)

	case protocol.TunnelDone:
		tunnel.mutex.Lock()
		samples := len(tunnel.history)
		tunnel.mutex.Unlock()

		tunnel.emit(TunnelDoneEvent{Samples: samples})
		tunnel.Close()
	}
}

// History returns the most recent samples, oldest first.
func (tunnel *Tunnel) History() []TunnelEvent {
	tunnel.mutex.Lock()
	defer tunnel.mutex.Unlock()
	return append([]TunnelEvent(nil), tunnel.history...)
}
