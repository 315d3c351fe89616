package router

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rtm500/driver/src/rtm-driver/protocol"
)

// Panel receives decoded device updates.
type Panel interface {
	UpdateData(update protocol.Update)
}

// Panels that can be closed report it, and are skipped while inactive.
type activePanel interface {
	IsActive() bool
}

// IdleNotifier is told when the device reports IDLE.
type IdleNotifier interface {
	MarkIdle()
}

// ADCScale converts tunnel currents to ADC digits (the ADC_TO_NA config section).
type ADCScale struct {
	Divider float64
	ADCMax  float64
	VMax    float64
}

// Thresholds are the Tunnel panel bounds in ADC digits.
type Thresholds struct {
	TargetADC    int  `json:"targetAdc"`
	ToleranceADC int  `json:"toleranceAdc"`
	HasTarget    bool `json:"hasTarget"`
	HasTolerance bool `json:"hasTolerance"`
}

// Router splits dispatched batches into messages and hands each to the
// current panel or the parameter sink.
type Router struct {
	log      *logrus.Entry
	idle     IdleNotifier
	terminal func(string)
	scale    ADCScale

	mutex      sync.RWMutex
	panel      Panel
	parameters Panel
	thresholds Thresholds
}

// New returns a router without panels. terminal may be nil.
func New(log *logrus.Entry, scale ADCScale, idle IdleNotifier, terminal func(string)) *Router {
	if terminal == nil {
		terminal = func(string) {}
	}
	return &Router{
		log:      log,
		idle:     idle,
		terminal: terminal,
		scale:    scale,
	}
}

// SetPanel replaces the current panel. nil returns to the main menu.
func (router *Router) SetPanel(panel Panel) {
	router.mutex.Lock()
	defer router.mutex.Unlock()
	router.panel = panel
}

// CurrentPanel returns the current panel or nil.
func (router *Router) CurrentPanel() Panel {
	router.mutex.RLock()
	defer router.mutex.RUnlock()
	return router.panel
}

// SetParameterSink sets the panel that absorbs PARAMETER values, whether or
// not it is the current panel.
func (router *Router) SetParameterSink(sink Panel) {
	router.mutex.Lock()
	defer router.mutex.Unlock()
	router.parameters = sink
}

// Thresholds returns the cached tunnel bounds.
func (router *Router) Thresholds() Thresholds {
	router.mutex.RLock()
	defer router.mutex.RUnlock()
	return router.thresholds
}

// Route handles a newline-joined batch of lines in order.
func (router *Router) Route(buffer string) {
	for _, line := range strings.Split(buffer, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		router.routeLine(line)
	}
}

func (router *Router) routeLine(line string) {
	message := protocol.ParseMessage(line)

	switch message.Type {
	case protocol.TypeIdle:
		router.terminal(line)
		if router.idle != nil {
			router.idle.MarkIdle()
		}

	case protocol.TypeAdjust:
		router.terminal(line)
		reading, err := protocol.ParseAdjust(message)
		if err != nil {
			router.drop(err)
			return
		}
		router.deliver(router.CurrentPanel(), reading)

	case protocol.TypeParameter:
		router.terminal(line)
		values, err := protocol.ParseParameters(message)
		if err != nil {
			router.drop(err)
			return
		}
		router.updateThresholds(values)
		router.mutex.RLock()
		sink := router.parameters
		router.mutex.RUnlock()
		router.deliver(sink, values)

	case protocol.TypeTunnel:
		router.terminal(line)
		update, err := protocol.ParseTunnel(message)
		if err != nil {
			router.drop(err)
			return
		}
		router.deliver(router.CurrentPanel(), update)

	case protocol.TypeData:
		update, err := protocol.ParseRaster(message)
		if err != nil {
			router.terminal(fmt.Sprintf("Error measure: %s, \nError: %v", line, err))
			router.drop(err)
			return
		}
		switch sample := update.(type) {
		case protocol.RasterDone:
			router.terminal("Measurement complete.")
		case protocol.RasterSample:
			if sample.RowStart {
				router.terminal(fmt.Sprintf("Processing Y %d", sample.Y))
			}
		}
		router.deliver(router.CurrentPanel(), update)

	default:
		// FIND and unknown messages are log-only
		router.terminal(line)
		router.log.WithField("message", line).Debug("Unhandled message.")
	}
}

func (router *Router) drop(err error) {
	router.log.WithError(err).Warn("Dropping malformed message.")
}

// deliver calls the panel unless it is absent or inactive. A panicking panel
// does not stop routing of the following lines.
func (router *Router) deliver(panel Panel, update protocol.Update) {
	if panel == nil {
		return
	}
	if active, ok := panel.(activePanel); ok && !active.IsActive() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			router.log.WithField("panic", r).WithField("type", update.MessageType()).Error("Panel panicked on update.")
		}
	}()
	panel.UpdateData(update)
}

func (router *Router) updateThresholds(values protocol.ParameterValues) {
	for _, value := range values.Values {
		if value.Key != "targetNa" && value.Key != "toleranceNa" {
			continue
		}

		adc, err := router.adcValue(value.Value)
		if err != nil {
			router.log.WithError(err).WithField("key", value.Key).Warn("Could not derive ADC threshold, keeping previous value.")
			continue
		}

		router.mutex.Lock()
		if value.Key == "targetNa" {
			router.thresholds.TargetADC = adc
			router.thresholds.HasTarget = true
		} else {
			router.thresholds.ToleranceADC = adc
			router.thresholds.HasTolerance = true
		}
		router.mutex.Unlock()
	}
}

func (router *Router) adcValue(text string) (int, error) {
	nA, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	return protocol.ADCValue(nA, router.scale.Divider, router.scale.ADCMax, router.scale.VMax)
}
