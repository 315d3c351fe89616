// Package mock_rtm simulates the microscope controller behind a serial port.
package mock_rtm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rtm500/driver/src/rtm-driver/protocol"
)

// ErrClosed is returned by reads and writes after Close.
var ErrClosed = errors.New("simulated port closed")

// Config of the simulated controller.
type Config struct {
	// Raster size of a measurement, 8x8 if zero
	Width  int
	Height int
	// Pause between streamed lines
	LineDelay time.Duration
	// Number of readings sent after ADJUST, 5 if zero
	AdjustReadings int
}

// Device implements connection.Port.
type Device struct {
	config Config

	mutex       sync.Mutex
	output      []byte
	input       []byte
	readTimeout time.Duration
	closed      bool
	parameters  []string
	tip         [3]int

	ready chan struct{}
	done  chan struct{}

	cancelActivity context.CancelFunc
	activity       sync.WaitGroup
}

func defaultParameters() []string {
	return []string{"1", "0", "0", "1", "0.2", "0", "0", "1", "0", "199", "199", "1"}
}

func New(config Config) *Device {
	if config.Width < 1 {
		config.Width = 8
	}
	if config.Height < 1 {
		config.Height = 8
	}
	if config.AdjustReadings < 1 {
		config.AdjustReadings = 5
	}
	return &Device{
		config:      config,
		parameters:  defaultParameters(),
		readTimeout: -1,
		ready:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Read returns pending output. It returns (0, nil) when the read timeout
// elapses first.
func (device *Device) Read(p []byte) (int, error) {
	device.mutex.Lock()
	timeout := device.readTimeout
	device.mutex.Unlock()

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		device.mutex.Lock()
		if device.closed {
			device.mutex.Unlock()
			return 0, ErrClosed
		}
		if len(device.output) > 0 {
			n := copy(p, device.output)
			device.output = device.output[n:]
			if len(device.output) > 0 {
				device.signal()
			}
			device.mutex.Unlock()
			return n, nil
		}
		device.mutex.Unlock()

		select {
		case <-device.ready:
		case <-device.done:
		case <-expired:
			return 0, nil
		}
	}
}

// Write takes command lines terminated by a newline.
func (device *Device) Write(p []byte) (int, error) {
	device.mutex.Lock()
	if device.closed {
		device.mutex.Unlock()
		return 0, ErrClosed
	}
	device.input = append(device.input, p...)
	var commands []string
	for {
		i := bytes.IndexByte(device.input, '\n')
		if i < 0 {
			break
		}
		commands = append(commands, strings.TrimSpace(string(device.input[:i])))
		device.input = device.input[i+1:]
	}
	device.mutex.Unlock()

	for _, command := range commands {
		if command != "" {
			device.handle(command)
		}
	}
	return len(p), nil
}

// SetReadTimeout sets the read timeout. A negative value blocks forever.
func (device *Device) SetReadTimeout(t time.Duration) error {
	device.mutex.Lock()
	defer device.mutex.Unlock()
	device.readTimeout = t
	return nil
}

func (device *Device) Close() error {
	device.mutex.Lock()
	if device.closed {
		device.mutex.Unlock()
		return nil
	}
	device.closed = true
	close(device.done)
	device.mutex.Unlock()

	device.stopActivity()
	return nil
}

// Parameters returns the current parameter values in protocol.ParameterKeys order.
func (device *Device) Parameters() []string {
	device.mutex.Lock()
	defer device.mutex.Unlock()
	return append([]string(nil), device.parameters...)
}

// signal wakes a blocked reader. Must be called with mutex held.
func (device *Device) signal() {
	select {
	case device.ready <- struct{}{}:
	default:
	}
}

func (device *Device) emit(lines ...string) {
	device.mutex.Lock()
	defer device.mutex.Unlock()
	if device.closed {
		return
	}
	for _, line := range lines {
		device.output = append(device.output, line...)
		device.output = append(device.output, '\n')
	}
	device.signal()
}

func (device *Device) handle(command string) {
	fields := strings.Split(command, ",")

	switch protocol.Verb(command) {
	case protocol.CmdStop:
		device.stopActivity()
		device.emit("IDLE")

	case protocol.CmdRestart:
		device.stopActivity()
		device.mutex.Lock()
		device.parameters = defaultParameters()
		device.mutex.Unlock()
		device.emit("IDLE")

	case protocol.CmdParameter:
		device.parameter(fields[1:])

	case protocol.CmdAdjust:
		device.startActivity(device.adjust)

	case protocol.CmdTip:
		device.setTip(fields[1:])

	case protocol.CmdMeasure:
		device.startActivity(device.measure)

	case protocol.CmdTunnel:
		count := 100
		if len(fields) > 1 {
			fmt.Sscanf(fields[1], "%d", &count)
		}
		device.startActivity(func(ctx context.Context) { device.tunnel(ctx, count) })

	case protocol.CmdSinus:
		device.startActivity(func(ctx context.Context) {})

	default:
		device.emit("UNKNOWN," + command)
	}
}

func (device *Device) parameter(args []string) {
	device.mutex.Lock()
	switch {
	case len(args) == 1 && args[0] == "?":
	case len(args) == 1 && args[0] == "DEFAULT":
		device.parameters = defaultParameters()
	case len(args) == len(protocol.ParameterKeys):
		device.parameters = append([]string(nil), args...)
	case len(args) == 2:
		for i, key := range protocol.ParameterKeys {
			if key == args[0] {
				device.parameters[i] = args[1]
			}
		}
	}
	reply := []string{protocol.CmdParameter}
	for i, key := range protocol.ParameterKeys {
		reply = append(reply, key, device.parameters[i])
	}
	device.mutex.Unlock()

	device.emit(strings.Join(reply, ","))
}

func (device *Device) setTip(args []string) {
	if len(args) != 3 {
		return
	}
	device.mutex.Lock()
	for i := range device.tip {
		fmt.Sscanf(args[i], "%d", &device.tip[i])
	}
	device.mutex.Unlock()
	device.emit(device.adjustReading(0))
}

// startActivity stops the running activity and starts run in its place.
func (device *Device) startActivity(run func(ctx context.Context)) {
	device.stopActivity()

	ctx, cancel := context.WithCancel(context.Background())
	device.mutex.Lock()
	device.cancelActivity = cancel
	device.mutex.Unlock()

	device.activity.Add(1)
	go func() {
		defer device.activity.Done()
		run(ctx)
	}()
}

func (device *Device) stopActivity() {
	device.mutex.Lock()
	cancel := device.cancelActivity
	device.cancelActivity = nil
	device.mutex.Unlock()

	if cancel != nil {
		cancel()
	}
	device.activity.Wait()
}

// pause waits LineDelay and reports whether the activity may continue.
func (device *Device) pause(ctx context.Context) bool {
	if device.config.LineDelay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(device.config.LineDelay):
		return true
	}
}

func (device *Device) adjustReading(step int) string {
	device.mutex.Lock()
	z := device.tip[2]
	device.mutex.Unlock()
	voltage := 1.65 + 0.1*math.Sin(float64(step)/3)
	current := z / 1000
	return fmt.Sprintf("ADJUST,%.3f,%d,%d", voltage, current, 29+step)
}

func (device *Device) adjust(ctx context.Context) {
	for step := 0; step < device.config.AdjustReadings; step++ {
		if !device.pause(ctx) {
			return
		}
		device.emit(device.adjustReading(step))
	}
}

func (device *Device) tunnel(ctx context.Context, count int) {
	for i := 0; i < count; i++ {
		if !device.pause(ctx) {
			return
		}
		// approach with a signed current, crossing zero half way
		adc := int16(40 * (i - count/2))
		active := 0
		if i < count-1 {
			active = 1
		}
		device.emit(fmt.Sprintf("TUNNEL,%d,%d,%d", active, uint16(adc), 30000+i))
	}
	device.emit("TUNNEL,DONE", "IDLE")
}

func (device *Device) measure(ctx context.Context) {
	for y := 0; y < device.config.Height; y++ {
		for x := 0; x < device.config.Width; x++ {
			if !device.pause(ctx) {
				return
			}
			z := int(1000 * math.Sin(float64(x)/2) * math.Cos(float64(y)/2))
			device.emit(fmt.Sprintf("DATA,%d,%d,%d", x, y, z))
		}
	}
	device.emit("DATA,DONE", "IDLE")
}
