package panel

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rtm500/driver/src/rtm-driver/measurement"
	"github.com/rtm500/driver/src/rtm-driver/parameter"
	"github.com/rtm500/driver/src/rtm-driver/protocol"
)

// Measure records a raster measurement.
type Measure struct {
	lifecycle

	log      *logrus.Entry
	send     Send
	emit     Emit
	recorder *measurement.Recorder
	store    *parameter.Store
	simulate bool

	mutex   sync.Mutex
	bounds  Bounds
	lastY   int
	hasLast bool
}

func NewMeasure(log *logrus.Entry, send Send, emit Emit, recorder *measurement.Recorder, store *parameter.Store, simulate bool) *Measure {
	return &Measure{
		lifecycle: newLifecycle(),
		log:       log.WithField("panel", NameMeasure),
		send:      send,
		emit:      emit,
		recorder:  recorder,
		store:     store,
		simulate:  simulate,
	}
}

func (measure *Measure) Name() Name { return NameMeasure }

// Open creates the measurement file and starts the measurement.
func (measure *Measure) Open() error {
	path, err := measure.recorder.Start()
	if err != nil {
		return err
	}

	measure.mutex.Lock()
	measure.bounds = measure.readBounds()
	measure.hasLast = false
	bounds := measure.bounds
	measure.mutex.Unlock()

	measure.log.WithField("path", path).Info("Recording measurement.")
	measure.emit(MeasureStartedEvent{Path: path, Bounds: bounds})

	return measure.send(protocol.Measure(measure.simulate))
}

func (measure *Measure) readBounds() Bounds {
	return Bounds{
		StartX: measure.store.Int("startX", 0),
		StartY: measure.store.Int("startY", 0),
		MaxX:   measure.store.Int("maxX", 200),
		MaxY:   measure.store.Int("maxY", 200),
	}
}

// Bounds of the running measurement.
func (measure *Measure) Bounds() Bounds {
	measure.mutex.Lock()
	defer measure.mutex.Unlock()
	return measure.bounds
}

func (measure *Measure) UpdateData(update protocol.Update) {
	if !measure.IsActive() {
		return
	}

	switch update := update.(type) {
	case protocol.RasterSample:
		measure.addSample(update)
	case protocol.RasterDone:
		measure.finish()
	}
}

func (measure *Measure) addSample(raster protocol.RasterSample) {
	sample := measurement.Sample{X: raster.X, Y: raster.Y, Z: raster.Z}
	if err := measure.recorder.Append(sample); err != nil {
		measure.log.WithError(err).Warn("Could not write measurement sample.")
	}

	measure.mutex.Lock()
	previousY, hadPrevious := measure.lastY, measure.hasLast
	measure.lastY = raster.Y
	measure.hasLast = true
	// Parameters may arrive after the measurement started
	measure.bounds = measure.readBounds()
	measure.mutex.Unlock()

	if hadPrevious && previousY != raster.Y {
		measure.emit(RasterRowEvent{Y: previousY})
	}
	measure.emit(RasterEvent{Sample: sample})
}

func (measure *Measure) finish() {
	rows, err := measure.recorder.Finish()
	if err != nil {
		measure.log.WithError(err).Warn("Could not finish measurement file.")
	}

	measure.mutex.Lock()
	lastY, hasLast := measure.lastY, measure.hasLast
	measure.mutex.Unlock()

	if hasLast {
		measure.emit(RasterRowEvent{Y: lastY})
	}

	measure.log.WithField("rows", rows).Info("Measurement complete.")
	measure.emit(RasterDoneEvent{Path: measure.recorder.Path(), Rows: rows})
	measure.lifecycle.Close()
}

// Close stops recording. The device is stopped by the caller.
func (measure *Measure) Close() {
	if !measure.IsActive() {
		return
	}
	measure.lifecycle.Close()
	if measure.recorder.Recording() {
		if _, err := measure.recorder.Finish(); err != nil {
			measure.log.WithError(err).Warn("Could not finish measurement file.")
		}
	}
}
