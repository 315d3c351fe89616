package panel

import (
	"github.com/rtm500/driver/src/rtm-driver/measurement"
	"github.com/rtm500/driver/src/rtm-driver/parameter"
	"github.com/rtm500/driver/src/rtm-driver/protocol"
	"github.com/rtm500/driver/src/rtm-driver/router"
)

// AdjustEvent carries the latest ADJUST reading.
type AdjustEvent struct {
	protocol.AdjustReading
}

// ParametersEvent carries all parameters known after a PARAMETER message.
type ParametersEvent struct {
	Values     []protocol.KeyValue  `json:"values"`
	Parameters parameter.Parameters `json:"parameters"`
}

// TunnelEvent is one tunnel sample with the current bounds.
type TunnelEvent struct {
	Active     bool              `json:"active"`
	ADC        int               `json:"adc"`
	Z          int               `json:"z"`
	Nanoamps   float64           `json:"nanoamps"`
	Thresholds router.Thresholds `json:"thresholds"`
}

// TunnelDoneEvent ends a tunnel run.
type TunnelDoneEvent struct {
	Samples int `json:"samples"`
}

// Bounds of a raster measurement.
type Bounds struct {
	StartX int `json:"startX"`
	StartY int `json:"startY"`
	MaxX   int `json:"maxX"`
	MaxY   int `json:"maxY"`
}

// MeasureStartedEvent announces a new raster measurement.
type MeasureStartedEvent struct {
	Path   string `json:"path"`
	Bounds Bounds `json:"bounds"`
}

// RasterEvent is one raster sample.
type RasterEvent struct {
	measurement.Sample
}

// RasterRowEvent signals that row Y is complete and can be redrawn.
type RasterRowEvent struct {
	Y int `json:"y"`
}

// RasterDoneEvent ends a raster measurement.
type RasterDoneEvent struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
}
