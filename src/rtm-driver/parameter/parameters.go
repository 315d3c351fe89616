package parameter

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"

	"github.com/rtm500/driver/src/rtm-driver/protocol"
)

// Parameters is the complete controller parameter set.
type Parameters struct {
	KP            float64 `json:"kP"`
	KI            float64 `json:"kI"`
	KD            float64 `json:"kD"`
	TargetNa      float64 `json:"targetNa" validate:"gte=0"`
	ToleranceNa   float64 `json:"toleranceNa" validate:"gte=0"`
	StartX        int     `json:"startX" validate:"gte=0,lte=65535"`
	StartY        int     `json:"startY" validate:"gte=0,lte=65535"`
	MeasureMs     int     `json:"measureMs" validate:"gte=1,lte=10"`
	Direction     int     `json:"direction" validate:"oneof=0 1"`
	MaxX          int     `json:"maxX" validate:"gte=1,lte=199"`
	MaxY          int     `json:"maxY" validate:"gte=1,lte=199"`
	Multiplicator int     `json:"multiplicator" validate:"gte=1"`
}

// Defaults used until the device reports its parameters.
func Defaults() Parameters {
	return Parameters{
		KP:            1,
		KI:            0,
		KD:            0,
		TargetNa:      1,
		ToleranceNa:   0.2,
		StartX:        0,
		StartY:        0,
		MeasureMs:     1,
		Direction:     0,
		MaxX:          199,
		MaxY:          199,
		Multiplicator: 1,
	}
}

var validate = validator.New()

// Validate checks the ranges accepted by the parameter editor.
func (parameters Parameters) Validate() error {
	err := validate.Struct(parameters)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("validation failed: %w", err)
	}
	var messages []string
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s: must satisfy %s=%s, got %v", fieldErr.Field(), fieldErr.Tag(), fieldErr.Param(), fieldErr.Value()))
	}
	return fmt.Errorf("invalid parameters: %s", strings.Join(messages, "; "))
}

// Values formats the parameters in protocol.ParameterKeys order.
func (parameters Parameters) Values() []string {
	float := func(value float64) string {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	return []string{
		float(parameters.KP),
		float(parameters.KI),
		float(parameters.KD),
		float(parameters.TargetNa),
		float(parameters.ToleranceNa),
		strconv.Itoa(parameters.StartX),
		strconv.Itoa(parameters.StartY),
		strconv.Itoa(parameters.MeasureMs),
		strconv.Itoa(parameters.Direction),
		strconv.Itoa(parameters.MaxX),
		strconv.Itoa(parameters.MaxY),
		strconv.Itoa(parameters.Multiplicator),
	}
}

// Command builds the bulk PARAMETER command.
func (parameters Parameters) Command() (string, error) {
	return protocol.ParameterBulk(parameters.Values())
}

// DefaultPath of the parameter file in the user config directory.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "rtm-driver", "parameters.json")
}

// Load reads parameters from a JSON file. Keys missing from the file keep
// their default value.
func Load(fs afero.Fs, path string) (Parameters, error) {
	parameters := Defaults()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return parameters, fmt.Errorf("could not read parameters: %w", err)
	}
	if err := json.Unmarshal(data, &parameters); err != nil {
		return parameters, fmt.Errorf("could not parse parameters in %s: %w", path, err)
	}
	return parameters, nil
}

// Save writes parameters as JSON, creating the directory if needed.
func Save(fs afero.Fs, path string, parameters Parameters) error {
	data, err := json.MarshalIndent(parameters, "", "  ")
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create parameter directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, os.FileMode(0o644)); err != nil {
		return fmt.Errorf("could not write parameters: %w", err)
	}
	return nil
}
