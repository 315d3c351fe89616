// Package config reads and writes the driver's INI configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/ini.v1"

	"github.com/rtm500/driver/src/rtm-driver/connection"
	"github.com/rtm500/driver/src/rtm-driver/router"
)

// USB selects the serial port of the controller.
type USB struct {
	Port     string `ini:"port" validate:"required"`
	BaudRate int    `ini:"baudrate" validate:"gt=0"`
}

// ADCToNA holds the constants converting tunnel currents to ADC digits.
type ADCToNA struct {
	Divider float64 `ini:"adc_voltage_divider" validate:"gt=0"`
	ADCMax  float64 `ini:"adc_value_max" validate:"gt=0"`
	VMax    float64 `ini:"adc_voltage_max" validate:"gt=0"`
}

type Tunnel struct {
	Counts int `ini:"tunnelcounts" validate:"gte=1"`
}

// Connection timing, in milliseconds.
type Connection struct {
	HandshakeTimeoutMs int `ini:"handshake_timeout_ms" validate:"gte=1"`
	WriteTimeoutMs     int `ini:"write_timeout_ms" validate:"gte=1"`
	PollIntervalMs     int `ini:"poll_interval_ms" validate:"gte=1"`
	JoinTimeoutMs      int `ini:"join_timeout_ms" validate:"gte=1"`
	MaxLineLength      int `ini:"max_line_length" validate:"gte=0"`
	ConnectAttempts    int `ini:"connect_attempts" validate:"gte=1"`
}

type Server struct {
	Host           string   `ini:"host" validate:"required"`
	Port           int      `ini:"port" validate:"gte=1,lte=65535"`
	Origins        []string `ini:"origins" delim:","`
	Advertise      bool     `ini:"advertise"`
	// Connect to the USB port when the driver starts
	ConnectOnStart bool     `ini:"connect_on_start"`
}

type Log struct {
	Level     string `ini:"level" validate:"oneof=panic fatal error warn warning info debug trace"`
	// Rotating log file, disabled if empty
	File      string `ini:"file"`
	MaxSizeMB int    `ini:"max_size_mb" validate:"gte=1"`
}

type Measure struct {
	Directory string `ini:"directory" validate:"required"`
}

// Config is the content of config.ini.
type Config struct {
	USB        USB        `ini:"USB"`
	ADCToNA    ADCToNA    `ini:"ADC_TO_NA"`
	Tunnel     Tunnel     `ini:"TUNNEL"`
	Connection Connection `ini:"CONNECTION"`
	Server     Server     `ini:"SERVER"`
	Log        Log        `ini:"LOG"`
	Measure    Measure    `ini:"MEASURE"`
}

// Default configuration, written when no file exists.
func Default() Config {
	options := connection.DefaultOptions()
	return Config{
		USB: USB{
			Port:     "COM3",
			BaudRate: connection.DefaultBaudRate,
		},
		ADCToNA: ADCToNA{
			Divider: 1000000.0,
			ADCMax:  65535.0,
			VMax:    3.3,
		},
		Tunnel: Tunnel{Counts: 100},
		Connection: Connection{
			HandshakeTimeoutMs: int(options.HandshakeTimeout / time.Millisecond),
			WriteTimeoutMs:     int(options.WriteTimeout / time.Millisecond),
			PollIntervalMs:     int(options.PollInterval / time.Millisecond),
			JoinTimeoutMs:      int(options.JoinTimeout / time.Millisecond),
			MaxLineLength:      options.MaxLineLength,
			ConnectAttempts:    3,
		},
		Server: Server{
			Host:           "127.0.0.1",
			Port:           8384,
			Origins:        []string{"http://localhost:8080", "http://127.0.0.1:8080"},
			Advertise:      false,
			ConnectOnStart: true,
		},
		Log: Log{
			Level:     "info",
			MaxSizeMB: 10,
		},
		Measure: Measure{
			Directory: "measurements",
		},
	}
}

// DefaultPath of config.ini in the user config directory.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "rtm-driver", "config.ini")
}

var validate = validator.New()

// Validate checks all sections.
func (config Config) Validate() error {
	err := validate.Struct(config)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("validation failed: %w", err)
	}
	var messages []string
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s: must satisfy %s %s, got %v", fieldErr.Namespace(), fieldErr.Tag(), fieldErr.Param(), fieldErr.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}

// Load reads the configuration at path. A missing file is created with the
// defaults. Options missing from the file keep their default value.
func Load(fs afero.Fs, path string) (Config, error) {
	config := Default()

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return config, err
	}
	if !exists {
		return config, Save(fs, path, config)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return config, fmt.Errorf("could not read configuration: %w", err)
	}
	file, err := ini.Load(data)
	if err != nil {
		return config, fmt.Errorf("could not parse %s: %w", path, err)
	}
	if err := file.StrictMapTo(&config); err != nil {
		return config, fmt.Errorf("could not map %s: %w", path, err)
	}
	return config, config.Validate()
}

// Save writes the configuration, creating the directory if needed.
func Save(fs afero.Fs, path string, config Config) error {
	file := ini.Empty()
	if err := file.ReflectFrom(&config); err != nil {
		return err
	}

	var buffer bytes.Buffer
	if _, err := file.WriteTo(&buffer); err != nil {
		return err
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create configuration directory: %w", err)
	}
	return afero.WriteFile(fs, path, buffer.Bytes(), 0o644)
}

// SetPort stores a new port selection in the file at path.
func SetPort(fs afero.Fs, path string, endpoint connection.Endpoint) error {
	config, err := Load(fs, path)
	if err != nil {
		return err
	}
	config.USB.Port = endpoint.Name
	if endpoint.BaudRate > 0 {
		config.USB.BaudRate = endpoint.BaudRate
	}
	return Save(fs, path, config)
}

// Endpoint configured in the USB section.
func (config Config) Endpoint() connection.Endpoint {
	return connection.Endpoint{Name: config.USB.Port, BaudRate: config.USB.BaudRate}
}

// Options configured in the CONNECTION section.
func (config Config) Options() connection.Options {
	ms := func(value int) time.Duration {
		return time.Duration(value) * time.Millisecond
	}
	return connection.Options{
		HandshakeTimeout: ms(config.Connection.HandshakeTimeoutMs),
		WriteTimeout:     ms(config.Connection.WriteTimeoutMs),
		PollInterval:     ms(config.Connection.PollIntervalMs),
		JoinTimeout:      ms(config.Connection.JoinTimeoutMs),
		MaxLineLength:    config.Connection.MaxLineLength,
	}
}

// Scale configured in the ADC_TO_NA section.
func (config Config) Scale() router.ADCScale {
	return router.ADCScale{
		Divider: config.ADCToNA.Divider,
		ADCMax:  config.ADCToNA.ADCMax,
		VMax:    config.ADCToNA.VMax,
	}
}
