package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// FileOutput configures a rotating log file.
type FileOutput struct {
	Path      string
	MaxSizeMB int
	// Rotated files to keep
	MaxBackups int
}

// Attach writes all entries of logger to the rotating file in addition to
// the current output. The returned closer releases the file.
func (output FileOutput) Attach(logger *logrus.Logger) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(output.Path), 0o750); err != nil {
		return nil, err
	}

	maxBackups := output.MaxBackups
	if maxBackups == 0 {
		maxBackups = 2
	}
	file := &lumberjack.Logger{
		Filename:   output.Path,
		MaxSize:    output.MaxSizeMB,
		MaxBackups: maxBackups,
	}

	logger.SetOutput(io.MultiWriter(logger.Out, file))
	return file, nil
}

// ParseLevel is logrus.ParseLevel defaulting to info for an empty level.
func ParseLevel(level string) (logrus.Level, error) {
	if level == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(level)
}
