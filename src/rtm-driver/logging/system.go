package logging

import (
	"fmt"

	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
)

var infoAndAbove = []logrus.Level{
	logrus.PanicLevel,
	logrus.FatalLevel,
	logrus.ErrorLevel,
	logrus.WarnLevel,
	logrus.InfoLevel,
}

// Fields set once per process by the server, left out of system log entries.
var processFields = map[string]bool{
	"version":   true,
	"machineId": true,
	"os":        true,
	"arch":      true,
}

// SystemHook forwards entries to the service manager's log (journald, the
// Windows event log) when the driver runs as a service. Messages are
// prefixed with their package, e.g. "rtm: Device is idle."
type SystemHook struct {
	logger    service.Logger
	formatter *logrus.TextFormatter
}

func NewSystemHook(systemLogger service.Logger) *SystemHook {
	return &SystemHook{
		logger:    systemLogger,
		formatter: &logrus.TextFormatter{DisableTimestamp: true, DisableColors: true},
	}
}

// condense returns a copy of entry without process fields, with the package
// moved into the message.
func condense(entry *logrus.Entry) *logrus.Entry {
	fields := logrus.Fields{}
	message := entry.Message
	for key, value := range entry.Data {
		switch {
		case key == "package":
			message = fmt.Sprintf("%v: %s", value, message)
		case !processFields[key]:
			fields[key] = value
		}
	}

	condensed := logrus.NewEntry(entry.Logger).WithFields(fields)
	condensed.Time = entry.Time
	condensed.Level = entry.Level
	condensed.Message = message
	return condensed
}

func (hook SystemHook) Fire(entry *logrus.Entry) error {
	bytes, err := hook.formatter.Format(condense(entry))
	if err != nil {
		return err
	}
	line := string(bytes)

	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return hook.logger.Error(line)
	case logrus.WarnLevel:
		return hook.logger.Warning(line)
	case logrus.InfoLevel:
		return hook.logger.Info(line)
	default:
		return nil
	}
}

func (hook SystemHook) Levels() []logrus.Level {
	return infoAndAbove
}
